package outbox

import (
	"encoding/json"
	"fmt"
)

const (
	TopicAvailabilityCreated = "availability.created.v1"
	TopicAvailabilityUpdated = "availability.updated.v1"
	TopicAvailabilityDeleted = "availability.deleted.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
}

// NewEvent marshals payload into a new envelope.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}

package outbox

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if got := SplitBrokers(""); len(got) != 0 {
		t.Fatalf("expected no brokers, got %v", got)
	}
}

func TestBuildMessageKeysByAggregateAndCarriesHeaders(t *testing.T) {
	msg := buildMessage(context.Background(), Record{
		ID:            7,
		EventID:       "b7a1f2a4-9f5e-4a53-9a55-0f1f3c1d2e3f",
		AggregateType: "availability",
		AggregateID:   "window-1",
		EventType:     TopicAvailabilityCreated,
		Payload:       []byte(`{"x":1}`),
	})

	if msg.Topic != TopicAvailabilityCreated {
		t.Fatalf("expected topic %s, got %s", TopicAvailabilityCreated, msg.Topic)
	}
	if string(msg.Key) != "window-1" {
		t.Fatalf("expected key window-1, got %s", msg.Key)
	}
	want := map[string]string{
		"event_id":       "b7a1f2a4-9f5e-4a53-9a55-0f1f3c1d2e3f",
		"event_type":     TopicAvailabilityCreated,
		"aggregate_type": "availability",
	}
	for _, h := range msg.Headers {
		if v, ok := want[h.Key]; ok && v != string(h.Value) {
			t.Fatalf("header %s: expected %s, got %s", h.Key, v, h.Value)
		}
		delete(want, h.Key)
	}
	if len(want) != 0 {
		t.Fatalf("missing headers: %v", want)
	}
}

func TestTraceContextSurvivesOutbox(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	ev := WithTrace(ctx, Event{EventType: TopicAvailabilityDeleted})
	if ev.Traceparent == "" {
		t.Fatal("expected traceparent to be captured")
	}

	msg := buildMessage(context.Background(), Record{EventType: ev.EventType, Traceparent: ev.Traceparent})
	var found bool
	for _, h := range msg.Headers {
		if h.Key == "traceparent" {
			found = true
			if string(h.Value) != ev.Traceparent {
				t.Fatalf("expected traceparent %s, got %s", ev.Traceparent, h.Value)
			}
		}
	}
	if !found {
		t.Fatal("expected traceparent header on kafka message")
	}
}

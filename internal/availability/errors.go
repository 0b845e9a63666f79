package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/calendar"
)

var (
	ErrInvalidTimeRange         = errors.New("start time must be before end time")
	ErrInvalidTimezone          = calendar.ErrInvalidTimezone
	ErrInvalidRecurrencePattern = calendar.ErrInvalidRecurrencePattern
	ErrSlotConflict             = errors.New("availability overlaps an existing window")
	ErrNotFound                 = errors.New("availability window not found")
	ErrHasBookings              = errors.New("availability has booked slots")
	ErrInvalidRequest           = errors.New("invalid availability request")
	ErrForbidden                = errors.New("availability belongs to another provider")
	ErrAvailabilityBusy         = errors.New("availability for this provider and date is being modified, please retry")
)

// ConflictError names the date and the windows a proposed range collides with.
type ConflictError struct {
	Date      civil.Date
	WindowIDs []uuid.UUID
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.WindowIDs))
	for i, id := range e.WindowIDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("%s on %s (conflicts with %s)", ErrSlotConflict, e.Date, strings.Join(ids, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrSlotConflict }

// ValidationError lists field-level bound violations.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRequest, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// BookedSlotsError reports how many booked slots blocked a mutation.
type BookedSlotsError struct {
	WindowID uuid.UUID
	Booked   int
}

func (e *BookedSlotsError) Error() string {
	return fmt.Sprintf("%s: window %s has %d booked slot(s)", ErrHasBookings, e.WindowID, e.Booked)
}

func (e *BookedSlotsError) Unwrap() error { return ErrHasBookings }

package availability

import (
	"bytes"
	"encoding/json"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/hackgods/provider-availability/internal/calendar"
)

// Optional distinguishes an absent field from one explicitly sent, including
// an explicit null.
type Optional[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		o.Value = zero
		o.Null = true
		return nil
	}
	o.Null = false
	return json.Unmarshal(b, &o.Value)
}

// Get returns the value when present and not null.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set && !o.Null
}

// LocalTime is a wall clock value that accepts "HH:MM" or "HH:MM:SS".
type LocalTime struct {
	civil.Time
}

func (t *LocalTime) UnmarshalText(b []byte) error {
	ct, err := calendar.ParseClock(string(b))
	if err != nil {
		return err
	}
	t.Time = ct
	return nil
}

func (t LocalTime) MarshalText() ([]byte, error) {
	return []byte(calendar.FormatClock(t.Time)), nil
}

type PricingInput struct {
	BaseFee           decimal.Decimal `json:"baseFee"`
	InsuranceAccepted bool            `json:"insuranceAccepted"`
	Currency          string          `json:"currency"`
}

func (p PricingInput) toPricing() *Pricing {
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Pricing{BaseFee: p.BaseFee, InsuranceAccepted: p.InsuranceAccepted, Currency: currency}
}

// CreateRequest declares a new window. Pointer fields fall back to defaults.
type CreateRequest struct {
	Date                   civil.Date    `json:"date"`
	StartTime              LocalTime     `json:"startTime"`
	EndTime                LocalTime     `json:"endTime"`
	Timezone               string        `json:"timezone"`
	SlotDuration           *int          `json:"slotDuration,omitempty"`
	BreakDuration          *int          `json:"breakDuration,omitempty"`
	Status                 string        `json:"status,omitempty"`
	MaxAppointmentsPerSlot *int          `json:"maxAppointmentsPerSlot,omitempty"`
	AppointmentType        string        `json:"appointmentType,omitempty"`
	Location               *Location     `json:"location,omitempty"`
	Pricing                *PricingInput `json:"pricing,omitempty"`
	Notes                  string        `json:"notes,omitempty"`
	SpecialRequirements    []string      `json:"specialRequirements,omitempty"`
	IsRecurring            bool          `json:"isRecurring"`
	RecurrencePattern      string        `json:"recurrencePattern,omitempty"`
	RecurrenceEndDate      *civil.Date   `json:"recurrenceEndDate,omitempty"`
}

// Spec applies defaults and returns the window attributes the request
// describes. Nothing is checked here; see WindowSpec.Validate.
func (r CreateRequest) Spec() WindowSpec {
	spec := WindowSpec{
		Date:                   r.Date,
		StartTime:              r.StartTime.Time,
		EndTime:                r.EndTime.Time,
		Timezone:               strings.TrimSpace(r.Timezone),
		SlotDuration:           DefaultSlotDuration,
		BreakDuration:          DefaultBreakDuration,
		Status:                 WindowAvailable,
		MaxAppointmentsPerSlot: DefaultMaxAppointmentsPerSlot,
		AppointmentType:        Consultation,
		Notes:                  r.Notes,
		SpecialRequirements:    append([]string(nil), r.SpecialRequirements...),
		IsRecurring:            r.IsRecurring,
		RecurrenceEndDate:      r.RecurrenceEndDate,
	}
	if r.SlotDuration != nil {
		spec.SlotDuration = *r.SlotDuration
	}
	if r.BreakDuration != nil {
		spec.BreakDuration = *r.BreakDuration
	}
	if r.Status != "" {
		spec.Status = WindowStatus(strings.ToUpper(r.Status))
	}
	if r.MaxAppointmentsPerSlot != nil {
		spec.MaxAppointmentsPerSlot = *r.MaxAppointmentsPerSlot
	}
	if r.AppointmentType != "" {
		spec.AppointmentType = AppointmentType(strings.ToUpper(r.AppointmentType))
	}
	if r.Location != nil {
		spec.Location = *r.Location
	}
	if r.Pricing != nil {
		spec.Pricing = r.Pricing.toPricing()
	}
	if r.RecurrencePattern != "" {
		spec.RecurrencePattern = calendar.NormalizeRecurrencePattern(r.RecurrencePattern)
	}
	return spec
}

// UpdateRequest carries only the fields the caller wants changed. The
// stored window is rebuilt from its current value plus these fields.
type UpdateRequest struct {
	Date                   Optional[civil.Date]   `json:"date"`
	StartTime              Optional[LocalTime]    `json:"startTime"`
	EndTime                Optional[LocalTime]    `json:"endTime"`
	Timezone               Optional[string]       `json:"timezone"`
	SlotDuration           Optional[int]          `json:"slotDuration"`
	BreakDuration          Optional[int]          `json:"breakDuration"`
	Status                 Optional[string]       `json:"status"`
	MaxAppointmentsPerSlot Optional[int]          `json:"maxAppointmentsPerSlot"`
	AppointmentType        Optional[string]       `json:"appointmentType"`
	Location               Optional[Location]     `json:"location"`
	Pricing                Optional[PricingInput] `json:"pricing"`
	Notes                  Optional[string]       `json:"notes"`
	SpecialRequirements    Optional[[]string]     `json:"specialRequirements"`
	IsRecurring            Optional[bool]         `json:"isRecurring"`
	RecurrencePattern      Optional[string]       `json:"recurrencePattern"`
	RecurrenceEndDate      Optional[civil.Date]   `json:"recurrenceEndDate"`
}

// Apply returns current with every present field of r written over it. An
// explicit null clears optional attributes and leaves required ones as they were.
func (r UpdateRequest) Apply(current WindowSpec) WindowSpec {
	next := current
	if v, ok := r.Date.Get(); ok {
		next.Date = v
	}
	if v, ok := r.StartTime.Get(); ok {
		next.StartTime = v.Time
	}
	if v, ok := r.EndTime.Get(); ok {
		next.EndTime = v.Time
	}
	if v, ok := r.Timezone.Get(); ok {
		next.Timezone = strings.TrimSpace(v)
	}
	if v, ok := r.SlotDuration.Get(); ok {
		next.SlotDuration = v
	}
	if v, ok := r.BreakDuration.Get(); ok {
		next.BreakDuration = v
	}
	if v, ok := r.Status.Get(); ok {
		next.Status = WindowStatus(strings.ToUpper(v))
	}
	if v, ok := r.MaxAppointmentsPerSlot.Get(); ok {
		next.MaxAppointmentsPerSlot = v
	}
	if v, ok := r.AppointmentType.Get(); ok {
		next.AppointmentType = AppointmentType(strings.ToUpper(v))
	}
	if r.Location.Set {
		next.Location = r.Location.Value
	}
	if r.Pricing.Set {
		next.Pricing = nil
		if v, ok := r.Pricing.Get(); ok {
			next.Pricing = v.toPricing()
		}
	}
	if r.Notes.Set {
		next.Notes = r.Notes.Value
	}
	if r.SpecialRequirements.Set {
		next.SpecialRequirements = append([]string(nil), r.SpecialRequirements.Value...)
	}
	if v, ok := r.IsRecurring.Get(); ok {
		next.IsRecurring = v
	}
	if r.RecurrencePattern.Set {
		next.RecurrencePattern = ""
		if v, ok := r.RecurrencePattern.Get(); ok && v != "" {
			next.RecurrencePattern = calendar.NormalizeRecurrencePattern(v)
		}
	}
	if r.RecurrenceEndDate.Set {
		next.RecurrenceEndDate = nil
		if v, ok := r.RecurrenceEndDate.Get(); ok {
			next.RecurrenceEndDate = &v
		}
	}
	return next
}

type DeleteRequest struct {
	// DeleteRecurring removes every window of the target's series.
	DeleteRecurring bool
	// Reason is recorded on the emitted event and otherwise ignored.
	Reason string
}

type DeleteResult struct {
	WindowsDeleted int
	SlotsDeleted   int
}

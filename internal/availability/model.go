package availability

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/provider-availability/internal/calendar"
)

type WindowStatus string

const (
	WindowAvailable   WindowStatus = "AVAILABLE"
	WindowBooked      WindowStatus = "BOOKED"
	WindowCancelled   WindowStatus = "CANCELLED"
	WindowBlocked     WindowStatus = "BLOCKED"
	WindowMaintenance WindowStatus = "MAINTENANCE"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
	SlotCancelled SlotStatus = "CANCELLED"
	SlotBlocked   SlotStatus = "BLOCKED"
)

type AppointmentType string

const (
	Consultation AppointmentType = "CONSULTATION"
	FollowUp     AppointmentType = "FOLLOW_UP"
	Emergency    AppointmentType = "EMERGENCY"
	Telemedicine AppointmentType = "TELEMEDICINE"
)

type LocationType string

const (
	LocationClinic       LocationType = "CLINIC"
	LocationHospital     LocationType = "HOSPITAL"
	LocationTelemedicine LocationType = "TELEMEDICINE"
	LocationHomeVisit    LocationType = "HOME_VISIT"
)

const (
	DefaultSlotDuration           = 30
	DefaultBreakDuration          = 0
	DefaultMaxAppointmentsPerSlot = 1
	DefaultCurrency               = "USD"
)

type Location struct {
	Type       LocationType `json:"type,omitempty" validate:"omitempty,oneof=CLINIC HOSPITAL TELEMEDICINE HOME_VISIT"`
	Address    string       `json:"address,omitempty" validate:"max=500"`
	RoomNumber string       `json:"roomNumber,omitempty" validate:"max=50"`
}

type Pricing struct {
	BaseFee           decimal.Decimal `json:"baseFee"`
	InsuranceAccepted bool            `json:"insuranceAccepted"`
	Currency          string          `json:"currency" validate:"len=3,alpha"`
}

// WindowSpec is every mutable attribute of a window. Updates build a new
// WindowSpec and swap it in whole.
type WindowSpec struct {
	Date                   civil.Date
	StartTime              civil.Time
	EndTime                civil.Time
	Timezone               string
	SlotDuration           int             `validate:"min=10,max=120"`
	BreakDuration          int             `validate:"min=0,max=60"`
	Status                 WindowStatus    `validate:"oneof=AVAILABLE BOOKED CANCELLED BLOCKED MAINTENANCE"`
	MaxAppointmentsPerSlot int             `validate:"min=1,max=10"`
	AppointmentType        AppointmentType `validate:"oneof=CONSULTATION FOLLOW_UP EMERGENCY TELEMEDICINE"`
	Location               Location
	Pricing                *Pricing
	Notes                  string   `validate:"max=500"`
	SpecialRequirements    []string `validate:"dive,max=200"`
	IsRecurring            bool
	RecurrencePattern      calendar.RecurrencePattern
	RecurrenceEndDate      *civil.Date
}

// Window is one provider's declared block of working time on one date.
type Window struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	// SeriesID is shared by every window created from one recurring request.
	SeriesID *uuid.UUID
	WindowSpec
	CurrentAppointments int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Replace overwrites every mutable field with spec.
func (w *Window) Replace(spec WindowSpec, now time.Time) {
	w.WindowSpec = spec
	w.UpdatedAt = now
}

// Spec returns a copy of the window's mutable attributes.
func (w Window) Spec() WindowSpec {
	spec := w.WindowSpec
	if w.Pricing != nil {
		p := *w.Pricing
		spec.Pricing = &p
	}
	if w.RecurrenceEndDate != nil {
		d := *w.RecurrenceEndDate
		spec.RecurrenceEndDate = &d
	}
	spec.SpecialRequirements = append([]string(nil), w.SpecialRequirements...)
	return spec
}

type Slot struct {
	ID               uuid.UUID
	WindowID         uuid.UUID
	ProviderID       uuid.UUID
	StartTime        time.Time // UTC
	EndTime          time.Time // UTC
	Status           SlotStatus
	PatientID        *uuid.UUID
	AppointmentType  AppointmentType
	BookingReference *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WindowWithSlots pairs a window with the slots expanded from it.
type WindowWithSlots struct {
	Window
	Slots []Slot
}

// Page is a zero-based page request.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (p Page) normalize() Page {
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	if p.Number < 0 {
		p.Number = 0
	}
	return p
}

func (p Page) Offset() int {
	return p.Number * p.Size
}

type ListResult struct {
	Items []WindowWithSlots
	Total int
	Page  Page
}

// SearchFilter selects AVAILABLE windows. Nil fields do not filter.
type SearchFilter struct {
	From              *civil.Date
	To                *civil.Date
	AppointmentType   *AppointmentType
	InsuranceAccepted *bool
	MaxPrice          *decimal.Decimal
}

// Matches reports whether w passes the filter.
func (f SearchFilter) Matches(w Window) bool {
	if w.Status != WindowAvailable {
		return false
	}
	if f.From != nil && w.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && w.Date.After(*f.To) {
		return false
	}
	if f.AppointmentType != nil && w.AppointmentType != *f.AppointmentType {
		return false
	}
	if f.InsuranceAccepted != nil && (w.Pricing == nil || w.Pricing.InsuranceAccepted != *f.InsuranceAccepted) {
		return false
	}
	if f.MaxPrice != nil && (w.Pricing == nil || w.Pricing.BaseFee.GreaterThan(*f.MaxPrice)) {
		return false
	}
	return true
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/availability"
	"github.com/hackgods/provider-availability/internal/calendar"
)

// createAvailabilityRequest lets callers without a provider token name the
// provider in the body.
type createAvailabilityRequest struct {
	ProviderID string `json:"providerId,omitempty"`
	availability.CreateRequest
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type CreateAvailabilityResponse struct {
	AvailabilityID             uuid.UUID  `json:"availabilityId"`
	SeriesID                   *uuid.UUID `json:"seriesId,omitempty"`
	WindowsCreated             int        `json:"windowsCreated"`
	SlotsCreated               int        `json:"slotsCreated"`
	DateRange                  DateRange  `json:"dateRange"`
	TotalAppointmentsAvailable int        `json:"totalAppointmentsAvailable"`
}

type SlotResponse struct {
	ID               uuid.UUID  `json:"id"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          time.Time  `json:"endTime"`
	Status           string     `json:"status"`
	AppointmentType  string     `json:"appointmentType"`
	PatientID        *uuid.UUID `json:"patientId,omitempty"`
	BookingReference *string    `json:"bookingReference,omitempty"`
}

type WindowResponse struct {
	ID                     uuid.UUID              `json:"id"`
	ProviderID             uuid.UUID              `json:"providerId"`
	SeriesID               *uuid.UUID             `json:"seriesId,omitempty"`
	Date                   string                 `json:"date"`
	StartTime              string                 `json:"startTime"`
	EndTime                string                 `json:"endTime"`
	Timezone               string                 `json:"timezone"`
	SlotDuration           int                    `json:"slotDuration"`
	BreakDuration          int                    `json:"breakDuration"`
	Status                 string                 `json:"status"`
	MaxAppointmentsPerSlot int                    `json:"maxAppointmentsPerSlot"`
	CurrentAppointments    int                    `json:"currentAppointments"`
	AppointmentType        string                 `json:"appointmentType"`
	Location               *availability.Location `json:"location,omitempty"`
	Pricing                *availability.Pricing  `json:"pricing,omitempty"`
	Notes                  string                 `json:"notes,omitempty"`
	SpecialRequirements    []string               `json:"specialRequirements"`
	IsRecurring            bool                   `json:"isRecurring"`
	RecurrencePattern      string                 `json:"recurrencePattern,omitempty"`
	RecurrenceEndDate      string                 `json:"recurrenceEndDate,omitempty"`
	CreatedAt              time.Time              `json:"createdAt"`
	UpdatedAt              time.Time              `json:"updatedAt"`
	Slots                  []SlotResponse         `json:"slots"`
}

type PageResponse struct {
	Items         []WindowResponse `json:"items"`
	Page          int              `json:"page"`
	Size          int              `json:"size"`
	TotalElements int              `json:"totalElements"`
	TotalPages    int              `json:"totalPages"`
}

type DeleteAvailabilityResponse struct {
	WindowsDeleted int `json:"windowsDeleted"`
	SlotsDeleted   int `json:"slotsDeleted"`
}

func toWindowResponse(w availability.WindowWithSlots) WindowResponse {
	resp := WindowResponse{
		ID:                     w.ID,
		ProviderID:             w.ProviderID,
		SeriesID:               w.SeriesID,
		Date:                   w.Date.String(),
		StartTime:              calendar.FormatClock(w.StartTime),
		EndTime:                calendar.FormatClock(w.EndTime),
		Timezone:               w.Timezone,
		SlotDuration:           w.SlotDuration,
		BreakDuration:          w.BreakDuration,
		Status:                 string(w.Status),
		MaxAppointmentsPerSlot: w.MaxAppointmentsPerSlot,
		CurrentAppointments:    w.CurrentAppointments,
		AppointmentType:        string(w.AppointmentType),
		Pricing:                w.Pricing,
		Notes:                  w.Notes,
		SpecialRequirements:    w.SpecialRequirements,
		IsRecurring:            w.IsRecurring,
		RecurrencePattern:      string(w.RecurrencePattern),
		CreatedAt:              w.CreatedAt,
		UpdatedAt:              w.UpdatedAt,
		Slots:                  make([]SlotResponse, len(w.Slots)),
	}
	if w.Location != (availability.Location{}) {
		loc := w.Location
		resp.Location = &loc
	}
	if resp.SpecialRequirements == nil {
		resp.SpecialRequirements = []string{}
	}
	if w.RecurrenceEndDate != nil {
		resp.RecurrenceEndDate = w.RecurrenceEndDate.String()
	}
	for i, s := range w.Slots {
		resp.Slots[i] = SlotResponse{
			ID:               s.ID,
			StartTime:        s.StartTime,
			EndTime:          s.EndTime,
			Status:           string(s.Status),
			AppointmentType:  string(s.AppointmentType),
			PatientID:        s.PatientID,
			BookingReference: s.BookingReference,
		}
	}
	return resp
}

func toPageResponse(res availability.ListResult) PageResponse {
	items := make([]WindowResponse, len(res.Items))
	for i, it := range res.Items {
		items[i] = toWindowResponse(it)
	}
	pages := 0
	if res.Page.Size > 0 {
		pages = (res.Total + res.Page.Size - 1) / res.Page.Size
	}
	return PageResponse{
		Items:         items,
		Page:          res.Page.Number,
		Size:          res.Page.Size,
		TotalElements: res.Total,
		TotalPages:    pages,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

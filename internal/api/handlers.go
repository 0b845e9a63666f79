package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/provider-availability/internal/availability"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

const maxBodyBytes = 1 << 20

func createAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAvailabilityRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		providerID, ok := resolveProvider(w, r, req.ProviderID)
		if !ok {
			return
		}

		created, err := svc.Create(r.Context(), providerID, req.CreateRequest)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		first, last := created[0], created[len(created)-1]
		resp := CreateAvailabilityResponse{
			AvailabilityID: first.ID,
			SeriesID:       first.SeriesID,
			WindowsCreated: len(created),
			DateRange:      DateRange{Start: first.Date.String(), End: last.Date.String()},
		}
		for _, ws := range created {
			resp.SlotsCreated += len(ws.Slots)
			resp.TotalAppointmentsAvailable += len(ws.Slots) * ws.MaxAppointmentsPerSlot
		}

		writeJSON(w, http.StatusCreated, Response{
			Success: true,
			Message: "Availability slots created successfully",
			Data:    resp,
		})
	}
}

func getAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		ws, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, Response{Success: true, Data: toWindowResponse(*ws)})
	}
}

func listProviderAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "providerId")
		if !ok {
			return
		}

		q := r.URL.Query()
		from, err := parseDate(q.Get("startDate"))
		if err != nil || from == nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", "startDate must be YYYY-MM-DD")
			return
		}
		to, err := parseDate(q.Get("endDate"))
		if err != nil || to == nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date", "endDate must be YYYY-MM-DD")
			return
		}
		page, ok := parsePage(w, r)
		if !ok {
			return
		}

		res, err := svc.ListByProvider(r.Context(), providerID, *from, *to, page)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, Response{Success: true, Data: toPageResponse(res)})
	}
}

// updateAvailabilityHandler serves PUT /api/v1/provider/availability/{id}.
// A window with any BOOKED slot cannot be updated: the service answers
// ErrHasBookings and the client gets 409 has_bookings, since regenerating
// slots would drop the booking.
func updateAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req availability.UpdateRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		// uuid.Nil skips the ownership check when tokens are disabled.
		providerID, _ := ProviderFromContext(r.Context())

		updated, err := svc.Update(r.Context(), providerID, id, req)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, Response{
			Success: true,
			Message: "Availability updated successfully",
			Data:    toWindowResponse(*updated),
		})
	}
}

func deleteAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		q := r.URL.Query()
		req := availability.DeleteRequest{Reason: q.Get("reason")}
		if raw := q.Get("deleteRecurring"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_delete_recurring", "deleteRecurring must be true or false")
				return
			}
			req.DeleteRecurring = v
		}

		providerID, _ := ProviderFromContext(r.Context())

		res, err := svc.Delete(r.Context(), providerID, id, req)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, Response{
			Success: true,
			Message: "Availability deleted successfully",
			Data:    DeleteAvailabilityResponse{WindowsDeleted: res.WindowsDeleted, SlotsDeleted: res.SlotsDeleted},
		})
	}
}

func searchAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter availability.SearchFilter

		from, err := parseDate(q.Get("startDate"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", "startDate must be YYYY-MM-DD")
			return
		}
		to, err := parseDate(q.Get("endDate"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date", "endDate must be YYYY-MM-DD")
			return
		}
		filter.From, filter.To = from, to

		if raw := q.Get("appointmentType"); raw != "" {
			at := availability.AppointmentType(strings.ToUpper(raw))
			filter.AppointmentType = &at
		}
		if raw := q.Get("insuranceAccepted"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_insurance_accepted", "insuranceAccepted must be true or false")
				return
			}
			// false means "don't care", not "uninsured only".
			if v {
				filter.InsuranceAccepted = &v
			}
		}
		if raw := q.Get("maxPrice"); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_max_price", "maxPrice must be a number")
				return
			}
			filter.MaxPrice = &v
		}
		page, ok := parsePage(w, r)
		if !ok {
			return
		}

		res, err := svc.Search(r.Context(), filter, page)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, Response{Success: true, Data: toPageResponse(res)})
	}
}

// resolveProvider picks the token identity over the body value and refuses
// a body that names someone else.
func resolveProvider(w http.ResponseWriter, r *http.Request, fromBody string) (uuid.UUID, bool) {
	authed, hasToken := ProviderFromContext(r.Context())

	if fromBody == "" {
		if hasToken {
			return authed, true
		}
		writeError(w, http.StatusBadRequest, "missing_provider_id", "providerId is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(fromBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "providerId must be a valid UUID")
		return uuid.Nil, false
	}
	if hasToken && id != authed {
		writeError(w, http.StatusForbidden, "forbidden", "providerId does not match the authenticated provider")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("could not parse JSON: " + err.Error())
	}
	return nil
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+toSnake(name), name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseDate(raw string) (*civil.Date, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parsePage(w http.ResponseWriter, r *http.Request) (availability.Page, bool) {
	var page availability.Page
	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_page", "page must be a non-negative integer")
			return page, false
		}
		page.Number = n
	}
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_size", "size must be a positive integer")
			return page, false
		}
		page.Size = n
	}
	return page, true
}

func toSnake(s string) string {
	var b strings.Builder
	for i, c := range s {
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteRune(c)
	}
	return b.String()
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *availability.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Message: "request failed validation",
			Fields:  verr.Fields,
		})
	case errors.Is(err, availability.ErrInvalidTimeRange):
		writeError(w, http.StatusUnprocessableEntity, "invalid_time_range", err.Error())
	case errors.Is(err, availability.ErrInvalidTimezone):
		writeError(w, http.StatusUnprocessableEntity, "invalid_timezone", err.Error())
	case errors.Is(err, availability.ErrInvalidRecurrencePattern):
		writeError(w, http.StatusUnprocessableEntity, "invalid_recurrence_pattern", err.Error())
	case errors.Is(err, availability.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, availability.ErrNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", err.Error())
	case errors.Is(err, availability.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, availability.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, availability.ErrHasBookings):
		writeError(w, http.StatusConflict, "has_bookings", err.Error())
	case errors.Is(err, availability.ErrAvailabilityBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "availability_busy", "availability is being modified, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("availability request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

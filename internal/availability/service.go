package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/provider-availability/internal/calendar"
	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/outbox"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

const AggregateType = "availability"

var tracer = otel.Tracer("github.com/hackgods/provider-availability/internal/availability")

type Service struct {
	repo          Repository
	locker        redisclient.Locker
	logger        zerolog.Logger
	maxRecurrence int
	now           func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger) *Service {
	maxRecurrence := cfg.MaxRecurrence
	if maxRecurrence <= 0 {
		maxRecurrence = calendar.DefaultMaxOccurrences
	}
	return &Service{
		repo:          repo,
		locker:        locker,
		logger:        logger.With().Str("component", "availability").Logger(),
		maxRecurrence: maxRecurrence,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Create validates req, writes the window and its slots and, for a recurring
// request with an end date, one independent window per recurrence date. All
// windows are written in one transaction; a conflict on any date fails the
// whole request. The first element of the result is the requested date.
func (s *Service) Create(ctx context.Context, providerID uuid.UUID, req CreateRequest) (created []WindowWithSlots, err error) {
	ctx, span := tracer.Start(ctx, "availability.Create",
		trace.WithAttributes(attribute.String("provider.id", providerID.String())))
	defer func() { endSpan(span, err) }()

	if providerID == uuid.Nil {
		return nil, &ValidationError{Fields: map[string]string{"providerId": "is required"}}
	}

	spec := req.Spec()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var extraDates []civil.Date
	if spec.IsRecurring && spec.RecurrenceEndDate != nil {
		// Step from the base date so weekly and monthly copies keep its weekday
		// or day of month. The base date itself is dropped.
		dates, err := calendar.GenerateRecurringDates(spec.Date, *spec.RecurrenceEndDate, spec.RecurrencePattern, s.maxRecurrence+1)
		if err != nil {
			return nil, err
		}
		if len(dates) > 1 {
			extraDates = dates[1:]
		}
	}

	now := s.now()
	base := Window{
		ID:         uuid.New(),
		ProviderID: providerID,
		WindowSpec: spec,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if spec.IsRecurring {
		seriesID := uuid.New()
		base.SeriesID = &seriesID
	}

	err = s.withDateLocks(ctx, providerID, []civil.Date{spec.Date}, func(lockCtx context.Context) error {
		return s.repo.RunInTx(lockCtx, func(tx Repository) error {
			created = created[:0]

			for _, d := range append([]civil.Date{spec.Date}, extraDates...) {
				if err := tx.LockProviderDate(lockCtx, providerID, d); err != nil {
					return fmt.Errorf("lock provider date %s: %w", d, err)
				}
			}

			first, err := s.insertWindow(lockCtx, tx, base, now)
			if err != nil {
				return err
			}
			created = append(created, first)

			for _, d := range extraDates {
				occurrence := Window{
					ID:         uuid.New(),
					ProviderID: providerID,
					SeriesID:   base.SeriesID,
					WindowSpec: base.Spec(),
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				occurrence.Date = d
				ws, err := s.insertWindow(lockCtx, tx, occurrence, now)
				if err != nil {
					return err
				}
				created = append(created, ws)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("provider_id", providerID.String()).
		Str("window_id", created[0].ID.String()).
		Int("windows", len(created)).
		Int("slots", countSlots(created)).
		Msg("availability created")

	return created, nil
}

func (s *Service) insertWindow(ctx context.Context, tx Repository, w Window, now time.Time) (WindowWithSlots, error) {
	overlapping, err := tx.FindOverlappingWindows(ctx, w.ProviderID, w.Date, w.StartTime, w.EndTime, nil)
	if err != nil {
		return WindowWithSlots{}, fmt.Errorf("find overlapping windows: %w", err)
	}
	if err := conflictFrom(w.Date, overlapping); err != nil {
		return WindowWithSlots{}, err
	}

	if err := tx.SaveWindow(ctx, &w); err != nil {
		return WindowWithSlots{}, fmt.Errorf("save window: %w", err)
	}

	slots, err := ExpandSlots(w, now)
	if err != nil {
		return WindowWithSlots{}, err
	}
	if err := tx.SaveSlots(ctx, slots); err != nil {
		return WindowWithSlots{}, fmt.Errorf("save slots: %w", err)
	}

	if err := s.recordEvent(ctx, tx, outbox.TopicAvailabilityCreated, w, len(slots), ""); err != nil {
		return WindowWithSlots{}, err
	}
	return WindowWithSlots{Window: w, Slots: slots}, nil
}

// Update rebuilds the window from its stored value plus the fields present
// in req, then replaces its slots. Recurrence is not re-materialized. It
// fails with ErrHasBookings, changing nothing, when any current slot is BOOKED.
func (s *Service) Update(ctx context.Context, providerID, id uuid.UUID, req UpdateRequest) (updated *WindowWithSlots, err error) {
	ctx, span := tracer.Start(ctx, "availability.Update",
		trace.WithAttributes(attribute.String("window.id", id.String())))
	defer func() { endSpan(span, err) }()

	current, err := s.repo.FindWindowByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	if err := checkOwner(providerID, current); err != nil {
		return nil, err
	}

	proposed := req.Apply(current.Spec())
	if err := proposed.Validate(); err != nil {
		return nil, err
	}

	dates := []civil.Date{current.Date, proposed.Date}
	err = s.withDateLocks(ctx, current.ProviderID, dates, func(lockCtx context.Context) error {
		return s.repo.RunInTx(lockCtx, func(tx Repository) error {
			for _, d := range dedupeDates(dates) {
				if err := tx.LockProviderDate(lockCtx, current.ProviderID, d); err != nil {
					return fmt.Errorf("lock provider date %s: %w", d, err)
				}
			}

			w, err := tx.FindWindowByID(lockCtx, id)
			if err != nil {
				return fmt.Errorf("reload window: %w", err)
			}
			// The window may have moved between the read above and the lock.
			spec := req.Apply(w.Spec())
			if err := spec.Validate(); err != nil {
				return err
			}
			for _, d := range dedupeDates([]civil.Date{w.Date, spec.Date}) {
				if err := tx.LockProviderDate(lockCtx, w.ProviderID, d); err != nil {
					return fmt.Errorf("lock provider date %s: %w", d, err)
				}
			}

			oldSlots, err := tx.FindSlotsByWindowID(lockCtx, id)
			if err != nil {
				return fmt.Errorf("load slots: %w", err)
			}
			if booked := countBooked(oldSlots); booked > 0 {
				return &BookedSlotsError{WindowID: id, Booked: booked}
			}

			overlapping, err := tx.FindOverlappingWindows(lockCtx, w.ProviderID, spec.Date, spec.StartTime, spec.EndTime, &w.ID)
			if err != nil {
				return fmt.Errorf("find overlapping windows: %w", err)
			}
			if err := conflictFrom(spec.Date, overlapping); err != nil {
				return err
			}

			now := s.now()
			w.Replace(spec, now)
			if err := tx.SaveWindow(lockCtx, w); err != nil {
				return fmt.Errorf("save window: %w", err)
			}
			if _, err := tx.DeleteSlotsByWindowID(lockCtx, id); err != nil {
				return fmt.Errorf("delete slots: %w", err)
			}
			slots, err := ExpandSlots(*w, now)
			if err != nil {
				return err
			}
			if err := tx.SaveSlots(lockCtx, slots); err != nil {
				return fmt.Errorf("save slots: %w", err)
			}
			if err := s.recordEvent(lockCtx, tx, outbox.TopicAvailabilityUpdated, *w, len(slots), ""); err != nil {
				return err
			}

			updated = &WindowWithSlots{Window: *w, Slots: slots}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("window_id", id.String()).
		Int("slots", len(updated.Slots)).
		Msg("availability updated")

	return updated, nil
}

// Delete removes the window, or its whole series when req.DeleteRecurring is
// set and the window is recurring. Nothing is removed if any affected slot
// is BOOKED.
func (s *Service) Delete(ctx context.Context, providerID, id uuid.UUID, req DeleteRequest) (res DeleteResult, err error) {
	ctx, span := tracer.Start(ctx, "availability.Delete",
		trace.WithAttributes(
			attribute.String("window.id", id.String()),
			attribute.Bool("delete.recurring", req.DeleteRecurring),
		))
	defer func() { endSpan(span, err) }()

	current, err := s.repo.FindWindowByID(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("load window: %w", err)
	}
	if err := checkOwner(providerID, current); err != nil {
		return DeleteResult{}, err
	}

	err = s.withDateLocks(ctx, current.ProviderID, []civil.Date{current.Date}, func(lockCtx context.Context) error {
		return s.repo.RunInTx(lockCtx, func(tx Repository) error {
			res = DeleteResult{}

			target, err := tx.FindWindowByID(lockCtx, id)
			if err != nil {
				return fmt.Errorf("reload window: %w", err)
			}

			targets := []Window{*target}
			if req.DeleteRecurring && target.IsRecurring && target.SeriesID != nil {
				targets, err = tx.FindWindowsBySeries(lockCtx, *target.SeriesID)
				if err != nil {
					return fmt.Errorf("load series: %w", err)
				}
			}

			for _, w := range targets {
				if err := tx.LockProviderDate(lockCtx, w.ProviderID, w.Date); err != nil {
					return fmt.Errorf("lock provider date %s: %w", w.Date, err)
				}
				slots, err := tx.FindSlotsByWindowID(lockCtx, w.ID)
				if err != nil {
					return fmt.Errorf("load slots: %w", err)
				}
				if booked := countBooked(slots); booked > 0 {
					return &BookedSlotsError{WindowID: w.ID, Booked: booked}
				}
			}

			for _, w := range targets {
				n, err := tx.DeleteSlotsByWindowID(lockCtx, w.ID)
				if err != nil {
					return fmt.Errorf("delete slots: %w", err)
				}
				if err := tx.DeleteWindow(lockCtx, w.ID); err != nil {
					return fmt.Errorf("delete window: %w", err)
				}
				if err := s.recordEvent(lockCtx, tx, outbox.TopicAvailabilityDeleted, w, n, req.Reason); err != nil {
					return err
				}
				res.WindowsDeleted++
				res.SlotsDeleted += n
			}
			return nil
		})
	})
	if err != nil {
		return DeleteResult{}, err
	}

	s.logger.Info().
		Str("window_id", id.String()).
		Int("windows", res.WindowsDeleted).
		Int("slots", res.SlotsDeleted).
		Str("reason", req.Reason).
		Msg("availability deleted")

	return res, nil
}

// Get returns one window with its slots.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*WindowWithSlots, error) {
	w, err := s.repo.FindWindowByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	slots, err := s.repo.FindSlotsByWindowID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	return &WindowWithSlots{Window: *w, Slots: slots}, nil
}

// ListByProvider returns the provider's windows dated within [from, to].
func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to civil.Date, page Page) (res ListResult, err error) {
	ctx, span := tracer.Start(ctx, "availability.ListByProvider")
	defer func() { endSpan(span, err) }()

	if to.Before(from) {
		return ListResult{}, &ValidationError{Fields: map[string]string{"endDate": "must not be before startDate"}}
	}
	page = page.normalize()

	windows, total, err := s.repo.FindWindowsByProviderAndDateRange(ctx, providerID, from, to, page)
	if err != nil {
		return ListResult{}, fmt.Errorf("list windows: %w", err)
	}
	items, err := s.attachSlots(ctx, windows, nil)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: page}, nil
}

// Search returns AVAILABLE windows matching filter, each with only its
// AVAILABLE slots.
func (s *Service) Search(ctx context.Context, filter SearchFilter, page Page) (res ListResult, err error) {
	ctx, span := tracer.Start(ctx, "availability.Search")
	defer func() { endSpan(span, err) }()

	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return ListResult{}, &ValidationError{Fields: map[string]string{"endDate": "must not be before startDate"}}
	}
	if filter.MaxPrice != nil && filter.MaxPrice.IsNegative() {
		return ListResult{}, &ValidationError{Fields: map[string]string{"maxPrice": "must be greater than or equal to 0"}}
	}
	page = page.normalize()

	windows, total, err := s.repo.SearchWindows(ctx, filter, page)
	if err != nil {
		return ListResult{}, fmt.Errorf("search windows: %w", err)
	}
	available := SlotAvailable
	items, err := s.attachSlots(ctx, windows, &available)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: page}, nil
}

func (s *Service) attachSlots(ctx context.Context, windows []Window, only *SlotStatus) ([]WindowWithSlots, error) {
	if len(windows) == 0 {
		return []WindowWithSlots{}, nil
	}
	ids := make([]uuid.UUID, len(windows))
	for i, w := range windows {
		ids[i] = w.ID
	}
	byWindow, err := s.repo.FindSlotsByWindowIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	items := make([]WindowWithSlots, len(windows))
	for i, w := range windows {
		slots := byWindow[w.ID]
		if only != nil {
			kept := slots[:0:0]
			for _, sl := range slots {
				if sl.Status == *only {
					kept = append(kept, sl)
				}
			}
			slots = kept
		}
		items[i] = WindowWithSlots{Window: w, Slots: slots}
	}
	return items, nil
}

type windowEvent struct {
	WindowID   string    `json:"windowId"`
	ProviderID string    `json:"providerId"`
	SeriesID   string    `json:"seriesId,omitempty"`
	Date       string    `json:"date"`
	StartTime  string    `json:"startTime"`
	EndTime    string    `json:"endTime"`
	Timezone   string    `json:"timezone"`
	SlotCount  int       `json:"slotCount"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (s *Service) recordEvent(ctx context.Context, tx Repository, eventType string, w Window, slotCount int, reason string) error {
	payload := windowEvent{
		WindowID:   w.ID.String(),
		ProviderID: w.ProviderID.String(),
		Date:       w.Date.String(),
		StartTime:  calendar.FormatClock(w.StartTime),
		EndTime:    calendar.FormatClock(w.EndTime),
		Timezone:   w.Timezone,
		SlotCount:  slotCount,
		Reason:     reason,
		OccurredAt: s.now(),
	}
	if w.SeriesID != nil {
		payload.SeriesID = w.SeriesID.String()
	}

	ev, err := outbox.NewEvent(AggregateType, w.ID.String(), eventType, payload)
	if err != nil {
		return err
	}
	if err := tx.InsertEvent(ctx, outbox.WithTrace(ctx, ev)); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Str("window_id", w.ID.String()).Msg("failed to enqueue event")
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

// withDateLocks holds the provider/date lock for every date, acquired in
// date order so two writers never wait on each other in opposite order.
func (s *Service) withDateLocks(ctx context.Context, providerID uuid.UUID, dates []civil.Date, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	dates = dedupeDates(dates)

	var acquire func(ctx context.Context, i int) error
	acquire = func(ctx context.Context, i int) error {
		if i == len(dates) {
			return fn(ctx)
		}
		err := s.locker.WithProviderDateLock(ctx, providerID, dates[i].String(), func(ctx context.Context) error {
			return acquire(ctx, i+1)
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return fmt.Errorf("%w (%s)", ErrAvailabilityBusy, dates[i])
		}
		return err
	}
	return acquire(ctx, 0)
}

func dedupeDates(dates []civil.Date) []civil.Date {
	out := make([]civil.Date, 0, len(dates))
	seen := make(map[civil.Date]bool, len(dates))
	for _, d := range dates {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// checkOwner allows uuid.Nil callers, which are internal jobs without a
// provider identity.
func checkOwner(providerID uuid.UUID, w *Window) error {
	if providerID != uuid.Nil && providerID != w.ProviderID {
		return ErrForbidden
	}
	return nil
}

func countBooked(slots []Slot) int {
	n := 0
	for _, sl := range slots {
		if sl.Status == SlotBooked {
			n++
		}
	}
	return n
}

func countSlots(items []WindowWithSlots) int {
	n := 0
	for _, it := range items {
		n += len(it.Slots)
	}
	return n
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

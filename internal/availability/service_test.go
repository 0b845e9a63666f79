package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/provider-availability/internal/calendar"
	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/outbox"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

var fixedNow = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, redisclient.NewLocalLocker(), config.Config{}, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo
}

func jan(day int) civil.Date {
	return civil.Date{Year: 2024, Month: time.January, Day: day}
}

func createRequest(date civil.Date, start, end civil.Time) CreateRequest {
	return CreateRequest{
		Date:      date,
		StartTime: LocalTime{start},
		EndTime:   LocalTime{end},
		Timezone:  "America/New_York",
	}
}

func bookSlot(repo *MemoryRepository, windowID uuid.UUID, i int) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.slots[windowID][i].Status = SlotBooked
}

func TestCreateGeneratesSlots(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()

	created, err := svc.Create(context.Background(), provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 window, got %d", len(created))
	}
	w := created[0]
	if w.ProviderID != provider || w.Status != WindowAvailable || w.SeriesID != nil {
		t.Fatalf("unexpected window %+v", w.Window)
	}
	if len(w.Slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(w.Slots))
	}

	stored, err := svc.Get(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored.Slots) != 6 {
		t.Fatalf("expected 6 stored slots, got %d", len(stored.Slots))
	}

	events := repo.Events()
	if len(events) != 1 || events[0].EventType != outbox.TopicAvailabilityCreated || events[0].AggregateID != w.ID.String() {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	first, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.Create(ctx, provider, createRequest(jan(15), hm(11, 0), hm(14, 0)))
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || len(conflict.WindowIDs) != 1 || conflict.WindowIDs[0] != first[0].ID {
		t.Fatalf("expected conflict naming %s, got %v", first[0].ID, err)
	}
	if n := len(repo.all()); n != 1 {
		t.Fatalf("failed create must not store anything, found %d windows", n)
	}
	if n := len(repo.Events()); n != 1 {
		t.Fatalf("failed create must not enqueue events, found %d", n)
	}
}

func TestCreateAllowsAdjacentAndOtherProviders(t *testing.T) {
	svc, _ := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	if _, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Create(ctx, provider, createRequest(jan(15), hm(12, 0), hm(14, 0))); err != nil {
		t.Fatalf("adjacent window should be accepted, got %v", err)
	}
	if _, err := svc.Create(ctx, uuid.New(), createRequest(jan(15), hm(9, 0), hm(12, 0))); err != nil {
		t.Fatalf("another provider's window should be accepted, got %v", err)
	}
	if _, err := svc.Create(ctx, provider, createRequest(jan(16), hm(9, 0), hm(12, 0))); err != nil {
		t.Fatalf("same range on another date should be accepted, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	tests := []struct {
		name    string
		req     CreateRequest
		wantErr error
	}{
		{"inverted range", createRequest(jan(15), hm(12, 0), hm(9, 0)), ErrInvalidTimeRange},
		{"bad timezone", func() CreateRequest {
			r := createRequest(jan(15), hm(9, 0), hm(12, 0))
			r.Timezone = "Invalid/Zone"
			return r
		}(), ErrInvalidTimezone},
		{"bad pattern", func() CreateRequest {
			r := createRequest(jan(15), hm(9, 0), hm(12, 0))
			r.IsRecurring = true
			r.RecurrencePattern = "hourly"
			return r
		}(), ErrInvalidRecurrencePattern},
		{"slot too short", func() CreateRequest {
			r := createRequest(jan(15), hm(9, 0), hm(12, 0))
			five := 5
			r.SlotDuration = &five
			return r
		}(), ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, provider, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := svc.Create(ctx, uuid.Nil, createRequest(jan(15), hm(9, 0), hm(12, 0))); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected missing provider to be rejected, got %v", err)
	}
	if n := len(repo.all()); n != 0 {
		t.Fatalf("invalid requests must not store anything, found %d windows", n)
	}
}

func TestCreateRecurringWeekly(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()

	req := createRequest(jan(15), hm(9, 0), hm(12, 0))
	req.IsRecurring = true
	req.RecurrencePattern = "weekly"
	end := jan(29)
	req.RecurrenceEndDate = &end

	created, err := svc.Create(context.Background(), provider, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []civil.Date{jan(15), jan(22), jan(29)}
	if len(created) != len(want) {
		t.Fatalf("expected %d windows, got %d", len(want), len(created))
	}
	series := created[0].SeriesID
	if series == nil {
		t.Fatal("expected recurring window to carry a series id")
	}
	for i, w := range created {
		if w.Date != want[i] {
			t.Fatalf("window %d: expected %s, got %s", i, want[i], w.Date)
		}
		if w.SeriesID == nil || *w.SeriesID != *series {
			t.Fatalf("window %d: expected series %s", i, series)
		}
		if len(w.Slots) != 6 {
			t.Fatalf("window %d: expected 6 slots, got %d", i, len(w.Slots))
		}
	}
	if n := len(repo.Events()); n != 3 {
		t.Fatalf("expected one event per window, got %d", n)
	}
}

func TestCreateRecurringCapCountsExtraDates(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, redisclient.NewLocalLocker(), config.Config{MaxRecurrence: 2}, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }

	req := createRequest(jan(15), hm(9, 0), hm(10, 0))
	req.IsRecurring = true
	req.RecurrencePattern = string(calendar.Daily)
	end := jan(29)
	req.RecurrenceEndDate = &end

	created, err := svc.Create(context.Background(), uuid.New(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []civil.Date{jan(15), jan(16), jan(17)}
	if len(created) != len(want) {
		t.Fatalf("expected base date plus 2 extra dates, got %d windows", len(created))
	}
	for i, w := range created {
		if w.Date != want[i] {
			t.Fatalf("window %d: expected %s, got %s", i, want[i], w.Date)
		}
	}
}

func TestCreateRecurringConflictRollsBack(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	blocker, err := svc.Create(ctx, provider, createRequest(jan(22), hm(10, 0), hm(11, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := createRequest(jan(15), hm(9, 0), hm(12, 0))
	req.IsRecurring = true
	req.RecurrencePattern = string(calendar.Weekly)
	end := jan(29)
	req.RecurrenceEndDate = &end

	_, err = svc.Create(ctx, provider, req)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Date != jan(22) {
		t.Fatalf("expected conflict on 2024-01-22, got %s", conflict.Date)
	}

	windows := repo.all()
	if len(windows) != 1 || windows[0].ID != blocker[0].ID {
		t.Fatalf("expected only the blocking window to remain, got %d windows", len(windows))
	}
	if n := len(repo.Events()); n != 1 {
		t.Fatalf("rolled back create must not leave events, got %d", n)
	}
}

func TestUpdateRegeneratesSlots(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	created, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := created[0]

	updated, err := svc.Update(ctx, provider, before.ID, UpdateRequest{
		EndTime:      Some(LocalTime{hm(11, 0)}),
		SlotDuration: Some(20),
		Notes:        Some("telehealth follow ups"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ID != before.ID {
		t.Fatal("update must keep the window id")
	}
	if updated.EndTime != hm(11, 0) || updated.SlotDuration != 20 || updated.Notes != "telehealth follow ups" {
		t.Fatalf("unexpected window after update %+v", updated.Window)
	}
	if len(updated.Slots) != 6 {
		t.Fatalf("expected 6 twenty minute slots, got %d", len(updated.Slots))
	}

	old := make(map[uuid.UUID]bool, len(before.Slots))
	for _, s := range before.Slots {
		old[s.ID] = true
	}
	for _, s := range updated.Slots {
		if old[s.ID] {
			t.Fatalf("slot %s survived the update", s.ID)
		}
	}

	stored, err := svc.Get(ctx, before.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored.Slots) != 6 {
		t.Fatalf("expected old slots replaced, found %d stored", len(stored.Slots))
	}

	events := repo.Events()
	if last := events[len(events)-1]; last.EventType != outbox.TopicAvailabilityUpdated {
		t.Fatalf("expected updated event, got %s", last.EventType)
	}
}

func TestUpdateRefusesBookedWindow(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	created, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := created[0].ID
	bookSlot(repo, id, 2)

	_, err = svc.Update(ctx, provider, id, UpdateRequest{EndTime: Some(LocalTime{hm(10, 0)})})
	if !errors.Is(err, ErrHasBookings) {
		t.Fatalf("expected ErrHasBookings, got %v", err)
	}

	stored, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.EndTime != hm(12, 0) || len(stored.Slots) != 6 {
		t.Fatal("refused update must leave the window untouched")
	}
}

func TestUpdateOverlapExcludesSelf(t *testing.T) {
	svc, _ := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	morning, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Create(ctx, provider, createRequest(jan(15), hm(13, 0), hm(15, 0))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Update(ctx, provider, morning[0].ID, UpdateRequest{StartTime: Some(LocalTime{hm(8, 0)})}); err != nil {
		t.Fatalf("shrinking or growing into its own range should succeed, got %v", err)
	}
	if _, err := svc.Update(ctx, provider, morning[0].ID, UpdateRequest{EndTime: Some(LocalTime{hm(14, 0)})}); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}

func TestUpdateValidatesResult(t *testing.T) {
	svc, _ := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	created, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := created[0].ID

	if _, err := svc.Update(ctx, provider, id, UpdateRequest{StartTime: Some(LocalTime{hm(13, 0)})}); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
	if _, err := svc.Update(ctx, provider, id, UpdateRequest{Timezone: Some("Bogus/Zone")}); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}
	if _, err := svc.Update(ctx, uuid.New(), id, UpdateRequest{Notes: Some("x")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Update(ctx, provider, uuid.New(), UpdateRequest{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteWindow(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	created, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := created[0].ID

	res, err := svc.Delete(ctx, provider, id, DeleteRequest{Reason: "vacation"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.WindowsDeleted != 1 || res.SlotsDeleted != 6 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := svc.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := svc.Delete(ctx, provider, id, DeleteRequest{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	events := repo.Events()
	last := events[len(events)-1]
	if last.EventType != outbox.TopicAvailabilityDeleted {
		t.Fatalf("expected deleted event, got %s", last.EventType)
	}
}

func TestDeleteRefusesBookedWindow(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	created, err := svc.Create(ctx, provider, createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := created[0].ID
	bookSlot(repo, id, 0)

	_, err = svc.Delete(ctx, provider, id, DeleteRequest{})
	var booked *BookedSlotsError
	if !errors.As(err, &booked) || booked.Booked != 1 || !errors.Is(err, ErrHasBookings) {
		t.Fatalf("expected BookedSlotsError with one booking, got %v", err)
	}

	stored, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("window must survive a refused delete: %v", err)
	}
	if len(stored.Slots) != 6 {
		t.Fatalf("slots must survive a refused delete, found %d", len(stored.Slots))
	}
}

func TestDeleteRecurringSeries(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	req := createRequest(jan(15), hm(9, 0), hm(12, 0))
	req.IsRecurring = true
	req.RecurrencePattern = "DAILY"
	end := jan(18)
	req.RecurrenceEndDate = &end

	created, err := svc.Create(ctx, provider, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("expected 4 windows, got %d", len(created))
	}
	other, err := svc.Create(ctx, provider, createRequest(jan(16), hm(13, 0), hm(14, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := svc.Delete(ctx, provider, created[1].ID, DeleteRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.WindowsDeleted != 1 {
		t.Fatalf("plain delete should remove one window, removed %d", res.WindowsDeleted)
	}

	bookSlot(repo, created[3].ID, 0)
	if _, err := svc.Delete(ctx, provider, created[0].ID, DeleteRequest{DeleteRecurring: true}); !errors.Is(err, ErrHasBookings) {
		t.Fatalf("expected booked series member to block the delete, got %v", err)
	}
	if n := len(repo.all()); n != 4 {
		t.Fatalf("refused series delete must keep every window, found %d", n)
	}

	repo.mu.Lock()
	repo.slots[created[3].ID][0].Status = SlotAvailable
	repo.mu.Unlock()

	res, err = svc.Delete(ctx, provider, created[0].ID, DeleteRequest{DeleteRecurring: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.WindowsDeleted != 3 || res.SlotsDeleted != 18 {
		t.Fatalf("unexpected result %+v", res)
	}
	remaining := repo.all()
	if len(remaining) != 1 || remaining[0].ID != other[0].ID {
		t.Fatalf("windows outside the series must remain, got %d", len(remaining))
	}
}

func TestDeleteForbiddenForOtherProvider(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, uuid.New(), createRequest(jan(15), hm(9, 0), hm(12, 0)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Delete(ctx, uuid.New(), created[0].ID, DeleteRequest{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Delete(ctx, uuid.Nil, created[0].ID, DeleteRequest{}); err != nil {
		t.Fatalf("internal callers skip the ownership check, got %v", err)
	}
}

func TestListByProviderPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	provider := uuid.New()
	ctx := context.Background()

	for day := 15; day <= 19; day++ {
		if _, err := svc.Create(ctx, provider, createRequest(jan(day), hm(9, 0), hm(10, 0))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := svc.Create(ctx, uuid.New(), createRequest(jan(16), hm(9, 0), hm(10, 0))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := svc.ListByProvider(ctx, provider, jan(16), jan(19), Page{Number: 0, Size: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 4 || len(res.Items) != 3 {
		t.Fatalf("expected 3 of 4 windows, got %d of %d", len(res.Items), res.Total)
	}
	if res.Items[0].Date != jan(16) || res.Items[2].Date != jan(18) {
		t.Fatalf("expected windows in date order, got %s..%s", res.Items[0].Date, res.Items[2].Date)
	}
	if len(res.Items[0].Slots) != 2 {
		t.Fatalf("expected slots attached, got %d", len(res.Items[0].Slots))
	}

	res, err = svc.ListByProvider(ctx, provider, jan(16), jan(19), Page{Number: 1, Size: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Date != jan(19) {
		t.Fatalf("expected last window on page 1, got %d items", len(res.Items))
	}

	if _, err := svc.ListByProvider(ctx, provider, jan(19), jan(16), Page{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected inverted range to be rejected, got %v", err)
	}
}

func TestSearchFiltersAndHidesBookedSlots(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	cheap := createRequest(jan(15), hm(9, 0), hm(12, 0))
	cheap.AppointmentType = "telemedicine"
	cheap.Pricing = &PricingInput{BaseFee: decimal.NewFromInt(80), InsuranceAccepted: true}
	cheapWin, err := svc.Create(ctx, uuid.New(), cheap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pricey := createRequest(jan(15), hm(9, 0), hm(12, 0))
	pricey.AppointmentType = "TELEMEDICINE"
	pricey.Pricing = &PricingInput{BaseFee: decimal.NewFromInt(250)}
	if _, err := svc.Create(ctx, uuid.New(), pricey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocked := createRequest(jan(15), hm(9, 0), hm(12, 0))
	blocked.Status = "BLOCKED"
	if _, err := svc.Create(ctx, uuid.New(), blocked); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bookSlot(repo, cheapWin[0].ID, 0)

	maxPrice := decimal.NewFromInt(100)
	tele := Telemedicine
	from, to := jan(15), jan(15)
	res, err := svc.Search(ctx, SearchFilter{From: &from, To: &to, AppointmentType: &tele, MaxPrice: &maxPrice}, Page{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 1 || res.Items[0].ID != cheapWin[0].ID {
		t.Fatalf("expected only the cheap telemedicine window, got %d", res.Total)
	}
	if len(res.Items[0].Slots) != 5 {
		t.Fatalf("expected booked slot hidden, got %d slots", len(res.Items[0].Slots))
	}

	all, err := svc.Search(ctx, SearchFilter{}, Page{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if all.Total != 2 {
		t.Fatalf("expected blocked window excluded, got %d", all.Total)
	}

	insured := true
	res, err = svc.Search(ctx, SearchFilter{InsuranceAccepted: &insured}, Page{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected one insured window, got %d", res.Total)
	}

	negative := decimal.NewFromInt(-5)
	if _, err := svc.Search(ctx, SearchFilter{MaxPrice: &negative}, Page{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected negative max price rejected, got %v", err)
	}
}

func TestConcurrentOverlappingCreates(t *testing.T) {
	svc, repo := newTestService(t)
	provider := uuid.New()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Every request overlaps every other one.
			req := createRequest(jan(15), hm(9, i%3), hm(12, 0))
			_, err := svc.Create(context.Background(), provider, req)
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrAvailabilityBusy):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one create to succeed, got %d", succeeded)
	}
	if n := len(repo.all()); n != 1 {
		t.Fatalf("expected one stored window, got %d", n)
	}
}

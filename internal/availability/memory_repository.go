package availability

import (
	"context"
	"sort"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/calendar"
	"github.com/hackgods/provider-availability/internal/outbox"
)

const memoryEventLimit = 1000

// MemoryRepository keeps everything in process. Transactions are serialized
// and roll back by restoring a snapshot taken when they began.
type MemoryRepository struct {
	txMu sync.Mutex

	mu      sync.RWMutex
	windows map[uuid.UUID]Window
	slots   map[uuid.UUID][]Slot
	events  []outbox.Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		windows: make(map[uuid.UUID]Window),
		slots:   make(map[uuid.UUID][]Slot),
	}
}

type memorySnapshot struct {
	windows map[uuid.UUID]Window
	slots   map[uuid.UUID][]Slot
	events  []outbox.Event
}

func (r *MemoryRepository) snapshot() memorySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := memorySnapshot{
		windows: make(map[uuid.UUID]Window, len(r.windows)),
		slots:   make(map[uuid.UUID][]Slot, len(r.slots)),
		events:  append([]outbox.Event(nil), r.events...),
	}
	for id, w := range r.windows {
		snap.windows[id] = cloneWindow(w)
	}
	for id, s := range r.slots {
		snap.slots[id] = append([]Slot(nil), s...)
	}
	return snap
}

func (r *MemoryRepository) restore(snap memorySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = snap.windows
	r.slots = snap.slots
	r.events = snap.events
}

func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snap := r.snapshot()
	err := fn(r)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

// LockProviderDate is a no-op: RunInTx already serializes every writer.
func (r *MemoryRepository) LockProviderDate(ctx context.Context, providerID uuid.UUID, date civil.Date) error {
	return nil
}

func (r *MemoryRepository) SaveWindow(ctx context.Context, w *Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Mirrors the exclusion constraint on provider_availability.
	for _, other := range r.windows {
		if other.ID != w.ID && other.ProviderID == w.ProviderID && other.Date == w.Date &&
			Overlaps(other.StartTime, other.EndTime, w.StartTime, w.EndTime) {
			return conflictFrom(w.Date, []Window{other})
		}
	}
	r.windows[w.ID] = cloneWindow(*w)
	return nil
}

func (r *MemoryRepository) FindWindowByID(ctx context.Context, id uuid.UUID) (*Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.windows[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneWindow(w)
	return &c, nil
}

func (r *MemoryRepository) FindOverlappingWindows(ctx context.Context, providerID uuid.UUID, date civil.Date, start, end civil.Time, excludeID *uuid.UUID) ([]Window, error) {
	return FilterOverlapping(r.all(), providerID, date, start, end, excludeID), nil
}

func (r *MemoryRepository) FindWindowsByProviderAndDateRange(ctx context.Context, providerID uuid.UUID, from, to civil.Date, page Page) ([]Window, int, error) {
	var matched []Window
	for _, w := range r.all() {
		if w.ProviderID == providerID && !w.Date.Before(from) && !w.Date.After(to) {
			matched = append(matched, w)
		}
	}
	out, total := paginate(matched, page)
	return out, total, nil
}

func (r *MemoryRepository) FindWindowsBySeries(ctx context.Context, seriesID uuid.UUID) ([]Window, error) {
	var out []Window
	for _, w := range r.all() {
		if w.SeriesID != nil && *w.SeriesID == seriesID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SearchWindows(ctx context.Context, filter SearchFilter, page Page) ([]Window, int, error) {
	var matched []Window
	for _, w := range r.all() {
		if filter.Matches(w) {
			matched = append(matched, w)
		}
	}
	out, total := paginate(matched, page)
	return out, total, nil
}

func (r *MemoryRepository) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.windows[id]; !ok {
		return ErrNotFound
	}
	delete(r.windows, id)
	delete(r.slots, id)
	return nil
}

func (r *MemoryRepository) SaveSlots(ctx context.Context, slots []Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range slots {
		if _, ok := r.windows[s.WindowID]; !ok {
			return ErrNotFound
		}
		r.slots[s.WindowID] = append(r.slots[s.WindowID], s)
	}
	return nil
}

func (r *MemoryRepository) FindSlotsByWindowID(ctx context.Context, windowID uuid.UUID) ([]Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedSlots(r.slots[windowID]), nil
}

func (r *MemoryRepository) FindSlotsByWindowIDs(ctx context.Context, windowIDs []uuid.UUID) (map[uuid.UUID][]Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID][]Slot, len(windowIDs))
	for _, id := range windowIDs {
		out[id] = sortedSlots(r.slots[id])
	}
	return out, nil
}

func (r *MemoryRepository) DeleteSlotsByWindowID(ctx context.Context, windowID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.slots[windowID])
	delete(r.slots, windowID)
	return n, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
	if len(r.events) > memoryEventLimit {
		r.events = append([]outbox.Event(nil), r.events[len(r.events)-memoryEventLimit:]...)
	}
	return nil
}

// Events returns the most recent enqueued events, oldest first.
func (r *MemoryRepository) Events() []outbox.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]outbox.Event(nil), r.events...)
}

func (r *MemoryRepository) all() []Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, cloneWindow(w))
	}
	sortWindows(out)
	return out
}

func cloneWindow(w Window) Window {
	c := w
	c.WindowSpec = w.Spec()
	if w.SeriesID != nil {
		id := *w.SeriesID
		c.SeriesID = &id
	}
	return c
}

func sortWindows(ws []Window) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Date != ws[j].Date {
			return ws[i].Date.Before(ws[j].Date)
		}
		return calendar.IsTimeRangeValid(ws[i].StartTime, ws[j].StartTime)
	})
}

func sortedSlots(in []Slot) []Slot {
	out := append([]Slot(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func paginate(ws []Window, page Page) ([]Window, int) {
	page = page.normalize()
	total := len(ws)
	start := page.Offset()
	if start >= total {
		return []Window{}, total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return ws[start:end], total
}

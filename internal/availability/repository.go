package availability

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/outbox"
)

// Repository contains all storage interactions needed by the service.
//
// Methods called on the Repository passed to RunInTx's callback share one
// transaction; a non-nil error from the callback rolls every write back.
type Repository interface {
	RunInTx(ctx context.Context, fn func(tx Repository) error) error

	// LockProviderDate serializes writers for one provider and date until
	// the surrounding transaction ends.
	LockProviderDate(ctx context.Context, providerID uuid.UUID, date civil.Date) error

	SaveWindow(ctx context.Context, w *Window) error
	FindWindowByID(ctx context.Context, id uuid.UUID) (*Window, error)
	FindOverlappingWindows(ctx context.Context, providerID uuid.UUID, date civil.Date, start, end civil.Time, excludeID *uuid.UUID) ([]Window, error)
	FindWindowsByProviderAndDateRange(ctx context.Context, providerID uuid.UUID, from, to civil.Date, page Page) ([]Window, int, error)
	FindWindowsBySeries(ctx context.Context, seriesID uuid.UUID) ([]Window, error)
	SearchWindows(ctx context.Context, filter SearchFilter, page Page) ([]Window, int, error)
	DeleteWindow(ctx context.Context, id uuid.UUID) error

	SaveSlots(ctx context.Context, slots []Slot) error
	FindSlotsByWindowID(ctx context.Context, windowID uuid.UUID) ([]Slot, error)
	FindSlotsByWindowIDs(ctx context.Context, windowIDs []uuid.UUID) (map[uuid.UUID][]Slot, error)
	DeleteSlotsByWindowID(ctx context.Context, windowID uuid.UUID) (int, error)

	// InsertEvent enqueues a domain event in the same transaction as the write it describes.
	InsertEvent(ctx context.Context, ev outbox.Event) error
}

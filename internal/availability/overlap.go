package availability

import (
	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/calendar"
)

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
// Ranges that only touch at an endpoint do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd civil.Time) bool {
	return calendar.IsTimeRangeValid(aStart, bEnd) && calendar.IsTimeRangeValid(bStart, aEnd)
}

// FilterOverlapping returns the windows in candidates that belong to provider
// on date and overlap [start,end), skipping exclude when set.
func FilterOverlapping(candidates []Window, providerID uuid.UUID, date civil.Date, start, end civil.Time, exclude *uuid.UUID) []Window {
	var out []Window
	for _, w := range candidates {
		if w.ProviderID != providerID || w.Date != date {
			continue
		}
		if exclude != nil && w.ID == *exclude {
			continue
		}
		if Overlaps(w.StartTime, w.EndTime, start, end) {
			out = append(out, w)
		}
	}
	return out
}

func conflictFrom(date civil.Date, windows []Window) error {
	if len(windows) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(windows))
	for i, w := range windows {
		ids[i] = w.ID
	}
	return &ConflictError{Date: date, WindowIDs: ids}
}

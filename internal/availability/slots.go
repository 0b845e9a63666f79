package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/calendar"
)

// ExpandSlots partitions w into slots of SlotDuration minutes separated by
// BreakDuration minutes. A trailing slot that would end after EndTime is
// dropped. Slot instants are UTC, converted through the window's timezone;
// on a DST change day a slot whose instants would be empty or overlap the
// previous slot is skipped.
func ExpandSlots(w Window, now time.Time) ([]Slot, error) {
	if w.SlotDuration <= 0 || !calendar.IsTimeRangeValid(w.StartTime, w.EndTime) {
		return nil, nil
	}

	// Iterations are bounded by the window length so malformed input cannot spin.
	limit := calendar.DurationMinutes(w.StartTime, w.EndTime)/w.SlotDuration + 1

	slots := make([]Slot, 0, limit)
	cur := w.StartTime
	for i := 0; i < limit; i++ {
		slotEnd := calendar.AddMinutes(cur, w.SlotDuration)
		if calendar.IsTimeRangeValid(w.EndTime, slotEnd) {
			break
		}

		startUTC, err := calendar.ConvertToUTC(w.Date, cur, w.Timezone)
		if err != nil {
			return nil, fmt.Errorf("convert slot start: %w", err)
		}
		endUTC, err := calendar.ConvertToUTC(w.Date, slotEnd, w.Timezone)
		if err != nil {
			return nil, fmt.Errorf("convert slot end: %w", err)
		}

		cur = calendar.AddMinutes(slotEnd, w.BreakDuration)

		// Around a forward transition two wall ranges can map onto the same
		// instants; keep slots strictly increasing in UTC.
		if !startUTC.Before(endUTC) {
			continue
		}
		if n := len(slots); n > 0 && startUTC.Before(slots[n-1].EndTime) {
			continue
		}

		slots = append(slots, Slot{
			ID:              uuid.New(),
			WindowID:        w.ID,
			ProviderID:      w.ProviderID,
			StartTime:       startUTC,
			EndTime:         endUTC,
			Status:          SlotAvailable,
			AppointmentType: w.AppointmentType,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return slots, nil
}

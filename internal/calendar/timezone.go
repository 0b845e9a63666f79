// Package calendar converts provider-local wall clock values to absolute
// instants and computes recurrence date sequences.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // containers frequently ship without /usr/share/zoneinfo

	"cloud.google.com/go/civil"
)

var ErrInvalidTimezone = errors.New("invalid timezone")

var locations sync.Map // string -> *time.Location

// LoadLocation resolves an IANA zone name. The empty name and "Local" are
// rejected so stored windows never depend on the host clock.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	locations.Store(name, loc)
	return loc, nil
}

// IsValidTimezone reports whether name resolves to a known IANA zone.
func IsValidTimezone(name string) bool {
	_, err := LoadLocation(name)
	return err == nil
}

// ConvertToUTC composes date and local time in tz and returns the UTC instant,
// using the zone offset in effect at that instant.
//
// A wall time repeated by a backward transition resolves to its earlier
// instant. A wall time skipped by a forward transition is moved forward by
// the length of the gap, so 02:30 on a spring-forward night becomes 03:30.
func ConvertToUTC(date civil.Date, t civil.Time, tz string) (time.Time, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}

	wall := time.Date(date.Year, date.Month, date.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, time.UTC)
	_, offBefore := wall.Add(-transitionWindow).In(loc).Zone()
	_, offAfter := wall.Add(transitionWindow).In(loc).Zone()
	_, offGuess := time.Date(date.Year, date.Month, date.Day, t.Hour, t.Minute, t.Second, t.Nanosecond, loc).Zone()

	var (
		best  time.Time
		found bool
	)
	for _, off := range []int{offBefore, offGuess, offAfter} {
		candidate := wall.Add(-time.Duration(off) * time.Second)
		if !sameWallClock(candidate.In(loc), wall) {
			continue
		}
		if !found || candidate.Before(best) {
			best, found = candidate, true
		}
	}
	if !found {
		// Inside a gap: the pre-transition offset lands past the transition.
		best = wall.Add(-time.Duration(offBefore) * time.Second)
	}
	return best.UTC(), nil
}

// transitionWindow is far enough from any wall time to sit outside the
// transition around it and closer than the next one.
const transitionWindow = 48 * time.Hour

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() &&
		a.Second() == b.Second() && a.Nanosecond() == b.Nanosecond()
}

// ConvertFromUTC is the inverse of ConvertToUTC.
func ConvertFromUTC(instant time.Time, tz string) (civil.Date, civil.Time, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return civil.Date{}, civil.Time{}, err
	}
	local := instant.In(loc)
	return civil.DateOf(local), civil.TimeOf(local), nil
}

// IsTimeRangeValid reports whether start is strictly before end.
func IsTimeRangeValid(start, end civil.Time) bool {
	return nanosOfDay(start) < nanosOfDay(end)
}

// DurationMinutes returns the whole minutes between two local times of the same day.
func DurationMinutes(start, end civil.Time) int {
	return int((nanosOfDay(end) - nanosOfDay(start)) / int64(time.Minute))
}

// MinutesOfDay returns t as whole minutes after midnight.
func MinutesOfDay(t civil.Time) int {
	return t.Hour*60 + t.Minute
}

// AddMinutes returns t shifted by n minutes. The result is not normalized past
// midnight; callers keep it within the day.
func AddMinutes(t civil.Time, n int) civil.Time {
	total := t.Hour*60 + t.Minute + n
	return civil.Time{Hour: total / 60, Minute: total % 60, Second: t.Second, Nanosecond: t.Nanosecond}
}

// IsDSTTransition reports whether the zone offset changes during date.
func IsDSTTransition(date civil.Date, tz string) (bool, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return false, err
	}
	startOfDay := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	nextDay := date.AddDays(1)
	startOfNext := time.Date(nextDay.Year, nextDay.Month, nextDay.Day, 0, 0, 0, 0, loc)
	_, off1 := startOfDay.Zone()
	_, off2 := startOfNext.Zone()
	return off1 != off2, nil
}

func nanosOfDay(t civil.Time) int64 {
	return int64(t.Hour)*int64(time.Hour) +
		int64(t.Minute)*int64(time.Minute) +
		int64(t.Second)*int64(time.Second) +
		int64(t.Nanosecond)
}

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (civil.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) == len("15:04") {
		s += ":00"
	}
	t, err := civil.ParseTime(s)
	if err != nil {
		return civil.Time{}, fmt.Errorf("parse local time %q: %w", s, err)
	}
	return t, nil
}

// FormatClock renders t as "HH:MM", or "HH:MM:SS" when seconds are set.
func FormatClock(t civil.Time) string {
	if t.Second == 0 && t.Nanosecond == 0 {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

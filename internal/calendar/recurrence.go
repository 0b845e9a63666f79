package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var ErrInvalidRecurrencePattern = errors.New("invalid recurrence pattern")

// DefaultMaxOccurrences bounds recurrence expansion when the caller does not.
const DefaultMaxOccurrences = 365

type RecurrencePattern string

const (
	Daily   RecurrencePattern = "DAILY"
	Weekly  RecurrencePattern = "WEEKLY"
	Monthly RecurrencePattern = "MONTHLY"
)

// NormalizeRecurrencePattern upper-cases and trims s without checking it.
func NormalizeRecurrencePattern(s string) RecurrencePattern {
	return RecurrencePattern(strings.ToUpper(strings.TrimSpace(s)))
}

// ParseRecurrencePattern accepts the pattern name in any case.
func ParseRecurrencePattern(s string) (RecurrencePattern, error) {
	p := NormalizeRecurrencePattern(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecurrencePattern, s)
	}
	return p, nil
}

func (p RecurrencePattern) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// GenerateRecurringDates returns the dates from first (inclusive) stepping by
// pattern until the next date would pass last or max dates were produced.
//
// Each monthly step is taken from the previous date and clamps to the end of
// a shorter month, so the clamped day carries forward: Jan 31 yields Feb 29
// (leap year) and then Mar 29.
func GenerateRecurringDates(first, last civil.Date, pattern RecurrencePattern, max int) ([]civil.Date, error) {
	if !pattern.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecurrencePattern, pattern)
	}
	if max <= 0 {
		max = DefaultMaxOccurrences
	}

	var dates []civil.Date
	for d := first; len(dates) < max && !d.After(last); d = next(d, pattern) {
		dates = append(dates, d)
	}
	return dates, nil
}

func next(d civil.Date, pattern RecurrencePattern) civil.Date {
	switch pattern {
	case Weekly:
		return d.AddDays(7)
	case Monthly:
		return addMonthsClamped(d, 1)
	default:
		return d.AddDays(1)
	}
}

func addMonthsClamped(d civil.Date, n int) civil.Date {
	firstOfMonth := time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()
	day := d.Day
	if day > lastDay {
		day = lastDay
	}
	return civil.Date{Year: firstOfMonth.Year(), Month: firstOfMonth.Month(), Day: day}
}

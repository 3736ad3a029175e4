/*
time.go - Calendar date abstraction for billing computations

PURPOSE:
  Billing works on calendar days, never on instants. TimePoint wraps a
  time.Time pinned to midnight UTC so that comparisons, month arithmetic
  and equality are independent of the caller's timezone and clock
  resolution.

MONTH ARITHMETIC:
  AddMonths and WithDay CLAMP to the last day of the target month:
    2024-01-31 + 1 month  = 2024-02-29   (leap year)
    2025-01-31 + 1 month  = 2025-02-28
    2024-02-29 + 12 months = 2025-02-28
    2024-02-01.WithDay(31) = 2024-02-29
  time.Time.AddDate normalizes instead (Jan 31 + 1 month = Mar 2/3), which
  would push billing dates into the following month.

PARSING:
  ParseTimePoint is the single normalization step for loosely typed date
  input. Accepted layouts: 2006-01-02, RFC 3339 (with or without
  fractional seconds), 2006-01-02T15:04:05 and 2006-01-02 15:04:05.
  Timestamps keep their own calendar day; the offset is not applied.

SEE ALSO:
  - period.go: Period and billing cycle stepping
  - billing/policy.go: Consumers of the month arithmetic
*/
package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIME POINT - A calendar day
// =============================================================================

type TimePoint struct {
	Time time.Time
}

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as seen in t's own location.
func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func Today() TimePoint {
	return DateOf(time.Now())
}

var parseLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimePoint normalizes a textual date. Errors wrap ErrInvalidDate.
func ParseTimePoint(s string) (TimePoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimePoint{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return TimePoint{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

// =============================================================================
// MONTH ARITHMETIC
// =============================================================================

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (tp TimePoint) StartOfMonth() TimePoint {
	return NewTimePoint(tp.Year(), tp.Month(), 1)
}

func (tp TimePoint) EndOfMonth() TimePoint {
	return NewTimePoint(tp.Year(), tp.Month(), DaysInMonth(tp.Year(), tp.Month()))
}

// AddMonths moves n calendar months, clamping the day to the target month.
func (tp TimePoint) AddMonths(n int) TimePoint {
	first := time.Date(tp.Year(), tp.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := tp.Day()
	if last := DaysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewTimePoint(first.Year(), first.Month(), day)
}

// WithDay sets the day of month, clamped to [1, last day of month].
func (tp TimePoint) WithDay(day int) TimePoint {
	if day < 1 {
		day = 1
	}
	if last := DaysInMonth(tp.Year(), tp.Month()); day > last {
		day = last
	}
	return NewTimePoint(tp.Year(), tp.Month(), day)
}

func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// MonthsBetween counts calendar month boundaries from -> to, ignoring days.
func MonthsBetween(from, to TimePoint) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.Format(DateLayout)
}

// Ptr returns a pointer to a copy of tp.
func (tp TimePoint) Ptr() *TimePoint { return &tp }

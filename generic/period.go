package generic

import "strings"

// =============================================================================
// PERIOD - A contiguous span of calendar days
// =============================================================================

// Period is the closed interval [Start, End].
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Valid reports whether End is not before Start.
func (p Period) Valid() bool {
	return !p.End.Before(p.Start)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// BILLING CYCLE - Cadence of invoicing
// =============================================================================

// BillingCycle fixes the step size between consecutive billing periods.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
	CycleYearly    BillingCycle = "YEARLY"
)

// ParseBillingCycle is case-insensitive. Unknown values are kept verbatim so
// that callers see them, and behave as monthly everywhere they are used.
func ParseBillingCycle(s string) BillingCycle {
	return BillingCycle(strings.ToUpper(strings.TrimSpace(s)))
}

// Known reports whether c is one of the defined cycles.
func (c BillingCycle) Known() bool {
	switch c {
	case CycleMonthly, CycleQuarterly, CycleYearly:
		return true
	default:
		return false
	}
}

// Months returns the number of calendar months one step covers.
// Unknown cycles fall back to one month.
func (c BillingCycle) Months() int {
	switch c {
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	default:
		return 1
	}
}

// SpanFrom returns the month-aligned span of one cycle starting at start:
// from start to the end of the month (Months()-1) months later.
func (c BillingCycle) SpanFrom(start TimePoint) Period {
	return Period{
		Start: start,
		End:   start.StartOfMonth().AddMonths(c.Months() - 1).EndOfMonth(),
	}
}

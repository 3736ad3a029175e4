package billing

import (
	"fmt"
	"time"

	"github.com/warp/retro-billing/generic"
)

// =============================================================================
// CLOCK
// =============================================================================

// resolveNow substitutes the wall clock for a zero now.
// Callers that need determinism pass now explicitly.
func resolveNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now()
	}
	return now
}

// =============================================================================
// RETROACTIVITY
// =============================================================================

// ParseContractDate normalizes a textual contract date.
func ParseContractDate(raw string) (generic.TimePoint, error) {
	return generic.ParseTimePoint(raw)
}

// IsRetroactive reports whether startDate falls strictly before the first
// day of now's month. A zero start date is never retroactive.
func IsRetroactive(startDate generic.TimePoint, now time.Time) bool {
	if startDate.IsZero() {
		return false
	}
	monthStart := generic.DateOf(resolveNow(now)).StartOfMonth()
	return startDate.Before(monthStart)
}

// IsRetroactiveString parses raw first. Unparseable input is not retroactive.
func IsRetroactiveString(raw string, now time.Time) bool {
	start, err := ParseContractDate(raw)
	if err != nil {
		return false
	}
	return IsRetroactive(start, now)
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// EligibilityIssues lists every precondition the contract violates.
// Retroactivity is not checked here.
func EligibilityIssues(c Contract) []string {
	var issues []string

	if c.ID == "" {
		issues = append(issues, "missing contract id")
	}
	if c.TenantID == "" {
		issues = append(issues, "missing tenant id")
	}
	if c.StartDate.IsZero() {
		issues = append(issues, "missing start date")
	}

	switch {
	case c.BillingDay == 0:
		issues = append(issues, "missing billing day")
	case c.BillingDay < 1 || c.BillingDay > 31:
		issues = append(issues, fmt.Sprintf("billing day %d outside 1-31", c.BillingDay))
	}

	switch {
	case c.MonthlyValue.IsZero():
		issues = append(issues, "missing monthly value")
	case c.MonthlyValue.IsNegative():
		issues = append(issues, fmt.Sprintf("monthly value %s must be positive", c.MonthlyValue))
	}

	if c.Status != ContractActive {
		issues = append(issues, fmt.Sprintf("status %q is not %s", c.Status, ContractActive))
	}
	if !c.AutoBilling {
		issues = append(issues, "auto billing disabled")
	}
	if !c.GenerateBilling {
		issues = append(issues, "billing generation disabled")
	}

	return issues
}

// CanApplyRetroactiveLogic is the eligibility gate. Callers compose it with
// IsRetroactive.
func CanApplyRetroactiveLogic(c Contract) bool {
	return len(EligibilityIssues(c)) == 0
}

// =============================================================================
// FIRST PERIOD BILL DATE
// =============================================================================

// FirstPeriodBillRule decides the branch for the first period. A configured
// day equal to today bills today.
func FirstPeriodBillRule(c Contract, now time.Time) FirstPeriodBillLogic {
	currentDay := generic.DateOf(resolveNow(now)).Day()
	if c.BillingDay <= currentDay {
		return BillOnCurrentDate
	}
	return BillOnConfiguredDay
}

// FirstPeriodBillDate returns today's date or periodStart's month with the
// configured billing day, per FirstPeriodBillRule.
func FirstPeriodBillDate(c Contract, periodStart generic.TimePoint, now time.Time) generic.TimePoint {
	now = resolveNow(now)
	if FirstPeriodBillRule(c, now) == BillOnCurrentDate {
		return generic.DateOf(now)
	}
	return periodStart.WithDay(c.BillingDay)
}

// =============================================================================
// CADENCE
// =============================================================================

// PeriodEnd returns the last day of the cadence span starting at periodStart.
// Unknown cycles behave as monthly.
func PeriodEnd(periodStart generic.TimePoint, cycle generic.BillingCycle) generic.TimePoint {
	return cycle.SpanFrom(periodStart).End
}

// StepCadence advances date by one cycle of calendar months.
func StepCadence(date generic.TimePoint, cycle generic.BillingCycle) generic.TimePoint {
	return date.AddMonths(cycle.Months())
}

// ContractEffectiveEndMonth returns the first day of EndDate's month, or
// StartDate + 12 months for open-ended contracts. The open-ended value is a
// bound on output size, not a promise of twelve periods.
func ContractEffectiveEndMonth(c Contract) generic.TimePoint {
	if c.EndDate != nil && !c.EndDate.IsZero() {
		return c.EndDate.StartOfMonth()
	}
	return c.StartDate.AddMonths(12)
}

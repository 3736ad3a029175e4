package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/retro-billing/generic"
)

// =============================================================================
// ANCHOR - Where the generation cursor starts
// =============================================================================

// Anchor selects the origin of the period cursor.
type Anchor string

const (
	// AnchorContractStart generates the periods owed between the contract
	// start and the current month. The first period starts on StartDate,
	// later periods on month boundaries. The effective end month is
	// exclusive: a contract ending during February owes nothing for
	// February.
	AnchorContractStart Anchor = "contract_start"

	// AnchorCurrentMonth starts at the first day of now's month and walks
	// forward while the cursor is on or before the effective end month.
	// The contract's own start date only feeds the first bill date rule.
	AnchorCurrentMonth Anchor = "current_month"
)

// ParseAnchor accepts the constant values case-insensitively; empty means
// AnchorContractStart.
func ParseAnchor(s string) (Anchor, error) {
	switch Anchor(strings.ToLower(strings.TrimSpace(s))) {
	case "", AnchorContractStart:
		return AnchorContractStart, nil
	case AnchorCurrentMonth:
		return AnchorCurrentMonth, nil
	default:
		return "", fmt.Errorf("unknown anchor %q", s)
	}
}

// =============================================================================
// GENERATOR
// =============================================================================

// Generator produces retroactive billing periods. The zero value uses
// AnchorContractStart.
type Generator struct {
	Anchor Anchor
}

// DefaultGenerator is the generator used by GenerateRetroactivePeriods.
var DefaultGenerator = Generator{Anchor: AnchorContractStart}

// GenerateRetroactivePeriods runs DefaultGenerator. A zero now means the
// wall clock.
func GenerateRetroactivePeriods(c Contract, now time.Time) []BillingPeriod {
	return DefaultGenerator.Generate(c, now)
}

// Generate returns the periods for c, or an empty slice when c is not
// retroactive relative to now. Eligibility is the caller's concern.
func (g Generator) Generate(c Contract, now time.Time) []BillingPeriod {
	now = resolveNow(now)
	periods := []BillingPeriod{}

	if !IsRetroactive(c.StartDate, now) {
		return periods
	}

	monthStart := generic.DateOf(now).StartOfMonth()
	endBound := ContractEffectiveEndMonth(c)

	switch g.Anchor {
	case AnchorCurrentMonth:
		cursor := monthStart
		for i := 0; cursor.BeforeOrEqual(endBound); i++ {
			periods = append(periods, CreateFullPeriod(c, cursor, i == 0, now))
			cursor = StepCadence(cursor, c.BillingCycle)
		}
	default:
		cursor := c.StartDate
		for i := 0; cursor.Before(monthStart) && cursor.Before(endBound); i++ {
			periods = append(periods, CreateFullPeriod(c, cursor, i == 0, now))
			// Realign on the month boundary after the (possibly mid-month) start.
			cursor = StepCadence(cursor.StartOfMonth(), c.BillingCycle)
		}
	}

	return periods
}

// CreateFullPeriod assembles one period billed at the full monthly value.
func CreateFullPeriod(c Contract, periodStart generic.TimePoint, isFirst bool, now time.Time) BillingPeriod {
	now = resolveNow(now)

	period := BillingPeriod{
		ContractID:  c.ID,
		TenantID:    c.TenantID,
		PeriodStart: periodStart,
		PeriodEnd:   PeriodEnd(periodStart, c.BillingCycle),
		BillDate:    periodStart.WithDay(c.BillingDay),
		Amount:      c.MonthlyValue,
		Status:      PeriodPending,
		Metadata: PeriodMetadata{
			IsRetroactive: true,
			LogicVersion:  LogicVersion,
		},
	}

	if isFirst {
		period.BillDate = FirstPeriodBillDate(c, periodStart, now)
		period.Metadata.FirstPeriodBillLogic = FirstPeriodBillRule(c, now)
	}

	return period
}

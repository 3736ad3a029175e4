package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/retro-billing/generic"
)

// PeriodRange spans from the first period's start to the last period's end.
type PeriodRange struct {
	Start *generic.TimePoint
	End   *generic.TimePoint
}

// Stats summarizes a list of generated periods. Date fields are nil for an
// empty list.
type Stats struct {
	TotalPeriods  int
	TotalAmount   decimal.Decimal
	FirstBillDate *generic.TimePoint
	LastBillDate  *generic.TimePoint
	PeriodRange   PeriodRange
	AverageAmount decimal.Decimal
}

// CalculateStats aggregates periods in list order.
func CalculateStats(periods []BillingPeriod) Stats {
	stats := Stats{
		TotalPeriods:  len(periods),
		TotalAmount:   totalAmount(periods),
		AverageAmount: decimal.Zero,
	}
	if len(periods) == 0 {
		return stats
	}

	first, last := periods[0], periods[len(periods)-1]
	stats.FirstBillDate = first.BillDate.Ptr()
	stats.LastBillDate = last.BillDate.Ptr()
	stats.PeriodRange = PeriodRange{
		Start: first.PeriodStart.Ptr(),
		End:   last.PeriodEnd.Ptr(),
	}
	stats.AverageAmount = stats.TotalAmount.Div(decimal.NewFromInt(int64(len(periods))))
	return stats
}

func totalAmount(periods []BillingPeriod) decimal.Decimal {
	amounts := make([]decimal.Decimal, len(periods))
	for i, p := range periods {
		amounts[i] = p.Amount
	}
	return generic.Sum(amounts...)
}

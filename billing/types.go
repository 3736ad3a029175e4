/*
Package billing implements the retroactive billing period calculator.

PURPOSE:
  Given a contract, its billing cadence and the current date, decide whether
  the contract is retroactive (started before the current month) and, if so,
  reconstruct the billing periods that should have been invoiced.

POLICY: FULL_MONTH_ALWAYS_V2
  - Every period bills the full MonthlyValue. No proration, ever.
  - The first period's bill date is TODAY when the configured billing day
    has already been reached this month (BillingDay <= today's day),
    otherwise the configured day inside the first period's month.
  - Every generated period carries the logic version for auditability.

COMPONENTS:
  policy.go:    Predicates and date arithmetic (cadence policy)
  generator.go: Period generation
  stats.go:     Aggregation of generated periods
  audit.go:     Application record and audit sinks

PURITY:
  Nothing in this package performs I/O except through an injected AuditSink.
  All functions are safe for concurrent use.

SEE ALSO:
  - generic/time.go: Calendar arithmetic (clamping month addition)
  - audit/service.go: Persistent audit trail
  - api/apply.go: The workflow that composes eligibility, generation and storage
*/
package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/retro-billing/generic"
)

// LogicVersion tags every period produced by this package.
const LogicVersion = "FULL_MONTH_ALWAYS_V2"

// =============================================================================
// CONTRACT - Input, owned by the calling system
// =============================================================================

type ContractStatus string

const (
	ContractActive    ContractStatus = "ACTIVE"
	ContractInactive  ContractStatus = "INACTIVE"
	ContractSuspended ContractStatus = "SUSPENDED"
	ContractCancelled ContractStatus = "CANCELLED"
)

// Contract is the subset of a contract row the calculator reads.
type Contract struct {
	ID              generic.ContractID
	TenantID        generic.TenantID
	ContractNumber  string
	StartDate       generic.TimePoint
	EndDate         *generic.TimePoint
	BillingDay      int
	BillingCycle    generic.BillingCycle
	MonthlyValue    decimal.Decimal
	Status          ContractStatus
	AutoBilling     bool
	GenerateBilling bool
}

// =============================================================================
// BILLING PERIOD - Output, a fresh value per invocation
// =============================================================================

type PeriodStatus string

const (
	PeriodPending   PeriodStatus = "PENDING"
	PeriodBilled    PeriodStatus = "BILLED"
	PeriodPaid      PeriodStatus = "PAID"
	PeriodOverdue   PeriodStatus = "OVERDUE"
	PeriodCancelled PeriodStatus = "CANCELLED"
	PeriodDueToday  PeriodStatus = "DUE_TODAY"
)

// FirstPeriodBillLogic records which branch of the first bill date rule fired.
type FirstPeriodBillLogic string

const (
	BillOnCurrentDate   FirstPeriodBillLogic = "CURRENT_DATE"
	BillOnConfiguredDay FirstPeriodBillLogic = "CONFIGURED_DAY"
)

type PeriodMetadata struct {
	IsRetroactive bool
	LogicVersion  string
	// Empty on every period but the first.
	FirstPeriodBillLogic FirstPeriodBillLogic
}

type BillingPeriod struct {
	ContractID  generic.ContractID
	TenantID    generic.TenantID
	PeriodStart generic.TimePoint
	PeriodEnd   generic.TimePoint
	BillDate    generic.TimePoint
	Amount      decimal.Decimal
	Status      PeriodStatus
	Metadata    PeriodMetadata
}

// Span returns [PeriodStart, PeriodEnd].
func (p BillingPeriod) Span() generic.Period {
	return generic.Period{Start: p.PeriodStart, End: p.PeriodEnd}
}

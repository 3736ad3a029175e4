/*
Package audit records what the retroactive billing workflow decided and why.

PURPOSE:
  Every run of the workflow leaves an append-only trail: whether the
  contract was rejected or skipped, how many periods were calculated and
  how long it took, which first-bill-date branch fired, and what was
  finally persisted. The trail is queryable per tenant and aggregates into
  operational statistics.

ACTIONS:
  RETROACTIVE_LOGIC_APPLIED       The calculator ran (billing.ApplicationRecord)
  RETROACTIVE_PERIODS_CALCULATED  Periods computed, with timing
  RETROACTIVE_BILLING_GENERATED   Periods persisted as billable
  RETROACTIVE_FORECAST_CREATED    Periods computed for preview only
  RETROACTIVE_VALIDATION_FAILED   Contract not eligible
  RETROACTIVE_LOGIC_SKIPPED       Contract eligible but not retroactive

FAILURE POLICY:
  Auditing is advisory. Service never returns persistence errors from the
  Log* methods; it reports them through zap and moves on.

SEE ALSO:
  - service.go: Service implementation
  - store.go: Persistence port
  - billing/audit.go: ApplicationRecord and AuditSink
*/
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/retro-billing/generic"
)

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	ActionLogicApplied      Action = "RETROACTIVE_LOGIC_APPLIED"
	ActionPeriodsCalculated Action = "RETROACTIVE_PERIODS_CALCULATED"
	ActionBillingGenerated  Action = "RETROACTIVE_BILLING_GENERATED"
	ActionForecastCreated   Action = "RETROACTIVE_FORECAST_CREATED"
	ActionValidationFailed  Action = "RETROACTIVE_VALIDATION_FAILED"
	ActionLogicSkipped      Action = "RETROACTIVE_LOGIC_SKIPPED"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionLogicApplied, ActionPeriodsCalculated, ActionBillingGenerated,
		ActionForecastCreated, ActionValidationFailed, ActionLogicSkipped:
		return true
	default:
		return false
	}
}

// IsFailure is true for rejected and skipped runs.
func (a Action) IsFailure() bool {
	return a == ActionValidationFailed || a == ActionLogicSkipped
}

// =============================================================================
// ENTRY
// =============================================================================

type PerformanceMetrics struct {
	CalculationTimeMs float64 `json:"calculation_time_ms"`
	PeriodsProcessed  int     `json:"periods_processed"`
	DatabaseQueries   int     `json:"database_queries"`
}

type Details struct {
	ContractNumber    string              `json:"contract_number,omitempty"`
	ContractStartDate string              `json:"contract_start_date,omitempty"`
	ContractEndDate   string              `json:"contract_end_date,omitempty"`
	BillingCycle      string              `json:"billing_cycle,omitempty"`
	PeriodsGenerated  int                 `json:"periods_generated,omitempty"`
	TotalAmount       *decimal.Decimal    `json:"total_amount,omitempty"`
	ValidationErrors  []string            `json:"validation_errors,omitempty"`
	CalculationMethod string              `json:"calculation_method,omitempty"`
	AppliedRules      []string            `json:"applied_rules,omitempty"`
	Performance       *PerformanceMetrics `json:"performance_metrics,omitempty"`
}

// Actor identifies who triggered a run. All fields are optional.
type Actor struct {
	ID        string
	IPAddress string
	UserAgent string
}

// SystemActor is used by the scheduler.
var SystemActor = Actor{ID: "system:scheduler"}

type Entry struct {
	ID         string
	TenantID   generic.TenantID
	ContractID generic.ContractID
	ActorID    string
	Action     Action
	Details    Details
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
	Timestamp  time.Time
}

// =============================================================================
// QUERIES
// =============================================================================

// DefaultPageSize applies when an offset is given without a limit.
const DefaultPageSize = 50

// MaxPageSize caps Limit.
const MaxPageSize = 500

// Filter selects entries. TenantID is required; zero values of the other
// fields match everything. From and To are inclusive.
type Filter struct {
	TenantID   generic.TenantID
	ContractID generic.ContractID
	Action     Action
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Validate checks the filter and applies page defaults.
func (f Filter) Validate() (Filter, error) {
	var problems []string
	if f.TenantID == "" {
		problems = append(problems, "tenant_id is required")
	}
	if f.Action != "" && !f.Action.Valid() {
		problems = append(problems, fmt.Sprintf("unknown action %q", f.Action))
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		problems = append(problems, "to is before from")
	}
	if f.Limit < 0 || f.Offset < 0 {
		problems = append(problems, "limit and offset must not be negative")
	}
	if len(problems) > 0 {
		return f, fmt.Errorf("%w: %s", generic.ErrInvalidFilter, strings.Join(problems, "; "))
	}

	if f.Limit == 0 && f.Offset > 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f, nil
}

// Matches applies every criterion except paging.
func (f Filter) Matches(e Entry) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if f.ContractID != "" && e.ContractID != f.ContractID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// Page is one slice of a query, newest first, with the unpaged total.
type Page struct {
	Entries []Entry
	Total   int
}

// Stats aggregates a tenant's audit trail.
type Stats struct {
	TotalContractsProcessed int
	TotalPeriodsGenerated   int
	TotalAmountCalculated   decimal.Decimal
	SuccessRate             float64 // percent
	AverageProcessingTimeMs float64
	ErrorsCount             int
	LastExecution           *time.Time
}

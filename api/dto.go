/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Contracts:
    factory.ContractJSON (request and response)

  Periods:
    BillingPeriodDTO, PeriodMetadataDTO, StatsDTO

  Workflow:
    ApplyResponse

  Audit:
    AuditEntryDTO, AuditPageDTO, AuditStatsDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

AMOUNTS:
  decimal.Decimal marshals as a JSON string ("1000.5"), so no precision is
  lost on the way to the client.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/contract.go: ContractJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
)

// =============================================================================
// PERIODS
// =============================================================================

type PeriodMetadataDTO struct {
	IsRetroactive        bool   `json:"is_retroactive"`
	LogicVersion         string `json:"logic_version"`
	FirstPeriodBillLogic string `json:"first_period_bill_date_logic,omitempty"`
}

// BillingPeriodDTO represents a generated period in API responses.
type BillingPeriodDTO struct {
	ContractID  string            `json:"contract_id"`
	TenantID    string            `json:"tenant_id"`
	PeriodStart string            `json:"period_start"`
	PeriodEnd   string            `json:"period_end"`
	BillDate    string            `json:"bill_date"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      string            `json:"status"`
	Metadata    PeriodMetadataDTO `json:"metadata"`
}

type PeriodRangeDTO struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

// StatsDTO mirrors billing.Stats. Dates are null when there are no periods.
type StatsDTO struct {
	TotalPeriods  int             `json:"total_periods"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	FirstBillDate *string         `json:"first_bill_date"`
	LastBillDate  *string         `json:"last_bill_date"`
	PeriodRange   PeriodRangeDTO  `json:"period_range"`
	AverageAmount decimal.Decimal `json:"average_amount"`
}

// =============================================================================
// WORKFLOW
// =============================================================================

// ApplyResponse is returned by the preview and apply endpoints.
type ApplyResponse struct {
	ContractID    string             `json:"contract_id"`
	Eligible      bool               `json:"eligible"`
	Issues        []string           `json:"issues,omitempty"`
	IsRetroactive bool               `json:"is_retroactive"`
	Persisted     bool               `json:"persisted"`
	Periods       []BillingPeriodDTO `json:"periods"`
	Stats         StatsDTO           `json:"stats"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	ContractID string         `json:"contract_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	Details    audit.Details  `json:"details"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type AuditPageDTO struct {
	Entries []AuditEntryDTO `json:"entries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

type AuditStatsDTO struct {
	TotalContractsProcessed int             `json:"total_contracts_processed"`
	TotalPeriodsGenerated   int             `json:"total_periods_generated"`
	TotalAmountCalculated   decimal.Decimal `json:"total_amount_calculated"`
	SuccessRate             float64         `json:"success_rate"`
	AverageProcessingTimeMs float64         `json:"average_processing_time_ms"`
	ErrorsCount             int             `json:"errors_count"`
	LastExecution           *time.Time      `json:"last_execution"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Now         string `json:"now"` // pinned date that reproduces the expected result
	Expected    string `json:"expected"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBillingPeriodDTO(p billing.BillingPeriod) BillingPeriodDTO {
	return BillingPeriodDTO{
		ContractID:  string(p.ContractID),
		TenantID:    string(p.TenantID),
		PeriodStart: p.PeriodStart.String(),
		PeriodEnd:   p.PeriodEnd.String(),
		BillDate:    p.BillDate.String(),
		Amount:      p.Amount,
		Status:      string(p.Status),
		Metadata: PeriodMetadataDTO{
			IsRetroactive:        p.Metadata.IsRetroactive,
			LogicVersion:         p.Metadata.LogicVersion,
			FirstPeriodBillLogic: string(p.Metadata.FirstPeriodBillLogic),
		},
	}
}

func toBillingPeriodDTOs(periods []billing.BillingPeriod) []BillingPeriodDTO {
	dtos := make([]BillingPeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toBillingPeriodDTO(p)
	}
	return dtos
}

func toStatsDTO(s billing.Stats) StatsDTO {
	return StatsDTO{
		TotalPeriods:  s.TotalPeriods,
		TotalAmount:   s.TotalAmount,
		FirstBillDate: datePtr(s.FirstBillDate),
		LastBillDate:  datePtr(s.LastBillDate),
		PeriodRange: PeriodRangeDTO{
			Start: datePtr(s.PeriodRange.Start),
			End:   datePtr(s.PeriodRange.End),
		},
		AverageAmount: s.AverageAmount,
	}
}

func toApplyResponse(r ApplyResult) ApplyResponse {
	return ApplyResponse{
		ContractID:    string(r.Contract.ID),
		Eligible:      r.Eligible,
		Issues:        r.Issues,
		IsRetroactive: r.Retroactive,
		Persisted:     r.Persisted,
		Periods:       toBillingPeriodDTOs(r.Periods),
		Stats:         toStatsDTO(r.Stats),
	}
}

func toAuditEntryDTO(e audit.Entry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		TenantID:   string(e.TenantID),
		ContractID: string(e.ContractID),
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		Details:    e.Details,
		Metadata:   e.Metadata,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Timestamp:  e.Timestamp,
	}
}

func toAuditStatsDTO(s audit.Stats) AuditStatsDTO {
	return AuditStatsDTO{
		TotalContractsProcessed: s.TotalContractsProcessed,
		TotalPeriodsGenerated:   s.TotalPeriodsGenerated,
		TotalAmountCalculated:   s.TotalAmountCalculated,
		SuccessRate:             s.SuccessRate,
		AverageProcessingTimeMs: s.AverageProcessingTimeMs,
		ErrorsCount:             s.ErrorsCount,
		LastExecution:           s.LastExecution,
	}
}

func datePtr(tp *generic.TimePoint) *string {
	if tp == nil {
		return nil
	}
	s := tp.String()
	return &s
}

/*
Package factory provides JSON to Go contract conversion.

PURPOSE:
  Converts JSON contract payloads into billing.Contract values. Payloads
  come from the HTTP API, from demo scenarios and from whatever system owns
  the contract rows, so the factory accepts the field names those systems
  use.

JSON SCHEMA:
  {
    "id": "ctr-001",
    "tenant_id": "tenant-a",
    "contract_number": "2024/001",
    "start_date": "2024-01-15",
    "end_date": null,
    "billing_day": 10,
    "billing_cycle": "MONTHLY",
    "monthly_value": "1000.00",
    "status": "ACTIVE",
    "auto_billing": true,
    "generate_billing": true
  }

ALIASES:
  start_date    | initial_date
  end_date      | final_date
  billing_cycle | billing_type

LENIENCY:
  Missing fields are left at their zero value so that eligibility can
  report them (billing.EligibilityIssues). The factory only rejects values
  that cannot be represented at all: unparseable dates (generic.ErrInvalidDate)
  and malformed amounts or unknown statuses (generic.ContractValidationError).
  Unknown billing cycles are kept as given and bill monthly.

USAGE:
  factory := NewContractFactory()
  contract, err := factory.ParseContract(jsonString)

SEE ALSO:
  - billing/types.go: Contract type definition
  - api/scenarios.go: Demo contracts built through this factory
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ContractJSON is the JSON representation of a contract.
type ContractJSON struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ContractNumber  string          `json:"contract_number,omitempty"`
	StartDate       string          `json:"start_date,omitempty"`
	InitialDate     string          `json:"initial_date,omitempty"`
	EndDate         *string         `json:"end_date,omitempty"`
	FinalDate       *string         `json:"final_date,omitempty"`
	BillingDay      int             `json:"billing_day"`
	BillingCycle    string          `json:"billing_cycle,omitempty"`
	BillingType     string          `json:"billing_type,omitempty"`
	MonthlyValue    json.RawMessage `json:"monthly_value,omitempty"` // number or string
	Status          string          `json:"status"`
	AutoBilling     bool            `json:"auto_billing"`
	GenerateBilling bool            `json:"generate_billing"`
}

// =============================================================================
// CONTRACT FACTORY
// =============================================================================

// ContractFactory converts JSON contracts to Go structs.
type ContractFactory struct{}

// NewContractFactory creates a new contract factory.
func NewContractFactory() *ContractFactory {
	return &ContractFactory{}
}

// ParseContract parses a JSON string into a Contract.
func (f *ContractFactory) ParseContract(jsonStr string) (billing.Contract, error) {
	var cj ContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return billing.Contract{}, &generic.ContractValidationError{
			Problems: []string{fmt.Sprintf("malformed JSON: %v", err)},
		}
	}
	return f.FromJSON(cj)
}

// FromJSON converts ContractJSON to billing.Contract.
func (f *ContractFactory) FromJSON(cj ContractJSON) (billing.Contract, error) {
	c := billing.Contract{
		ID:              generic.ContractID(strings.TrimSpace(cj.ID)),
		TenantID:        generic.TenantID(strings.TrimSpace(cj.TenantID)),
		ContractNumber:  cj.ContractNumber,
		BillingDay:      cj.BillingDay,
		AutoBilling:     cj.AutoBilling,
		GenerateBilling: cj.GenerateBilling,
	}

	// Dates first: an unparseable date is an ErrInvalidDate, not a validation list.
	start := firstNonEmpty(cj.StartDate, cj.InitialDate)
	if start != "" {
		tp, err := generic.ParseTimePoint(start)
		if err != nil {
			return billing.Contract{}, fmt.Errorf("start_date: %w", err)
		}
		c.StartDate = tp
	}

	end := cj.EndDate
	if end == nil {
		end = cj.FinalDate
	}
	if end != nil && strings.TrimSpace(*end) != "" {
		tp, err := generic.ParseTimePoint(*end)
		if err != nil {
			return billing.Contract{}, fmt.Errorf("end_date: %w", err)
		}
		c.EndDate = &tp
	}

	var problems []string

	amount, err := parseAmount(cj.MonthlyValue)
	if err != nil {
		problems = append(problems, err.Error())
	}
	c.MonthlyValue = amount

	c.BillingCycle = generic.CycleMonthly
	if raw := firstNonEmpty(cj.BillingCycle, cj.BillingType); raw != "" {
		c.BillingCycle = generic.ParseBillingCycle(raw)
	}

	if cj.Status != "" {
		c.Status = parseStatus(cj.Status)
		if c.Status == "" {
			problems = append(problems, fmt.Sprintf("unknown status %q", cj.Status))
		}
	}

	if len(problems) > 0 {
		return billing.Contract{}, &generic.ContractValidationError{Problems: problems}
	}
	return c, nil
}

// ToJSON converts a Contract to ContractJSON using the canonical field names.
func (f *ContractFactory) ToJSON(c billing.Contract) ContractJSON {
	cj := ContractJSON{
		ID:              string(c.ID),
		TenantID:        string(c.TenantID),
		ContractNumber:  c.ContractNumber,
		StartDate:       c.StartDate.String(),
		BillingDay:      c.BillingDay,
		BillingCycle:    string(c.BillingCycle),
		MonthlyValue:    json.RawMessage(`"` + c.MonthlyValue.String() + `"`),
		Status:          string(c.Status),
		AutoBilling:     c.AutoBilling,
		GenerateBilling: c.GenerateBilling,
	}
	if c.EndDate != nil {
		end := c.EndDate.String()
		cj.EndDate = &end
	}
	return cj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// parseAmount accepts a JSON number, a JSON string or null.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("monthly_value: %v", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return decimal.Zero, nil
		}
	} else {
		s = string(raw)
	}

	d, err := generic.ParseDecimal(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("monthly_value %q is not a number", s)
	}
	return d, nil
}

func parseStatus(s string) billing.ContractStatus {
	switch billing.ContractStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case billing.ContractActive:
		return billing.ContractActive
	case billing.ContractInactive:
		return billing.ContractInactive
	case billing.ContractSuspended:
		return billing.ContractSuspended
	case billing.ContractCancelled, "CANCELED":
		return billing.ContractCancelled
	default:
		return ""
	}
}

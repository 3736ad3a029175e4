/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built contracts that exercise each branch of the
	retroactive billing rules. Every scenario pins a "now" so that preview
	and apply produce the documented result on any day.

AVAILABLE SCENARIOS (now = 2024-03-15 unless noted):
	tie-break:        Billing day equals today, first bill is today
	configured-day:   Billing day after today, first bill on the configured day
	end-date:         Contract ended mid-February, one period
	quarterly:        Quarterly cadence, three periods
	long-running:     Five-year-old open-ended contract, capped at 13 periods
	ineligible:       Suspended contract, rejected with reasons
	current-month:    Starts this month, skipped

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Parse each contract through the factory
 3. Save contracts

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "tie-break"}

	POST /api/contracts/ctr-tie-break/retroactive/preview?now=2024-03-15

NOTE:
	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Preview and apply handlers
  - factory/contract.go: Contract JSON
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	contracts []string // factory JSON
}

const scenarioNow = "2024-03-15"

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "tie-break",
			Name:        "Billing Day Reached",
			Description: "Started 2024-01-15, billing day 15. The billing day has been reached this month.",
			Now:         scenarioNow,
			Expected:    "2 periods; first bill date 2024-03-15 (CURRENT_DATE)",
		},
		contracts: []string{`{
			"id": "ctr-tie-break", "tenant_id": "tenant-demo", "contract_number": "DEMO-001",
			"start_date": "2024-01-15", "billing_day": 15, "billing_cycle": "MONTHLY",
			"monthly_value": 1000, "status": "ACTIVE", "auto_billing": true, "generate_billing": true
		}`},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "configured-day",
			Name:        "Billing Day Ahead",
			Description: "Started 2024-01-15, billing day 20. The billing day is still ahead this month.",
			Now:         scenarioNow,
			Expected:    "2 periods; first bill date 2024-01-20 (CONFIGURED_DAY)",
		},
		contracts: []string{`{
			"id": "ctr-configured-day", "tenant_id": "tenant-demo", "contract_number": "DEMO-002",
			"initial_date": "2024-01-15", "billing_day": 20, "billing_type": "monthly",
			"monthly_value": "1000.00", "status": "active", "auto_billing": true, "generate_billing": true
		}`},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "end-date",
			Name:        "Ended Contract",
			Description: "Started 2024-01-15, ended 2024-02-10.",
			Now:         scenarioNow,
			Expected:    "1 period starting 2024-01-15",
		},
		contracts: []string{`{
			"id": "ctr-end-date", "tenant_id": "tenant-demo", "contract_number": "DEMO-003",
			"start_date": "2024-01-15", "end_date": "2024-02-10", "billing_day": 10,
			"billing_cycle": "MONTHLY", "monthly_value": 750, "status": "ACTIVE",
			"auto_billing": true, "generate_billing": true
		}`},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "quarterly",
			Name:        "Quarterly Cadence",
			Description: "Started 2023-06-01 on a quarterly cycle, billing day 5.",
			Now:         scenarioNow,
			Expected:    "3 periods starting 2023-06-01, 2023-09-01, 2023-12-01",
		},
		contracts: []string{`{
			"id": "ctr-quarterly", "tenant_id": "tenant-demo", "contract_number": "DEMO-004",
			"start_date": "2023-06-01", "billing_day": 5, "billing_cycle": "QUARTERLY",
			"monthly_value": 3000, "status": "ACTIVE", "auto_billing": true, "generate_billing": true
		}`},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "long-running",
			Name:        "Long-Running Contract",
			Description: "Started 2019-03-10 with no end date. Generation stops one year after the start.",
			Now:         scenarioNow,
			Expected:    "13 periods",
		},
		contracts: []string{`{
			"id": "ctr-long-running", "tenant_id": "tenant-demo", "contract_number": "DEMO-005",
			"start_date": "2019-03-10", "billing_day": 10, "billing_cycle": "MONTHLY",
			"monthly_value": 500, "status": "ACTIVE", "auto_billing": true, "generate_billing": true
		}`},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "ineligible",
			Name:        "Suspended Contract",
			Description: "Suspended and with auto billing disabled.",
			Now:         scenarioNow,
			Expected:    "not eligible; issues listed; no periods",
		},
		contracts: []string{`{
			"id": "ctr-ineligible", "tenant_id": "tenant-demo", "contract_number": "DEMO-006",
			"start_date": "2024-01-15", "billing_day": 10, "billing_cycle": "MONTHLY",
			"monthly_value": 1000, "status": "SUSPENDED", "auto_billing": false, "generate_billing": true
		}`},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "current-month",
			Name:        "Starts This Month",
			Description: "Started 2024-03-05, inside the current month.",
			Now:         scenarioNow,
			Expected:    "eligible; not retroactive; no periods",
		},
		contracts: []string{`{
			"id": "ctr-current-month", "tenant_id": "tenant-demo", "contract_number": "DEMO-007",
			"start_date": "2024-03-05", "billing_day": 10, "billing_cycle": "MONTHLY",
			"monthly_value": 1000, "status": "ACTIVE", "auto_billing": true, "generate_billing": true
		}`},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := h.loadScenario(ctx, s); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID, "now": s.Now})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	for _, raw := range s.contracts {
		c, err := h.Contracts.ParseContract(raw)
		if err != nil {
			return err
		}
		if err := h.Store.SaveContract(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

/*
store.go - Persistence ports for contracts and generated periods

PURPOSE:
  The calculator itself never persists anything. These interfaces are the
  boundary the billing-generation workflow (api/apply.go) and the scheduler
  write through.

APPEND-ONLY PERIODS:
  Generated periods are never updated or deleted here. AppendPeriods is
  atomic and rejects a second period for the same (contract, period start)
  with generic.DuplicatePeriodError, which makes re-running the workflow
  for the same month safe.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - audit/store.go: Audit trail persistence
*/
package billing

import (
	"context"

	"github.com/warp/retro-billing/generic"
)

// ContractStore holds contract records.
type ContractStore interface {
	// SaveContract inserts or replaces a contract.
	SaveContract(ctx context.Context, c Contract) error

	// GetContract returns generic.ErrContractNotFound when missing.
	GetContract(ctx context.Context, id generic.ContractID) (Contract, error)

	// ListContracts returns contracts of a tenant; an empty tenant lists all.
	ListContracts(ctx context.Context, tenantID generic.TenantID) ([]Contract, error)
}

// PeriodStore holds generated billing periods.
type PeriodStore interface {
	// AppendPeriods persists all periods or none.
	AppendPeriods(ctx context.Context, periods []BillingPeriod) error

	// ListPeriods returns a contract's periods ordered by PeriodStart.
	ListPeriods(ctx context.Context, contractID generic.ContractID) ([]BillingPeriod, error)
}

// Store combines both ports.
type Store interface {
	ContractStore
	PeriodStore
}

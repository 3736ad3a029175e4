// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.Store and audit.Store.
type Memory struct {
	mu        sync.RWMutex
	contracts map[generic.ContractID]billing.Contract
	periods   map[generic.ContractID][]billing.BillingPeriod
	entries   []audit.Entry
}

type periodKey struct {
	ContractID  generic.ContractID
	PeriodStart generic.TimePoint
}

func NewMemory() *Memory {
	return &Memory{
		contracts: make(map[generic.ContractID]billing.Contract),
		periods:   make(map[generic.ContractID][]billing.BillingPeriod),
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (m *Memory) SaveContract(_ context.Context, c billing.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[c.ID] = c
	return nil
}

func (m *Memory) GetContract(_ context.Context, id generic.ContractID) (billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return billing.Contract{}, generic.ErrContractNotFound
	}
	return c, nil
}

func (m *Memory) ListContracts(_ context.Context, tenantID generic.TenantID) ([]billing.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []billing.Contract{}
	for _, c := range m.contracts {
		if tenantID == "" || c.TenantID == tenantID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// PERIODS
// =============================================================================

// AppendPeriods adds periods atomically. Append-only.
func (m *Memory) AppendPeriods(_ context.Context, periods []billing.BillingPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every key first (atomic check)
	seen := make(map[periodKey]bool)
	for _, p := range m.allPeriodsLocked() {
		seen[periodKey{p.ContractID, p.PeriodStart}] = true
	}
	for _, p := range periods {
		k := periodKey{p.ContractID, p.PeriodStart}
		if seen[k] {
			return &generic.DuplicatePeriodError{ContractID: p.ContractID, PeriodStart: p.PeriodStart}
		}
		seen[k] = true
	}

	// Append all (atomic write)
	for _, p := range periods {
		m.insertLocked(p)
	}
	return nil
}

func (m *Memory) insertLocked(p billing.BillingPeriod) {
	ps := m.periods[p.ContractID]

	i := sort.Search(len(ps), func(i int) bool {
		return ps[i].PeriodStart.After(p.PeriodStart)
	})

	ps = append(ps, billing.BillingPeriod{})
	copy(ps[i+1:], ps[i:])
	ps[i] = p
	m.periods[p.ContractID] = ps
}

func (m *Memory) allPeriodsLocked() []billing.BillingPeriod {
	var all []billing.BillingPeriod
	for _, ps := range m.periods {
		all = append(all, ps...)
	}
	return all
}

func (m *Memory) ListPeriods(_ context.Context, contractID generic.ContractID) ([]billing.BillingPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.BillingPeriod, len(m.periods[contractID]))
	copy(result, m.periods[contractID])
	return result, nil
}

// =============================================================================
// AUDIT ENTRIES
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) QueryEntries(_ context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []audit.Entry
	for _, e := range m.entries {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	page := make([]audit.Entry, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

// Reset drops everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = make(map[generic.ContractID]billing.Contract)
	m.periods = make(map[generic.ContractID][]billing.BillingPeriod)
	m.entries = nil
	return nil
}

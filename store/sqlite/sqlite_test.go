package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testContract() billing.Contract {
	end := generic.NewTimePoint(2024, time.December, 31)
	return billing.Contract{
		ID:              "ctr-1",
		TenantID:        "tenant-1",
		ContractNumber:  "2024/001",
		StartDate:       generic.NewTimePoint(2024, time.January, 15),
		EndDate:         &end,
		BillingDay:      10,
		BillingCycle:    generic.CycleQuarterly,
		MonthlyValue:    decimal.RequireFromString("1234.56"),
		Status:          billing.ContractActive,
		AutoBilling:     true,
		GenerateBilling: false,
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

func TestStore_ContractRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testContract()

	require.NoError(t, store.SaveContract(ctx, c))

	got, err := store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.TenantID, got.TenantID)
	assert.Equal(t, "2024-01-15", got.StartDate.String())
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2024-12-31", got.EndDate.String())
	assert.Equal(t, generic.CycleQuarterly, got.BillingCycle)
	assert.True(t, got.MonthlyValue.Equal(c.MonthlyValue))
	assert.True(t, got.AutoBilling)
	assert.False(t, got.GenerateBilling)
}

func TestStore_SaveContractUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testContract()
	require.NoError(t, store.SaveContract(ctx, c))

	// WHEN: Saving again without an end date
	c.EndDate = nil
	c.Status = billing.ContractSuspended
	require.NoError(t, store.SaveContract(ctx, c))

	got, err := store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EndDate)
	assert.Equal(t, billing.ContractSuspended, got.Status)

	all, err := store.ListContracts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_GetContractNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetContract(context.Background(), "nope")
	assert.True(t, errors.Is(err, generic.ErrContractNotFound))
}

func TestStore_ListContractsByTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, c := range []billing.Contract{
		{ID: "b", TenantID: "t1", StartDate: generic.NewTimePoint(2024, 1, 1), BillingCycle: generic.CycleMonthly},
		{ID: "a", TenantID: "t1", StartDate: generic.NewTimePoint(2024, 1, 1), BillingCycle: generic.CycleMonthly},
		{ID: "c", TenantID: "t2", StartDate: generic.NewTimePoint(2024, 1, 1), BillingCycle: generic.CycleMonthly},
	} {
		require.NoError(t, store.SaveContract(ctx, c))
	}

	t1, err := store.ListContracts(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, t1, 2)
	assert.Equal(t, generic.ContractID("a"), t1[0].ID)

	none, err := store.ListContracts(ctx, "t9")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

// =============================================================================
// PERIODS
// =============================================================================

func TestStore_AppendPeriods(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testContract()
	c.EndDate = nil
	c.BillingCycle = generic.CycleMonthly
	c.GenerateBilling = true
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

	periods := billing.GenerateRetroactivePeriods(c, now)
	require.Len(t, periods, 2)

	// GIVEN: Periods persisted once
	require.NoError(t, store.AppendPeriods(ctx, periods))

	got, err := store.ListPeriods(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-15", got[0].PeriodStart.String())
	assert.Equal(t, "2024-03-15", got[0].BillDate.String())
	assert.Equal(t, billing.BillOnCurrentDate, got[0].Metadata.FirstPeriodBillLogic)
	assert.Equal(t, billing.LogicVersion, got[0].Metadata.LogicVersion)
	assert.True(t, got[0].Metadata.IsRetroactive)
	assert.True(t, got[1].Amount.Equal(c.MonthlyValue))
	assert.Empty(t, got[1].Metadata.FirstPeriodBillLogic)

	// WHEN: The same run is persisted again
	err = store.AppendPeriods(ctx, periods)

	// THEN: It is rejected as a duplicate and nothing is added
	var dup *generic.DuplicatePeriodError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, c.ID, dup.ContractID)

	got, err = store.ListPeriods(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStore_AppendPeriodsIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testContract()
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	c.BillingCycle = generic.CycleMonthly

	periods := billing.GenerateRetroactivePeriods(c, now)
	require.NoError(t, store.AppendPeriods(ctx, periods[1:]))

	// The first period is new, the second collides: neither is written.
	err := store.AppendPeriods(ctx, periods)
	assert.True(t, generic.IsConflict(err))

	got, err := store.ListPeriods(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-02-01", got[0].PeriodStart.String())
}

func TestStore_CorruptRowsAreReported(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testContract()
	c.EndDate = nil
	c.BillingCycle = generic.CycleMonthly
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveContract(ctx, c))
	require.NoError(t, store.AppendPeriods(ctx, billing.GenerateRetroactivePeriods(c, now)))

	// GIVEN: A monthly value that is not a number
	_, err := store.db.ExecContext(ctx, `UPDATE contracts SET monthly_value = 'abc' WHERE id = ?`, c.ID)
	require.NoError(t, err)

	// THEN: Reading the contract fails instead of yielding a zero amount
	_, err = store.GetContract(ctx, c.ID)
	require.Error(t, err)
	assert.False(t, generic.IsNotFound(err))
	assert.Contains(t, err.Error(), "monthly_value")

	// GIVEN: A period amount that is not a number
	_, err = store.db.ExecContext(ctx, `UPDATE billing_periods SET amount = 'x' WHERE period_start = '2024-01-15'`)
	require.NoError(t, err)

	_, err = store.ListPeriods(ctx, c.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")

	// GIVEN: A bill date that is not a date
	_, err = store.db.ExecContext(ctx, `UPDATE billing_periods SET amount = '1000', bill_date = 'someday'`)
	require.NoError(t, err)

	_, err = store.ListPeriods(ctx, c.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidDate)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestStore_AuditEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	total := decimal.NewFromInt(2000)

	entries := []audit.Entry{
		{ID: "e1", TenantID: "t1", ContractID: "c-1", Action: audit.ActionPeriodsCalculated,
			Details:   audit.Details{PeriodsGenerated: 2, Performance: &audit.PerformanceMetrics{CalculationTimeMs: 1.5, PeriodsProcessed: 2}},
			Timestamp: base},
		{ID: "e2", TenantID: "t1", ContractID: "c-1", ActorID: "user-1", Action: audit.ActionBillingGenerated,
			Details:   audit.Details{PeriodsGenerated: 2, TotalAmount: &total},
			Metadata:  map[string]any{"current_day": 15},
			Timestamp: base.Add(500 * time.Millisecond)},
		{ID: "e3", TenantID: "t1", ContractID: "c-2", Action: audit.ActionLogicSkipped,
			Timestamp: base.Add(time.Hour)},
		{ID: "e4", TenantID: "t2", ContractID: "c-9", Action: audit.ActionLogicSkipped,
			Timestamp: base},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendEntry(ctx, e))
	}

	got, n, err := store.QueryEntries(ctx, audit.Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e3", "e2", "e1"}, []string{got[0].ID, got[1].ID, got[2].ID})

	e2 := got[1]
	assert.Equal(t, "user-1", e2.ActorID)
	require.NotNil(t, e2.Details.TotalAmount)
	assert.Equal(t, "2000", e2.Details.TotalAmount.String())
	assert.Equal(t, float64(15), e2.Metadata["current_day"]) // JSON numbers decode as float64
	assert.True(t, e2.Timestamp.Equal(base.Add(500*time.Millisecond)))

	require.NotNil(t, got[2].Details.Performance)
	assert.Equal(t, 1.5, got[2].Details.Performance.CalculationTimeMs)

	// Filters
	got, n, err = store.QueryEntries(ctx, audit.Filter{TenantID: "t1", ContractID: "c-1", Action: audit.ActionBillingGenerated})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "e2", got[0].ID)

	from, to := base.Add(time.Millisecond), base.Add(time.Minute)
	_, n, err = store.QueryEntries(ctx, audit.Filter{TenantID: "t1", From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Paging keeps the unpaged total
	got, n, err = store.QueryEntries(ctx, audit.Filter{TenantID: "t1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := testContract()
	require.NoError(t, store.SaveContract(ctx, c))
	require.NoError(t, store.AppendEntry(ctx, audit.Entry{ID: "e1", TenantID: "tenant-1", ContractID: c.ID, Action: audit.ActionLogicSkipped, Timestamp: time.Now()}))

	require.NoError(t, store.Reset(ctx))

	contracts, err := store.ListContracts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, contracts)
	_, n, err := store.QueryEntries(ctx, audit.Filter{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

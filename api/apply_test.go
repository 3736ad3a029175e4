package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
	"github.com/warp/retro-billing/generic/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var pinnedNow = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

func contractFixture(id string, start generic.TimePoint, billingDay int) billing.Contract {
	return billing.Contract{
		ID:              generic.ContractID(id),
		TenantID:        "tenant-1",
		StartDate:       start,
		BillingDay:      billingDay,
		BillingCycle:    generic.CycleMonthly,
		MonthlyValue:    decimal.NewFromInt(1000),
		Status:          billing.ContractActive,
		AutoBilling:     true,
		GenerateBilling: true,
	}
}

func newTestApplier(t *testing.T) (*Applier, *store.Memory, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	mem := store.NewMemory()
	applier := NewApplier(mem, audit.NewService(mem, logger, audit.WithClock(steppingClock())), billing.Generator{}, logger)
	return applier, mem, logs
}

// steppingClock keeps audit timestamps strictly increasing.
func steppingClock() func() time.Time {
	tick := pinnedNow
	return func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
}

func actions(t *testing.T, mem *store.Memory) []audit.Action {
	entries, _, err := mem.QueryEntries(context.Background(), audit.Filter{TenantID: "tenant-1"})
	require.NoError(t, err)

	// Oldest first reads naturally in assertions.
	out := make([]audit.Action, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.Action
	}
	return out
}

// =============================================================================
// WORKFLOW
// =============================================================================

func TestApply_Ineligible(t *testing.T) {
	applier, mem, _ := newTestApplier(t)
	c := contractFixture("c-1", generic.NewTimePoint(2024, 1, 15), 10)
	c.AutoBilling = false

	result, err := applier.Apply(context.Background(), c, pinnedNow, ApplyOptions{Persist: true})

	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, []string{"auto billing disabled"}, result.Issues)
	assert.Empty(t, result.Periods)
	assert.Equal(t, []audit.Action{audit.ActionValidationFailed}, actions(t, mem))
}

func TestApply_NotRetroactive(t *testing.T) {
	applier, mem, _ := newTestApplier(t)
	c := contractFixture("c-1", generic.NewTimePoint(2024, 3, 5), 10)

	result, err := applier.Apply(context.Background(), c, pinnedNow, ApplyOptions{Persist: true})

	require.NoError(t, err)
	assert.True(t, result.Eligible)
	assert.False(t, result.Retroactive)
	assert.NotNil(t, result.Periods)
	assert.Empty(t, result.Periods)
	assert.Equal(t, 0, result.Stats.TotalPeriods)
	assert.Equal(t, []audit.Action{audit.ActionLogicSkipped}, actions(t, mem))
}

func TestApply_Preview(t *testing.T) {
	applier, mem, logs := newTestApplier(t)
	c := contractFixture("c-1", generic.NewTimePoint(2024, 1, 15), 15)

	result, err := applier.Apply(context.Background(), c, pinnedNow, ApplyOptions{})

	require.NoError(t, err)
	assert.True(t, result.Retroactive)
	assert.False(t, result.Persisted)
	require.Len(t, result.Periods, 2)
	assert.Equal(t, "2000", result.Stats.TotalAmount.String())

	// Nothing persisted
	periods, err := mem.ListPeriods(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, periods)

	assert.Equal(t, []audit.Action{
		audit.ActionPeriodsCalculated,
		audit.ActionLogicApplied,
		audit.ActionForecastCreated,
	}, actions(t, mem))

	// The application record also went to the structured log.
	assert.Equal(t, 1, logs.FilterMessage("retroactive billing logic applied").Len())
}

func TestApply_PersistThenDuplicate(t *testing.T) {
	applier, mem, _ := newTestApplier(t)
	ctx := context.Background()
	c := contractFixture("c-1", generic.NewTimePoint(2024, 1, 15), 15)

	// GIVEN: A first persisted run
	result, err := applier.Apply(ctx, c, pinnedNow, ApplyOptions{Persist: true, Actor: audit.Actor{ID: "user-1"}})
	require.NoError(t, err)
	assert.True(t, result.Persisted)

	periods, err := mem.ListPeriods(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)

	// WHEN: Running again for the same month
	result, err = applier.Apply(ctx, c, pinnedNow, ApplyOptions{Persist: true})

	// THEN: Rejected as a conflict, nothing new stored
	assert.True(t, generic.IsConflict(err))
	assert.False(t, result.Persisted)
	periods, err = mem.ListPeriods(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)

	assert.Equal(t, []audit.Action{
		audit.ActionPeriodsCalculated,
		audit.ActionLogicApplied,
		audit.ActionBillingGenerated,
		audit.ActionPeriodsCalculated,
		audit.ActionLogicApplied,
	}, actions(t, mem))
}

func TestApply_PersistNextMonthAppendsNewlyOwedPeriod(t *testing.T) {
	applier, mem, _ := newTestApplier(t)
	ctx := context.Background()
	c := contractFixture("c-1", generic.NewTimePoint(2024, 1, 15), 15)
	april := time.Date(2024, time.April, 15, 9, 0, 0, 0, time.UTC)

	// GIVEN: January and February persisted in March
	_, err := applier.Apply(ctx, c, pinnedNow, ApplyOptions{Persist: true})
	require.NoError(t, err)

	// WHEN: Running again in April
	result, err := applier.Apply(ctx, c, april, ApplyOptions{Persist: true})

	// THEN: Only March is appended, billed as the first period of this run
	require.NoError(t, err)
	assert.True(t, result.Persisted)
	require.Len(t, result.Periods, 1)
	march := result.Periods[0]
	assert.Equal(t, "2024-03-01", march.PeriodStart.String())
	assert.Equal(t, "2024-04-15", march.BillDate.String())
	assert.Equal(t, billing.BillOnCurrentDate, march.Metadata.FirstPeriodBillLogic)
	assert.Equal(t, "1000", result.Stats.TotalAmount.String())

	periods, err := mem.ListPeriods(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, "2024-01-15", periods[0].PeriodStart.String())
	assert.Equal(t, "2024-02-01", periods[1].PeriodStart.String())
	assert.Equal(t, "2024-03-01", periods[2].PeriodStart.String())

	// A second April run has nothing left to append
	_, err = applier.Apply(ctx, c, april, ApplyOptions{Persist: true})
	assert.True(t, generic.IsConflict(err))
}

func TestApply_PersistWithoutStore(t *testing.T) {
	applier := NewApplier(nil, nil, billing.Generator{}, nil)
	c := contractFixture("c-1", generic.NewTimePoint(2024, 1, 15), 15)

	_, err := applier.Apply(context.Background(), c, pinnedNow, ApplyOptions{Persist: true})
	assert.ErrorIs(t, err, errNoPeriodStore)

	result, err := applier.Apply(context.Background(), c, pinnedNow, ApplyOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Periods, 2)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestScheduler_RunNow(t *testing.T) {
	applier, mem, _ := newTestApplier(t)
	ctx := context.Background()

	retro := contractFixture("c-retro", generic.NewTimePoint(2024, 1, 15), 15)
	current := contractFixture("c-current", generic.NewTimePoint(2024, 3, 2), 15)
	suspended := contractFixture("c-suspended", generic.NewTimePoint(2023, 1, 15), 15)
	suspended.Status = billing.ContractSuspended
	for _, c := range []billing.Contract{retro, current, suspended} {
		require.NoError(t, mem.SaveContract(ctx, c))
	}

	scheduler := NewRetroactiveScheduler(mem, applier, nil)
	scheduler.Persist = true
	scheduler.Now = func() time.Time { return pinnedNow }

	// WHEN: Two passes in the same month
	first := scheduler.RunNow(ctx)
	second := scheduler.RunNow(ctx)

	// THEN: Periods are generated once, the second pass skips everything
	assert.Equal(t, RunSummary{Contracts: 3, Applied: 1, Periods: 2, Skipped: 2}, first)
	assert.Equal(t, RunSummary{Contracts: 3, Skipped: 3}, second)

	periods, err := mem.ListPeriods(ctx, retro.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 2)
}

func TestScheduler_RunNow_NextMonth(t *testing.T) {
	applier, mem, _ := newTestApplier(t)
	ctx := context.Background()

	c := contractFixture("c-retro", generic.NewTimePoint(2024, 1, 15), 15)
	require.NoError(t, mem.SaveContract(ctx, c))

	now := pinnedNow
	scheduler := NewRetroactiveScheduler(mem, applier, nil)
	scheduler.Persist = true
	scheduler.Now = func() time.Time { return now }

	// GIVEN: A pass in March
	require.Equal(t, RunSummary{Contracts: 1, Applied: 1, Periods: 2}, scheduler.RunNow(ctx))

	// WHEN: The clock moves to April
	now = time.Date(2024, time.April, 2, 8, 0, 0, 0, time.UTC)
	summary := scheduler.RunNow(ctx)

	// THEN: The newly owed March period is persisted
	assert.Equal(t, RunSummary{Contracts: 1, Applied: 1, Periods: 1}, summary)
	periods, err := mem.ListPeriods(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 3)
}

func TestScheduler_StartStop(t *testing.T) {
	applier, mem, _ := newTestApplier(t)
	scheduler := NewRetroactiveScheduler(mem, applier, nil)
	scheduler.CheckInterval = time.Hour

	scheduler.Start()
	scheduler.Start() // already running
	scheduler.Stop()
	scheduler.Stop() // already stopped

	scheduler.Enabled = false
	scheduler.Start()
	scheduler.Stop()
}

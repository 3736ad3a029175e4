package audit_test

import (
	"context"
	"errors"
	"fmt"
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

func testContract(id string) billing.Contract {
	return billing.Contract{
		ID:              generic.ContractID(id),
		TenantID:        "tenant-1",
		ContractNumber:  "N-" + id,
		StartDate:       generic.NewTimePoint(2024, time.January, 15),
		BillingDay:      20,
		BillingCycle:    generic.CycleMonthly,
		MonthlyValue:    decimal.NewFromInt(1000),
		Status:          billing.ContractActive,
		AutoBilling:     true,
		GenerateBilling: true,
	}
}

// steppingClock returns a clock advancing one second per call.
func steppingClock() func() time.Time {
	tick := pinnedNow
	return func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("entry-%03d", n)
	}
}

func newTestService(t *testing.T) (*audit.Service, *store.Memory) {
	mem := store.NewMemory()
	svc := audit.NewService(mem, zap.NewNop(),
		audit.WithClock(steppingClock()),
		audit.WithIDGenerator(sequentialIDs()),
	)
	return svc, mem
}

type failingStore struct{}

func (failingStore) AppendEntry(context.Context, audit.Entry) error {
	return errors.New("database is locked")
}

func (failingStore) QueryEntries(context.Context, audit.Filter) ([]audit.Entry, int, error) {
	return nil, 0, errors.New("database is locked")
}

// =============================================================================
// WRITE SIDE
// =============================================================================

func TestService_LogFillsIDAndTimestamp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := testContract("c-1")

	svc.LogValidationFailure(ctx, audit.Actor{ID: "user-1", IPAddress: "10.0.0.1"}, c, []string{"auto billing disabled"})

	page, err := svc.List(ctx, audit.Filter{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)

	e := page.Entries[0]
	assert.Equal(t, "entry-001", e.ID)
	assert.Equal(t, pinnedNow.Add(time.Second), e.Timestamp)
	assert.Equal(t, audit.ActionValidationFailed, e.Action)
	assert.Equal(t, "user-1", e.ActorID)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.Equal(t, []string{"auto billing disabled"}, e.Details.ValidationErrors)
}

func TestService_StoreFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc := audit.NewService(failingStore{}, zap.New(core))

	assert.NotPanics(t, func() {
		svc.LogSkipped(context.Background(), audit.SystemActor, testContract("c-1"), "not retroactive")
	})

	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorLogs, 1)
	assert.Equal(t, "failed to save retroactive billing audit entry", errorLogs[0].Message)
	assert.Equal(t, "RETROACTIVE_LOGIC_SKIPPED", errorLogs[0].ContextMap()["action"])
}

func TestService_Sink(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := testContract("c-1")
	periods := billing.GenerateRetroactivePeriods(c, pinnedNow)

	// WHEN: The calculator reports an application through the service sink
	billing.LogApplication(svc.Sink(ctx, audit.SystemActor, c), c, periods, pinnedNow)

	// THEN: A LOGIC_APPLIED entry carries the decision
	page, err := svc.List(ctx, audit.Filter{TenantID: "tenant-1", Action: audit.ActionLogicApplied})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)

	e := page.Entries[0]
	assert.Equal(t, "system:scheduler", e.ActorID)
	assert.Equal(t, 2, e.Details.PeriodsGenerated)
	assert.Equal(t, "2024-01-15", e.Details.ContractStartDate)
	assert.Equal(t, "N-c-1", e.Details.ContractNumber)
	assert.Equal(t, []string{billing.LogicVersion, "first_period_bill_configured_day"}, e.Details.AppliedRules)
	assert.Equal(t, "CONFIGURED_DAY", e.Metadata["first_period_bill_logic"])
	assert.Equal(t, "2024-01-20", e.Metadata["first_bill_date"])
	assert.Equal(t, 15, e.Metadata["current_day"])
}

// =============================================================================
// READ SIDE
// =============================================================================

func TestService_ListFiltersAndPages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, b := testContract("c-a"), testContract("c-b")

	for i := 0; i < 3; i++ {
		svc.LogForecastCreated(ctx, audit.SystemActor, a, 2)
	}
	svc.LogForecastCreated(ctx, audit.SystemActor, b, 1)
	other := testContract("c-x")
	other.TenantID = "tenant-2"
	svc.LogForecastCreated(ctx, audit.SystemActor, other, 1)

	// Tenant isolation
	page, err := svc.List(ctx, audit.Filter{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)

	// Newest first
	assert.Equal(t, generic.ContractID("c-b"), page.Entries[0].ContractID)

	// Contract filter with paging
	page, err = svc.List(ctx, audit.Filter{TenantID: "tenant-1", ContractID: "c-a", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "entry-002", page.Entries[0].ID)
	assert.Equal(t, "entry-001", page.Entries[1].ID)

	// Time window (entries are one second apart)
	from := pinnedNow.Add(2 * time.Second)
	to := pinnedNow.Add(3 * time.Second)
	page, err = svc.List(ctx, audit.Filter{TenantID: "tenant-1", From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestService_ListRejectsInvalidFilter(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.List(context.Background(), audit.Filter{})
	assert.True(t, errors.Is(err, generic.ErrInvalidFilter))
	assert.True(t, generic.IsClientError(err))
}

func TestService_Stats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, b := testContract("c-a"), testContract("c-b")
	periods := billing.GenerateRetroactivePeriods(a, pinnedNow)

	svc.LogCalculation(ctx, audit.SystemActor, a, periods, 4*time.Millisecond)
	svc.LogBillingGenerated(ctx, audit.SystemActor, a, len(periods), decimal.NewFromInt(2000))
	svc.LogSkipped(ctx, audit.SystemActor, b, "not retroactive")
	svc.LogValidationFailure(ctx, audit.SystemActor, b, []string{"missing billing day"})

	stats, err := svc.Stats(ctx, "tenant-1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalContractsProcessed)
	assert.Equal(t, 2, stats.TotalPeriodsGenerated)
	assert.Equal(t, "2000", stats.TotalAmountCalculated.String())
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
	assert.InDelta(t, 4.0, stats.AverageProcessingTimeMs, 0.001)
	assert.Equal(t, 2, stats.ErrorsCount)
	require.NotNil(t, stats.LastExecution)
	assert.Equal(t, pinnedNow.Add(4*time.Second), *stats.LastExecution)
}

func TestSummarize_Empty(t *testing.T) {
	stats := audit.Summarize(nil)

	assert.Equal(t, 0, stats.TotalContractsProcessed)
	assert.True(t, stats.TotalAmountCalculated.IsZero())
	assert.Zero(t, stats.SuccessRate)
	assert.Nil(t, stats.LastExecution)
}

// =============================================================================
// FILTER
// =============================================================================

func TestFilter_Validate(t *testing.T) {
	from := pinnedNow
	to := pinnedNow.Add(-time.Hour)

	tests := []struct {
		name   string
		filter audit.Filter
		ok     bool
	}{
		{"tenant only", audit.Filter{TenantID: "t"}, true},
		{"missing tenant", audit.Filter{}, false},
		{"unknown action", audit.Filter{TenantID: "t", Action: "DELETED"}, false},
		{"inverted window", audit.Filter{TenantID: "t", From: &from, To: &to}, false},
		{"negative limit", audit.Filter{TenantID: "t", Limit: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.filter.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, generic.ErrInvalidFilter)
			}
		})
	}
}

func TestFilter_ValidatePaging(t *testing.T) {
	f, err := audit.Filter{TenantID: "t", Offset: 10}.Validate()
	require.NoError(t, err)
	assert.Equal(t, audit.DefaultPageSize, f.Limit)

	f, err = audit.Filter{TenantID: "t", Limit: 10_000}.Validate()
	require.NoError(t, err)
	assert.Equal(t, audit.MaxPageSize, f.Limit)

	f, err = audit.Filter{TenantID: "t"}.Validate()
	require.NoError(t, err)
	assert.Zero(t, f.Limit)
}

func TestAction_IsFailure(t *testing.T) {
	assert.True(t, audit.ActionValidationFailed.IsFailure())
	assert.True(t, audit.ActionLogicSkipped.IsFailure())
	assert.False(t, audit.ActionBillingGenerated.IsFailure())
	assert.True(t, audit.ActionForecastCreated.Valid())
	assert.False(t, audit.Action("RETROACTIVE_SOMETHING").Valid())
}

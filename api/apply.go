/*
apply.go - Retroactive billing workflow

PURPOSE:
  Composes the pure calculator with storage and the audit trail. This is
  the single place where a contract goes from "row in a table" to
  "billing periods", and every branch leaves an audit entry.

FLOW:
  1. Eligibility     billing.EligibilityIssues     -> VALIDATION_FAILED
  2. Retroactivity   billing.IsRetroactive         -> LOGIC_SKIPPED
  3. Generation      Generator.Generate (timed)    -> PERIODS_CALCULATED
  4. Application     billing.LogApplication        -> LOGIC_APPLIED + zap line
  5. Persistence     PeriodStore.AppendPeriods     -> BILLING_GENERATED
     or forecast only                              -> FORECAST_CREATED
  6. Statistics      billing.CalculateStats

IDEMPOTENCE:
  Persisting compares the generated periods with the stored ones and
  appends only the missing starts. The first appended period follows the
  first-period bill rule, so a month that became owed after an earlier
  run is billed like a fresh retroactive period. When every generated
  period is already stored the run fails with generic.DuplicatePeriodError
  and writes nothing.

SEE ALSO:
  - handlers.go: Preview and apply endpoints
  - scheduler.go: Periodic runs over stored contracts
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
	"go.uber.org/zap"
)

// errNoPeriodStore is returned when persistence is requested without a store.
var errNoPeriodStore = errors.New("no period store configured")

// Applier runs the retroactive billing workflow for one contract at a time.
type Applier struct {
	Periods   billing.PeriodStore // nil allows previews only
	Audit     *audit.Service
	Generator billing.Generator
	Logger    *zap.Logger
}

// NewApplier creates an applier. A nil audit service becomes a log-only one.
func NewApplier(periods billing.PeriodStore, auditSvc *audit.Service, gen billing.Generator, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditSvc == nil {
		auditSvc = audit.NewService(nil, logger)
	}
	return &Applier{
		Periods:   periods,
		Audit:     auditSvc,
		Generator: gen,
		Logger:    logger.Named("retroactive"),
	}
}

// ApplyOptions controls one run.
type ApplyOptions struct {
	// Persist appends the generated periods; otherwise they are a forecast.
	Persist bool
	Actor   audit.Actor
}

// ApplyResult describes what the workflow decided.
type ApplyResult struct {
	Contract    billing.Contract
	Eligible    bool
	Issues      []string
	Retroactive bool
	Periods     []billing.BillingPeriod
	Stats       billing.Stats
	Persisted   bool
}

// Apply runs the workflow for c as of now. A zero now means the wall clock.
// Only persistence failures are returned; rejected and skipped contracts
// produce a result with Eligible or Retroactive false.
func (a *Applier) Apply(ctx context.Context, c billing.Contract, now time.Time, opts ApplyOptions) (ApplyResult, error) {
	if now.IsZero() {
		now = time.Now()
	}

	result := ApplyResult{
		Contract: c,
		Periods:  []billing.BillingPeriod{},
		Stats:    billing.CalculateStats(nil),
	}

	result.Issues = billing.EligibilityIssues(c)
	if len(result.Issues) > 0 {
		a.Audit.LogValidationFailure(ctx, opts.Actor, c, result.Issues)
		return result, nil
	}
	result.Eligible = true

	if !billing.IsRetroactive(c.StartDate, now) {
		a.Audit.LogSkipped(ctx, opts.Actor, c, "contract starts in or after the current month")
		return result, nil
	}
	result.Retroactive = true

	if !c.BillingCycle.Known() {
		a.Logger.Warn("unknown billing cycle, billing monthly",
			zap.String("contract_id", string(c.ID)),
			zap.String("billing_cycle", string(c.BillingCycle)),
		)
	}

	started := time.Now()
	periods := a.Generator.Generate(c, now)
	a.Audit.LogCalculation(ctx, opts.Actor, c, periods, time.Since(started))

	billing.LogApplication(billing.MultiSink{
		billing.ZapSink{Logger: a.Logger},
		a.Audit.Sink(ctx, opts.Actor, c),
	}, c, periods, now)

	result.Periods = periods
	result.Stats = billing.CalculateStats(periods)

	if !opts.Persist {
		a.Audit.LogForecastCreated(ctx, opts.Actor, c, len(periods))
		return result, nil
	}
	if len(periods) == 0 {
		return result, nil
	}
	if a.Periods == nil {
		return result, errNoPeriodStore
	}

	fresh, err := a.unstored(ctx, c, periods, now)
	if err != nil {
		return result, fmt.Errorf("contract %s: %w", c.ID, err)
	}
	if len(fresh) == 0 {
		return result, fmt.Errorf("contract %s: %w", c.ID, &generic.DuplicatePeriodError{
			ContractID:  c.ID,
			PeriodStart: periods[0].PeriodStart,
		})
	}

	if err := a.Periods.AppendPeriods(ctx, fresh); err != nil {
		a.Logger.Warn("failed to persist retroactive periods",
			zap.String("contract_id", string(c.ID)),
			zap.Int("periods", len(fresh)),
			zap.Error(err),
		)
		return result, fmt.Errorf("contract %s: %w", c.ID, err)
	}
	result.Periods = fresh
	result.Stats = billing.CalculateStats(fresh)
	result.Persisted = true
	a.Audit.LogBillingGenerated(ctx, opts.Actor, c, len(fresh), result.Stats.TotalAmount)

	return result, nil
}

// unstored drops the periods whose start is already persisted. When earlier
// periods were stored by a previous run, the first remaining period is
// rebuilt as the first period of this run.
func (a *Applier) unstored(ctx context.Context, c billing.Contract, periods []billing.BillingPeriod, now time.Time) ([]billing.BillingPeriod, error) {
	stored, err := a.Periods.ListPeriods(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored periods: %w", err)
	}
	if len(stored) == 0 {
		return periods, nil
	}

	seen := make(map[string]struct{}, len(stored))
	for _, p := range stored {
		seen[p.PeriodStart.String()] = struct{}{}
	}

	fresh := make([]billing.BillingPeriod, 0, len(periods))
	for _, p := range periods {
		if _, ok := seen[p.PeriodStart.String()]; ok {
			continue
		}
		if len(fresh) == 0 && p.Metadata.FirstPeriodBillLogic == "" {
			p = billing.CreateFullPeriod(c, p.PeriodStart, true, now)
		}
		fresh = append(fresh, p)
	}
	return fresh, nil
}

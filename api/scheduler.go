/*
scheduler.go - Automated retroactive billing scheduler

PURPOSE:
  Periodically runs the retroactive billing workflow over every stored
  contract, so that contracts registered late get their missing periods
  without anyone calling the apply endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Ineligible and non-retroactive contracts are audited and skipped
  - Only periods missing from the store are appended, so a month that
    becomes owed later is persisted on the next pass
  - A pass with nothing new to append counts as skipped, not failed
  - With Persist false the scheduler only forecasts

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - Persist: Append periods instead of forecasting (default: false)

USAGE:
  scheduler := NewRetroactiveScheduler(store, applier, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - apply.go: The workflow run per contract
  - handlers.go: ApplyContract endpoint (manual run)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
	"go.uber.org/zap"
)

// RunSummary counts the outcome of one scheduler pass.
type RunSummary struct {
	Contracts int
	Applied   int
	Periods   int
	Skipped   int
	Failed    int
}

// RetroactiveScheduler handles automated retroactive billing.
type RetroactiveScheduler struct {
	Contracts     billing.ContractStore
	Applier       *Applier
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Persist       bool

	// Now is the clock used for each pass. Defaults to time.Now.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRetroactiveScheduler creates a new scheduler.
func NewRetroactiveScheduler(contracts billing.ContractStore, applier *Applier, logger *zap.Logger) *RetroactiveScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetroactiveScheduler{
		Contracts:     contracts,
		Applier:       applier,
		Logger:        logger.Named("scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (rs *RetroactiveScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("scheduler started",
		zap.Duration("interval", rs.CheckInterval),
		zap.Bool("persist", rs.Persist),
	)
}

// Stop stops the scheduler and waits for an in-flight pass.
func (rs *RetroactiveScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("scheduler stopped")
	}
}

func (rs *RetroactiveScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			rs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass over all stored contracts.
func (rs *RetroactiveScheduler) RunNow(ctx context.Context) RunSummary {
	var summary RunSummary
	now := rs.Now()

	contracts, err := rs.Contracts.ListContracts(ctx, "")
	if err != nil {
		rs.Logger.Error("failed to list contracts", zap.Error(err))
		return summary
	}
	summary.Contracts = len(contracts)

	opts := ApplyOptions{Persist: rs.Persist, Actor: audit.SystemActor}
	for _, c := range contracts {
		result, err := rs.Applier.Apply(ctx, c, now, opts)
		switch {
		case generic.IsConflict(err):
			summary.Skipped++
		case err != nil:
			summary.Failed++
			rs.Logger.Error("retroactive billing failed",
				zap.String("contract_id", string(c.ID)),
				zap.Error(err),
			)
		case !result.Eligible || !result.Retroactive:
			summary.Skipped++
		default:
			summary.Applied++
			summary.Periods += len(result.Periods)
		}
	}

	if summary.Applied > 0 || summary.Failed > 0 {
		rs.Logger.Info("scheduler pass completed",
			zap.Int("contracts", summary.Contracts),
			zap.Int("applied", summary.Applied),
			zap.Int("periods", summary.Periods),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *RetroactiveScheduler) GetNextRunTime() time.Time {
	return rs.Now().Add(rs.CheckInterval)
}

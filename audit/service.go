package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
	"go.uber.org/zap"
)

// Service writes and reads the retroactive billing audit trail.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a service. A nil store only logs; a nil logger is a no-op logger.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		logger: logger.Named("audit"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// WRITE SIDE
// =============================================================================

// Log persists e and emits a structured log line. Failures are logged, never returned.
func (s *Service) Log(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}

	s.logger.Info("retroactive billing audit",
		zap.String("action", string(e.Action)),
		zap.String("contract_id", string(e.ContractID)),
		zap.String("tenant_id", string(e.TenantID)),
		zap.Any("details", e.Details),
	)

	if s.store == nil {
		return
	}
	if err := s.store.AppendEntry(ctx, e); err != nil {
		s.logger.Error("failed to save retroactive billing audit entry",
			zap.Error(err),
			zap.String("entry_id", e.ID),
			zap.String("action", string(e.Action)),
			zap.String("contract_id", string(e.ContractID)),
		)
	}
}

func (s *Service) entry(actor Actor, c billing.Contract, action Action, details Details) Entry {
	return Entry{
		TenantID:   c.TenantID,
		ContractID: c.ID,
		ActorID:    actor.ID,
		Action:     action,
		Details:    details,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
	}
}

// LogCalculation records that periods were computed and how long it took.
func (s *Service) LogCalculation(ctx context.Context, actor Actor, c billing.Contract, periods []billing.BillingPeriod, elapsed time.Duration) {
	total := billing.CalculateStats(periods).TotalAmount
	s.Log(ctx, s.entry(actor, c, ActionPeriodsCalculated, Details{
		PeriodsGenerated: len(periods),
		TotalAmount:      &total,
		Performance: &PerformanceMetrics{
			CalculationTimeMs: float64(elapsed.Microseconds()) / 1000,
			PeriodsProcessed:  len(periods),
		},
	}))
}

// LogBillingGenerated records persisted periods.
func (s *Service) LogBillingGenerated(ctx context.Context, actor Actor, c billing.Contract, generated int, total decimal.Decimal) {
	s.Log(ctx, s.entry(actor, c, ActionBillingGenerated, Details{
		PeriodsGenerated: generated,
		TotalAmount:      &total,
		AppliedRules:     []string{"retroactive_billing_generation", "automatic_due_date_calculation"},
	}))
}

// LogForecastCreated records periods computed without persisting them.
func (s *Service) LogForecastCreated(ctx context.Context, actor Actor, c billing.Contract, forecasts int) {
	s.Log(ctx, s.entry(actor, c, ActionForecastCreated, Details{
		PeriodsGenerated: forecasts,
		AppliedRules:     []string{"retroactive_forecast_generation", "future_period_calculation"},
	}))
}

// LogValidationFailure records why a contract is not eligible.
func (s *Service) LogValidationFailure(ctx context.Context, actor Actor, c billing.Contract, problems []string) {
	s.Log(ctx, s.entry(actor, c, ActionValidationFailed, Details{
		ValidationErrors: problems,
		AppliedRules:     []string{"retroactive_validation"},
	}))
}

// LogSkipped records an eligible contract that needed no retroactive billing.
func (s *Service) LogSkipped(ctx context.Context, actor Actor, c billing.Contract, reason string) {
	s.Log(ctx, s.entry(actor, c, ActionLogicSkipped, Details{
		ValidationErrors: []string{reason},
		AppliedRules:     []string{"retroactive_validation_check"},
	}))
}

// Sink returns a billing.AuditSink that persists application records for c.
func (s *Service) Sink(ctx context.Context, actor Actor, c billing.Contract) billing.AuditSink {
	return billing.SinkFunc(func(rec billing.ApplicationRecord) error {
		total := rec.TotalAmount
		details := Details{
			ContractNumber:    c.ContractNumber,
			ContractStartDate: rec.ContractStart.String(),
			BillingCycle:      string(c.BillingCycle),
			PeriodsGenerated:  rec.PeriodsCreated,
			TotalAmount:       &total,
			CalculationMethod: "automatic_retroactive",
			AppliedRules: []string{
				rec.LogicVersion,
				"first_period_bill_" + strings.ToLower(string(rec.FirstPeriodBillLogic)),
			},
		}
		if rec.ContractEnd != nil {
			details.ContractEndDate = rec.ContractEnd.String()
		}

		e := s.entry(actor, c, ActionLogicApplied, details)
		e.Metadata = map[string]any{
			"creation_date":           rec.CreationDate.String(),
			"configured_billing_day":  rec.ConfiguredBillingDay,
			"current_day":             rec.CurrentDay,
			"first_period_bill_logic": string(rec.FirstPeriodBillLogic),
			"logic_version":           rec.LogicVersion,
		}
		if rec.FirstBillDate != nil {
			e.Metadata["first_bill_date"] = rec.FirstBillDate.String()
		}
		s.Log(ctx, e)
		return nil
	})
}

// =============================================================================
// READ SIDE
// =============================================================================

// List returns a page of the tenant's audit trail, newest first.
func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	f, err := f.Validate()
	if err != nil {
		return Page{}, err
	}
	if s.store == nil {
		return Page{Entries: []Entry{}}, nil
	}
	entries, total, err := s.store.QueryEntries(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return Page{Entries: entries, Total: total}, nil
}

// Stats aggregates the tenant's trail within [from, to]; nil bounds are open.
func (s *Service) Stats(ctx context.Context, tenantID generic.TenantID, from, to *time.Time) (Stats, error) {
	page, err := s.List(ctx, Filter{TenantID: tenantID, From: from, To: to})
	if err != nil {
		return Stats{}, err
	}
	return Summarize(page.Entries), nil
}

// Summarize aggregates entries:
//   - contracts processed counts distinct contract ids
//   - periods generated sums PERIODS_CALCULATED entries
//   - amount calculated sums BILLING_GENERATED entries
//   - success rate is the share of entries that are neither failed nor skipped
func Summarize(entries []Entry) Stats {
	stats := Stats{TotalAmountCalculated: decimal.Zero}
	if len(entries) == 0 {
		return stats
	}

	contracts := make(map[generic.ContractID]struct{})
	var successes, timed int
	var totalMs float64

	for _, e := range entries {
		contracts[e.ContractID] = struct{}{}

		switch e.Action {
		case ActionPeriodsCalculated:
			stats.TotalPeriodsGenerated += e.Details.PeriodsGenerated
		case ActionBillingGenerated:
			if e.Details.TotalAmount != nil {
				stats.TotalAmountCalculated = stats.TotalAmountCalculated.Add(*e.Details.TotalAmount)
			}
		}

		if e.Action.IsFailure() {
			stats.ErrorsCount++
		} else {
			successes++
		}

		if p := e.Details.Performance; p != nil && p.CalculationTimeMs > 0 {
			totalMs += p.CalculationTimeMs
			timed++
		}

		if stats.LastExecution == nil || e.Timestamp.After(*stats.LastExecution) {
			ts := e.Timestamp
			stats.LastExecution = &ts
		}
	}

	stats.TotalContractsProcessed = len(contracts)
	stats.SuccessRate = float64(successes) / float64(len(entries)) * 100
	if timed > 0 {
		stats.AverageProcessingTimeMs = totalMs / float64(timed)
	}
	return stats
}

package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/retro-billing/generic"
	"go.uber.org/zap"
)

// EventLogicApplied names the application record.
const EventLogicApplied = "RETROACTIVE_LOGIC_APPLIED"

// ApplicationRecord summarizes one application of the retroactive logic.
type ApplicationRecord struct {
	Event                string
	ContractID           generic.ContractID
	TenantID             generic.TenantID
	ContractStart        generic.TimePoint
	ContractEnd          *generic.TimePoint
	CreationDate         generic.TimePoint
	ConfiguredBillingDay int
	CurrentDay           int
	FirstPeriodBillLogic FirstPeriodBillLogic
	PeriodsCreated       int
	TotalAmount          decimal.Decimal
	FirstBillDate        *generic.TimePoint
	LogicVersion         string
	Timestamp            time.Time
}

// NewApplicationRecord builds the record LogApplication emits.
func NewApplicationRecord(c Contract, periods []BillingPeriod, now time.Time) ApplicationRecord {
	now = resolveNow(now)
	today := generic.DateOf(now)

	rec := ApplicationRecord{
		Event:                EventLogicApplied,
		ContractID:           c.ID,
		TenantID:             c.TenantID,
		ContractStart:        c.StartDate,
		ContractEnd:          c.EndDate,
		CreationDate:         today,
		ConfiguredBillingDay: c.BillingDay,
		CurrentDay:           today.Day(),
		FirstPeriodBillLogic: FirstPeriodBillRule(c, now),
		PeriodsCreated:       len(periods),
		TotalAmount:          totalAmount(periods),
		LogicVersion:         LogicVersion,
		Timestamp:            time.Now().UTC(),
	}
	if len(periods) > 0 {
		rec.FirstBillDate = periods[0].BillDate.Ptr()
	}
	return rec
}

// =============================================================================
// SINKS
// =============================================================================

// AuditSink receives application records. Implementations may fail; the
// failure never reaches the caller of LogApplication.
type AuditSink interface {
	RecordApplication(rec ApplicationRecord) error
}

// SinkFunc adapts a function to AuditSink.
type SinkFunc func(rec ApplicationRecord) error

func (f SinkFunc) RecordApplication(rec ApplicationRecord) error { return f(rec) }

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []AuditSink

func (m MultiSink) RecordApplication(rec ApplicationRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := safeRecord(s, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ZapSink writes records as structured log lines.
type ZapSink struct {
	Logger *zap.Logger
}

func (s ZapSink) RecordApplication(rec ApplicationRecord) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.L()
	}
	fields := []zap.Field{
		zap.String("event", rec.Event),
		zap.String("contract_id", string(rec.ContractID)),
		zap.String("tenant_id", string(rec.TenantID)),
		zap.Stringer("contract_start", rec.ContractStart),
		zap.Stringer("creation_date", rec.CreationDate),
		zap.Int("configured_billing_day", rec.ConfiguredBillingDay),
		zap.Int("current_day", rec.CurrentDay),
		zap.String("first_period_bill_date_logic", string(rec.FirstPeriodBillLogic)),
		zap.Int("periods_created", rec.PeriodsCreated),
		zap.String("total_amount", rec.TotalAmount.String()),
		zap.String("logic_version", rec.LogicVersion),
		zap.Time("timestamp", rec.Timestamp),
	}
	if rec.ContractEnd != nil {
		fields = append(fields, zap.Stringer("contract_end", *rec.ContractEnd))
	}
	if rec.FirstBillDate != nil {
		fields = append(fields, zap.Stringer("first_bill_date", *rec.FirstBillDate))
	}
	logger.Info("retroactive billing logic applied", fields...)
	return nil
}

// =============================================================================
// LOG APPLICATION
// =============================================================================

// LogApplication emits one ApplicationRecord to sink. It never fails and
// never panics; a nil sink is a no-op.
func LogApplication(sink AuditSink, c Contract, periods []BillingPeriod, now time.Time) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	_ = safeRecord(sink, NewApplicationRecord(c, periods, now))
}

func safeRecord(sink AuditSink, rec ApplicationRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panicked: %v", r)
		}
	}()
	return sink.RecordApplication(rec)
}

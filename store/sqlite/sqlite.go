/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements billing.ContractStore, billing.PeriodStore and audit.Store
  using SQLite. The same schema works on PostgreSQL with minor dialect
  changes.

KEY TABLES:
  contracts:                  Contract rows read by the billing workflow
  billing_periods:            Generated periods (append-only)
  retroactive_billing_audit:  Audit trail (append-only)

UNIQUENESS:
  idx_billing_periods_contract_start enforces one period per
  (contract_id, period_start). A violation surfaces as
  generic.DuplicatePeriodError, which makes re-running the workflow safe.

DATES:
  Calendar days are stored as TEXT in 2006-01-02 form, amounts as decimal
  strings, audit timestamps as fixed-width UTC RFC 3339 with nanoseconds so
  that lexical order equals chronological order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - billing/store.go: Contract and period ports
  - audit/store.go: Audit port
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/generic"
)

// timestampLayout is fixed width so TEXT comparison is chronological.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		contract_number TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		billing_day INTEGER NOT NULL,
		billing_cycle TEXT NOT NULL,
		monthly_value TEXT NOT NULL,
		status TEXT NOT NULL,
		auto_billing INTEGER NOT NULL DEFAULT 0,
		generate_billing INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_tenant
		ON contracts(tenant_id);

	-- Generated periods (append-only)
	CREATE TABLE IF NOT EXISTS billing_periods (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		bill_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		is_retroactive INTEGER NOT NULL,
		logic_version TEXT NOT NULL,
		first_period_bill_logic TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_periods_contract_start
		ON billing_periods(contract_id, period_start);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS retroactive_billing_audit (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		details_json TEXT NOT NULL,
		metadata_json TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenant_created
		ON retroactive_billing_audit(tenant_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_contract
		ON retroactive_billing_audit(contract_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRACT STORE (billing.ContractStore interface)
// =============================================================================

const contractColumns = `id, tenant_id, contract_number, start_date, end_date, billing_day,
	billing_cycle, monthly_value, status, auto_billing, generate_billing`

// SaveContract inserts or replaces a contract.
func (s *Store) SaveContract(ctx context.Context, c billing.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO contracts (` + contractColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			contract_number = excluded.contract_number,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			billing_day = excluded.billing_day,
			billing_cycle = excluded.billing_cycle,
			monthly_value = excluded.monthly_value,
			status = excluded.status,
			auto_billing = excluded.auto_billing,
			generate_billing = excluded.generate_billing,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.TenantID, nullString(c.ContractNumber),
		c.StartDate.String(), nullDate(c.EndDate),
		c.BillingDay, string(c.BillingCycle), c.MonthlyValue.String(), string(c.Status),
		c.AutoBilling, c.GenerateBilling,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

// GetContract retrieves a contract by ID.
func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE id = ?", id)

	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Contract{}, fmt.Errorf("%w: %s", generic.ErrContractNotFound, id)
	}
	return c, err
}

// ListContracts returns a tenant's contracts, or all when tenantID is empty.
func (s *Store) ListContracts(ctx context.Context, tenantID generic.TenantID) ([]billing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + contractColumns + " FROM contracts"
	var args []any
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	contracts := []billing.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (billing.Contract, error) {
	var (
		c                          billing.Contract
		id, tenantID, startDate    string
		contractNumber, endDate    sql.NullString
		cycle, monthlyValue, state string
	)
	err := row.Scan(&id, &tenantID, &contractNumber, &startDate, &endDate, &c.BillingDay,
		&cycle, &monthlyValue, &state, &c.AutoBilling, &c.GenerateBilling)
	if err != nil {
		return billing.Contract{}, err
	}

	c.ID = generic.ContractID(id)
	c.TenantID = generic.TenantID(tenantID)
	c.ContractNumber = contractNumber.String
	c.BillingCycle = generic.BillingCycle(cycle)
	c.Status = billing.ContractStatus(state)
	if c.MonthlyValue, err = generic.ParseDecimal(monthlyValue); err != nil {
		return billing.Contract{}, fmt.Errorf("contract %s: monthly_value %q: %w", id, monthlyValue, err)
	}
	if c.StartDate, err = generic.ParseTimePoint(startDate); err != nil {
		return billing.Contract{}, fmt.Errorf("contract %s: %w", id, err)
	}
	if endDate.Valid {
		end, err := generic.ParseTimePoint(endDate.String)
		if err != nil {
			return billing.Contract{}, fmt.Errorf("contract %s: %w", id, err)
		}
		c.EndDate = &end
	}
	return c, nil
}

// =============================================================================
// PERIOD STORE (billing.PeriodStore interface)
// =============================================================================

// AppendPeriods inserts all periods in one transaction.
func (s *Store) AppendPeriods(ctx context.Context, periods []billing.BillingPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO billing_periods
		(id, contract_id, tenant_id, period_start, period_end, bill_date, amount, status,
		 is_retroactive, logic_version, first_period_bill_logic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC().Format(time.RFC3339)

	for _, p := range periods {
		_, err := sqlTx.ExecContext(ctx, query,
			uuid.NewString(),
			p.ContractID,
			p.TenantID,
			p.PeriodStart.String(),
			p.PeriodEnd.String(),
			p.BillDate.String(),
			p.Amount.String(),
			string(p.Status),
			p.Metadata.IsRetroactive,
			p.Metadata.LogicVersion,
			nullString(string(p.Metadata.FirstPeriodBillLogic)),
			now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &generic.DuplicatePeriodError{ContractID: p.ContractID, PeriodStart: p.PeriodStart}
			}
			return fmt.Errorf("failed to append billing period: %w", err)
		}
	}

	return sqlTx.Commit()
}

// ListPeriods returns a contract's periods ordered by period start.
func (s *Store) ListPeriods(ctx context.Context, contractID generic.ContractID) ([]billing.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_id, tenant_id, period_start, period_end, bill_date, amount, status,
		       is_retroactive, logic_version, first_period_bill_logic
		FROM billing_periods
		WHERE contract_id = ?
		ORDER BY period_start ASC
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing periods: %w", err)
	}
	defer rows.Close()

	periods := []billing.BillingPeriod{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func scanPeriod(row rowScanner) (billing.BillingPeriod, error) {
	var (
		p                                      billing.BillingPeriod
		cid, tid, start, end, billDate, amount string
		status, version                        string
		firstLogic                             sql.NullString
	)
	if err := row.Scan(&cid, &tid, &start, &end, &billDate, &amount, &status,
		&p.Metadata.IsRetroactive, &version, &firstLogic); err != nil {
		return billing.BillingPeriod{}, err
	}

	dates := []struct {
		column string
		raw    string
		dst    *generic.TimePoint
	}{
		{"period_start", start, &p.PeriodStart},
		{"period_end", end, &p.PeriodEnd},
		{"bill_date", billDate, &p.BillDate},
	}
	for _, d := range dates {
		tp, err := generic.ParseTimePoint(d.raw)
		if err != nil {
			return billing.BillingPeriod{}, fmt.Errorf("period of contract %s: %s: %w", cid, d.column, err)
		}
		*d.dst = tp
	}

	amt, err := generic.ParseDecimal(amount)
	if err != nil {
		return billing.BillingPeriod{}, fmt.Errorf("period of contract %s: amount %q: %w", cid, amount, err)
	}

	p.ContractID = generic.ContractID(cid)
	p.TenantID = generic.TenantID(tid)
	p.Amount = amt
	p.Status = billing.PeriodStatus(status)
	p.Metadata.LogicVersion = version
	p.Metadata.FirstPeriodBillLogic = billing.FirstPeriodBillLogic(firstLogic.String)
	return p, nil
}

// =============================================================================
// AUDIT STORE (audit.Store interface)
// =============================================================================

// AppendEntry persists one audit entry.
func (s *Store) AppendEntry(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detailsJSON, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	var metadataJSON sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO retroactive_billing_audit
		(id, tenant_id, contract_id, actor_id, action, details_json, metadata_json,
		 ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.TenantID, e.ContractID, nullString(e.ActorID), string(e.Action),
		string(detailsJSON), metadataJSON,
		nullString(e.IPAddress), nullString(e.UserAgent),
		e.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryEntries returns matching entries newest first and the unpaged total.
func (s *Store) QueryEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"tenant_id = ?"}
	args := []any{f.TenantID}
	if f.ContractID != "" {
		where = append(where, "contract_id = ?")
		args = append(args, f.ContractID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UTC().Format(timestampLayout))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.To.UTC().Format(timestampLayout))
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM retroactive_billing_audit"+clause, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
		SELECT id, tenant_id, contract_id, actor_id, action, details_json, metadata_json,
		       ip_address, user_agent, created_at
		FROM retroactive_billing_audit` + clause + `
		ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e                                audit.Entry
			id, tenantID, contractID, action string
			details, createdAt               string
			actorID, metadata, ip, userAgent sql.NullString
		)
		if err := rows.Scan(&id, &tenantID, &contractID, &actorID, &action, &details, &metadata,
			&ip, &userAgent, &createdAt); err != nil {
			return nil, 0, err
		}
		e.ID = id
		e.TenantID = generic.TenantID(tenantID)
		e.ContractID = generic.ContractID(contractID)
		e.ActorID = actorID.String
		e.Action = audit.Action(action)
		e.IPAddress = ip.String
		e.UserAgent = userAgent.String
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, 0, fmt.Errorf("failed to decode audit details: %w", err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		e.Timestamp, _ = time.Parse(timestampLayout, createdAt)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for development/testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM billing_periods;
		DELETE FROM retroactive_billing_audit;
		DELETE FROM contracts;
	`)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil || tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

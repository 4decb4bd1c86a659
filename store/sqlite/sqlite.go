/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements store.Store (contributions, loans, policies, penalties) on
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

MONEY AT REST:
  Amounts are stored as integer minor units plus a currency code, never as
  REAL. Rates are stored as decimal strings. Round-tripping a record never
  changes a single minor unit.

KEY TABLES:
  contributions: member payments, soft-deleted only
  loans:         loans with their schedule serialized as JSON
  policies:      per-group policy config as JSON, one row per kind
  penalties:     append-only penalty ledger

UNIQUENESS:
  idx_unique_unverified_day rejects a second unverified, non-failed, live
  contribution for the same member, group and day. This backs the engine's
  duplicate guard at the storage layer so concurrent submissions cannot
  race past it.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool (golang-migrate, goose).

SEE ALSO:
  - store: interface definitions
  - store/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/engine"
	"github.com/warp/settlement-engine/money"
	"github.com/warp/settlement-engine/store"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contributions (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		amount_units INTEGER NOT NULL,
		currency TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		verified_at TEXT,
		overpayment_units INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_contributions_member
		ON contributions(group_id, member_id, date);
	CREATE INDEX IF NOT EXISTS idx_contributions_status
		ON contributions(status);

	-- One live, unverified, non-failed contribution per member per day.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_unverified_day
		ON contributions(group_id, member_id, DATE(date))
		WHERE is_verified = FALSE AND status != 'failed' AND deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		principal_units INTEGER NOT NULL,
		interest_units INTEGER NOT NULL,
		total_units INTEGER NOT NULL,
		paid_units INTEGER NOT NULL DEFAULT 0,
		monthly_units INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		duration_months INTEGER NOT NULL,
		status TEXT NOT NULL,
		schedule_json TEXT,
		requested_at TEXT NOT NULL,
		approved_at TEXT,
		due_date TEXT NOT NULL,
		last_payment_at TEXT,
		defaulted_at TEXT,
		restructured_at TEXT,
		rejection_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_loans_member
		ON loans(group_id, member_id, requested_at);
	CREATE INDEX IF NOT EXISTS idx_loans_status
		ON loans(status);

	CREATE TABLE IF NOT EXISTS policies (
		group_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (group_id, kind)
	);

	-- Penalty ledger (append-only; corrections via new rows)
	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		contribution_id TEXT,
		loan_id TEXT,
		amount_units INTEGER NOT NULL,
		currency TEXT NOT NULL,
		reason TEXT,
		assessed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_penalties_member
		ON penalties(group_id, member_id, assessed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRIBUTIONS
// =============================================================================

func (s *Store) SaveContribution(ctx context.Context, c *engine.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = engine.ContributionID(store.NewID("con"))
	}

	query := `
		INSERT INTO contributions
		(id, group_id, member_id, amount_units, currency, date, type, status,
		 is_verified, verified_at, overpayment_units, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.GroupID, c.MemberID,
		c.Amount.MinorUnits(), c.Amount.Currency(),
		c.Date.UTC().Format(time.RFC3339),
		c.Type, c.Status, c.IsVerified, nullTime(c.VerifiedAt),
		c.Overpayment.MinorUnits(),
		c.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(c.DeletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("failed to save contribution: %w", err)
	}
	return nil
}

func (s *Store) GetContribution(ctx context.Context, id engine.ContributionID) (engine.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queryContributions(ctx, contributionSelect+" WHERE id = ?", id)
	if err != nil {
		return engine.Contribution{}, err
	}
	if len(rows) == 0 {
		return engine.Contribution{}, store.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) ListContributions(ctx context.Context, groupID engine.GroupID, memberID engine.MemberID) (engine.ContributionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryContributions(ctx,
		contributionSelect+" WHERE group_id = ? AND member_id = ? ORDER BY date ASC, created_at ASC",
		groupID, memberID)
}

func (s *Store) ListGroupContributions(ctx context.Context, groupID engine.GroupID) (map[engine.MemberID]engine.ContributionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.queryContributions(ctx,
		contributionSelect+" WHERE group_id = ? ORDER BY date ASC, created_at ASC", groupID)
	if err != nil {
		return nil, err
	}

	byMember := make(map[engine.MemberID]engine.ContributionHistory)
	for _, c := range all {
		byMember[c.MemberID] = append(byMember[c.MemberID], c)
	}
	return byMember, nil
}

func (s *Store) UpdateContributionStatus(ctx context.Context, id engine.ContributionID, status engine.ContributionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE contributions SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update contribution status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) MarkVerified(ctx context.Context, id engine.ContributionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE contributions SET is_verified = TRUE, verified_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to mark contribution verified: %w", err)
	}
	return requireRow(res)
}

func (s *Store) RetireContribution(ctx context.Context, id engine.ContributionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE contributions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to retire contribution: %w", err)
	}
	return requireRow(res)
}

const contributionSelect = `
	SELECT id, group_id, member_id, amount_units, currency, date, type, status,
	       is_verified, verified_at, overpayment_units, created_at, deleted_at
	FROM contributions`

func (s *Store) queryContributions(ctx context.Context, query string, args ...any) (engine.ContributionHistory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var history engine.ContributionHistory
	for rows.Next() {
		var (
			c                     engine.Contribution
			amountUnits           int64
			overpaymentUnits      int64
			currency              string
			date, createdAt       string
			verifiedAt, deletedAt sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.GroupID, &c.MemberID, &amountUnits, &currency,
			&date, &c.Type, &c.Status, &c.IsVerified, &verifiedAt, &overpaymentUnits,
			&createdAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}

		c.Amount = money.New(amountUnits, currency)
		c.Overpayment = money.New(overpaymentUnits, currency)
		c.Date, _ = time.Parse(time.RFC3339, date)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if verifiedAt.Valid {
			t, _ := time.Parse(time.RFC3339, verifiedAt.String)
			c.VerifiedAt = &t
		}
		if deletedAt.Valid {
			t, _ := time.Parse(time.RFC3339, deletedAt.String)
			c.DeletedAt = &t
		}
		history = append(history, c)
	}
	return history, rows.Err()
}

// =============================================================================
// LOANS
// =============================================================================

func (s *Store) SaveLoan(ctx context.Context, l *engine.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = engine.LoanID(store.NewID("loan"))
	}

	scheduleJSON, err := json.Marshal(l.Schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	query := `
		INSERT INTO loans
		(id, group_id, member_id, principal_units, interest_units, total_units,
		 paid_units, monthly_units, currency, interest_rate, duration_months,
		 status, schedule_json, requested_at, approved_at, due_date,
		 last_payment_at, defaulted_at, restructured_at, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			principal_units = excluded.principal_units,
			interest_units = excluded.interest_units,
			total_units = excluded.total_units,
			paid_units = excluded.paid_units,
			monthly_units = excluded.monthly_units,
			interest_rate = excluded.interest_rate,
			duration_months = excluded.duration_months,
			status = excluded.status,
			schedule_json = excluded.schedule_json,
			approved_at = excluded.approved_at,
			due_date = excluded.due_date,
			last_payment_at = excluded.last_payment_at,
			defaulted_at = excluded.defaulted_at,
			restructured_at = excluded.restructured_at,
			rejection_reason = excluded.rejection_reason
	`

	_, err = s.db.ExecContext(ctx, query,
		l.ID, l.GroupID, l.MemberID,
		l.PrincipalAmount.MinorUnits(), l.InterestAmount.MinorUnits(),
		l.TotalAmount.MinorUnits(), l.TotalPaidAmount.MinorUnits(),
		l.MonthlyPayment.MinorUnits(), l.PrincipalAmount.Currency(),
		l.InterestRate.String(), l.DurationMonths, l.Status,
		string(scheduleJSON),
		l.RequestedAt.UTC().Format(time.RFC3339),
		nullTime(l.ApprovedAt),
		l.DueDate.UTC().Format(time.RFC3339),
		nullTime(l.LastPaymentAt),
		nullTime(l.DefaultedAt),
		nullTime(l.RestructuredAt),
		l.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id engine.LoanID) (engine.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans, err := s.queryLoans(ctx, loanSelect+" WHERE id = ?", id)
	if err != nil {
		return engine.Loan{}, err
	}
	if len(loans) == 0 {
		return engine.Loan{}, store.ErrNotFound
	}
	return loans[0], nil
}

func (s *Store) ListLoans(ctx context.Context, groupID engine.GroupID, memberID engine.MemberID) (engine.LoanHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans, err := s.queryLoans(ctx,
		loanSelect+" WHERE group_id = ? AND member_id = ? ORDER BY requested_at ASC",
		groupID, memberID)
	return engine.LoanHistory(loans), err
}

func (s *Store) ListLoansByStatus(ctx context.Context, status engine.LoanStatus) ([]engine.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLoans(ctx,
		loanSelect+" WHERE status = ? ORDER BY requested_at ASC", status)
}

const loanSelect = `
	SELECT id, group_id, member_id, principal_units, interest_units, total_units,
	       paid_units, monthly_units, currency, interest_rate, duration_months,
	       status, schedule_json, requested_at, approved_at, due_date,
	       last_payment_at, defaulted_at, restructured_at, rejection_reason
	FROM loans`

func (s *Store) queryLoans(ctx context.Context, query string, args ...any) ([]engine.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []engine.Loan
	for rows.Next() {
		var (
			l                           engine.Loan
			principal, interest, total  int64
			paid, monthly               int64
			currency, rate              string
			scheduleJSON                sql.NullString
			requestedAt, dueDate        string
			approvedAt, lastPaymentAt   sql.NullString
			defaultedAt, restructuredAt sql.NullString
			rejectionReason             sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.GroupID, &l.MemberID,
			&principal, &interest, &total, &paid, &monthly,
			&currency, &rate, &l.DurationMonths, &l.Status, &scheduleJSON,
			&requestedAt, &approvedAt, &dueDate, &lastPaymentAt,
			&defaultedAt, &restructuredAt, &rejectionReason); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}

		l.PrincipalAmount = money.New(principal, currency)
		l.InterestAmount = money.New(interest, currency)
		l.TotalAmount = money.New(total, currency)
		l.TotalPaidAmount = money.New(paid, currency)
		l.MonthlyPayment = money.New(monthly, currency)
		l.InterestRate, _ = decimal.NewFromString(rate)
		l.RejectionReason = rejectionReason.String

		l.RequestedAt, _ = time.Parse(time.RFC3339, requestedAt)
		l.DueDate, _ = time.Parse(time.RFC3339, dueDate)
		l.ApprovedAt = parseNullTime(approvedAt)
		l.LastPaymentAt = parseNullTime(lastPaymentAt)
		l.DefaultedAt = parseNullTime(defaultedAt)
		l.RestructuredAt = parseNullTime(restructuredAt)

		if scheduleJSON.Valid && scheduleJSON.String != "" {
			if err := json.Unmarshal([]byte(scheduleJSON.String), &l.Schedule); err != nil {
				return nil, fmt.Errorf("failed to decode schedule: %w", err)
			}
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// =============================================================================
// POLICIES
// =============================================================================

const (
	policyKindContribution = "contribution"
	policyKindLoan         = "loan"
)

func (s *Store) SaveContributionPolicy(ctx context.Context, p engine.ContributionPolicy) error {
	return s.savePolicy(ctx, p.GroupID, policyKindContribution, p)
}

func (s *Store) GetContributionPolicy(ctx context.Context, groupID engine.GroupID) (engine.ContributionPolicy, error) {
	var p engine.ContributionPolicy
	err := s.loadPolicy(ctx, groupID, policyKindContribution, &p)
	return p, err
}

func (s *Store) SaveLoanPolicy(ctx context.Context, p engine.LoanPolicy) error {
	return s.savePolicy(ctx, p.GroupID, policyKindLoan, p)
}

func (s *Store) GetLoanPolicy(ctx context.Context, groupID engine.GroupID) (engine.LoanPolicy, error) {
	var p engine.LoanPolicy
	err := s.loadPolicy(ctx, groupID, policyKindLoan, &p)
	return p, err
}

func (s *Store) savePolicy(ctx context.Context, groupID engine.GroupID, kind string, config any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	query := `
		INSERT INTO policies (group_id, kind, config_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id, kind) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		groupID, kind, string(configJSON),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) loadPolicy(ctx context.Context, groupID engine.GroupID, kind string, into any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT config_json FROM policies WHERE group_id = ? AND kind = ?",
		groupID, kind,
	).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(configJSON), into)
}

func (s *Store) ListGroups(ctx context.Context) ([]engine.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT group_id FROM policies ORDER BY group_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []engine.GroupID
	for rows.Next() {
		var id engine.GroupID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

// =============================================================================
// PENALTIES
// =============================================================================

func (s *Store) AppendPenalty(ctx context.Context, p *store.PenaltyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = store.NewID("pen")
	}

	query := `
		INSERT INTO penalties
		(id, group_id, member_id, contribution_id, loan_id, amount_units, currency, reason, assessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.GroupID, p.MemberID,
		nullString(string(p.ContributionID)), nullString(string(p.LoanID)),
		p.Amount.MinorUnits(), p.Amount.Currency(), p.Reason,
		p.AssessedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append penalty: %w", err)
	}
	return nil
}

func (s *Store) ListPenalties(ctx context.Context, groupID engine.GroupID, memberID engine.MemberID) ([]store.PenaltyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, group_id, member_id, contribution_id, loan_id, amount_units, currency, reason, assessed_at
		FROM penalties
		WHERE group_id = ? AND member_id = ?
		ORDER BY assessed_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, groupID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}
	defer rows.Close()

	var records []store.PenaltyRecord
	for rows.Next() {
		var (
			p                      store.PenaltyRecord
			contributionID, loanID sql.NullString
			units                  int64
			currency, assessedAt   string
			reason                 sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.GroupID, &p.MemberID, &contributionID, &loanID,
			&units, &currency, &reason, &assessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan penalty: %w", err)
		}
		p.ContributionID = engine.ContributionID(contributionID.String)
		p.LoanID = engine.LoanID(loanID.String)
		p.Amount = money.New(units, currency)
		p.Reason = reason.String
		p.AssessedAt, _ = time.Parse(time.RFC3339, assessedAt)
		records = append(records, p)
	}
	return records, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"contributions", "loans", "policies", "penalties"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

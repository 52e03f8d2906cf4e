/*
Package sqlite provides a SQLite-backed implementation of the credits storage interfaces.

PURPOSE:
  Implements credits.Backend (Store, TxStore, Accounts, RunLog) using SQLite.
  This is the default backend for single-node deployments and the CLIs.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the entries table
  - No DELETE statements on the entries table
  - Corrections are new admin-adjustment entries (see credits.Ledger.Reset)

KEY TABLES:
  entries:    Immutable ledger of every credit delta
  users:      Account directory (id, email, name)
  reset_runs: One summary row per bulk/privileged/single run

INDEXES:
  - idx_entries_user_created: Balance and history reads (hot path)
  - idx_users_email:          Email resolution for privileged lists

AMOUNTS:
  Stored as decimal TEXT and summed in Go with shopspring/decimal. SQLite's
  SUM() would go through float64 and lose precision.

TIMESTAMPS:
  Fixed-width UTC text (nanoseconds), so lexical order equals time order.
  Entries with equal timestamps fall back to rowid (insertion order).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus a single connection, which also
  keeps ":memory:" databases shared across calls. The Store handed to a
  WithTx callback runs on the *sql.Tx and never takes the mutex again.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      return err
  }
  defer store.Close()

  ledger := credits.NewLedger(store, store)

SEE ALSO:
  - credits/store.go: Interface definitions
  - credits/store/memory.go: In-memory implementation for testing
  - store/postgres: Same schema on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/credits"
)

// timeLayout is fixed-width so TEXT comparison orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements credits.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ credits.Backend = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
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
	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		token_type TEXT NOT NULL,
		context TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance and history reads (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_user_created
		ON entries(user_id, created_at);

	-- Users (account directory)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT,
		name TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_email
		ON users(email COLLATE NOCASE);

	-- Reset runs
	CREATE TABLE IF NOT EXISTS reset_runs (
		id TEXT PRIMARY KEY,
		cohort TEXT NOT NULL,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reset_runs_started
		ON reset_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (credits.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e credits.Entry) (credits.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db querier, e credits.Entry) (credits.EntryID, error) {
	if e.ID == "" {
		e.ID = credits.EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.TokenType == "" {
		e.TokenType = credits.DefaultTokenType
	}

	query := `
		INSERT INTO entries (id, user_id, amount, kind, token_type, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		string(e.ID),
		string(e.UserID),
		e.Amount.String(),
		string(e.Kind),
		e.TokenType,
		nullString(e.Context),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("duplicate entry id %s", e.ID)
		}
		return "", fmt.Errorf("failed to append entry: %w", err)
	}

	return e.ID, nil
}

// Sum returns the user's balance. Zero when the user has no entries.
func (s *Store) Sum(ctx context.Context, userID credits.UserID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumEntries(ctx, s.db, userID)
}

func sumEntries(ctx context.Context, db querier, userID credits.UserID) (decimal.Decimal, error) {
	rows, err := db.QueryContext(ctx, "SELECT amount FROM entries WHERE user_id = ?", string(userID))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// Entries returns the user's entries in audit order.
func (s *Store) Entries(ctx context.Context, userID credits.UserID) ([]credits.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadEntries(ctx, s.db, userID)
}

func loadEntries(ctx context.Context, db querier, userID credits.UserID) ([]credits.Entry, error) {
	query := `
		SELECT id, user_id, amount, kind, token_type, context, created_at
		FROM entries
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := db.QueryContext(ctx, query, string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []credits.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (credits.Entry, error) {
	var (
		e         credits.Entry
		id        string
		userID    string
		amount    string
		kind      string
		origin    sql.NullString
		createdAt string
	)

	if err := rows.Scan(&id, &userID, &amount, &kind, &e.TokenType, &origin, &createdAt); err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return e, fmt.Errorf("corrupt amount %q on entry %s: %w", amount, id, err)
	}

	e.ID = credits.EntryID(id)
	e.UserID = credits.UserID(userID)
	e.Amount = d
	e.Kind = credits.EntryKind(kind)
	e.Context = origin.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// ListUserIDs returns every account ID in creation order.
func (s *Store) ListUserIDs(ctx context.Context) ([]credits.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listUserIDs(ctx, s.db)
}

func listUserIDs(ctx context.Context, db querier) ([]credits.UserID, error) {
	rows, err := db.QueryContext(ctx, "SELECT id FROM users ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []credits.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, credits.UserID(id))
	}
	return ids, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (credits.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store credits.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every call on the open transaction. The parent mutex is
// already held by WithTx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, e credits.Entry) (credits.EntryID, error) {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Sum(ctx context.Context, userID credits.UserID) (decimal.Decimal, error) {
	return sumEntries(ctx, ts.tx, userID)
}

func (ts *txStore) Entries(ctx context.Context, userID credits.UserID) ([]credits.Entry, error) {
	return loadEntries(ctx, ts.tx, userID)
}

func (ts *txStore) ListUserIDs(ctx context.Context) ([]credits.UserID, error) {
	return listUserIDs(ctx, ts.tx)
}

// =============================================================================
// ACCOUNT STORE (credits.Accounts interface)
// =============================================================================

// SaveAccount inserts or updates an account. CreatedAt is kept on update.
func (s *Store) SaveAccount(ctx context.Context, a credits.Account) error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, email, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name
	`

	_, err := s.db.ExecContext(ctx, query,
		string(a.ID), nullString(a.Email), nullString(a.Name), formatTime(a.CreatedAt))
	return err
}

// Account retrieves an account by ID.
func (s *Store) Account(ctx context.Context, id credits.UserID) (*credits.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, created_at FROM users WHERE id = ?", string(id))
	return scanAccount(row)
}

// AccountByEmail retrieves an account by email, case-insensitively.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*credits.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, created_at FROM users
		WHERE email = ? COLLATE NOCASE
		ORDER BY created_at ASC
		LIMIT 1
	`, strings.TrimSpace(email))
	return scanAccount(row)
}

// ListAccounts returns all accounts in creation order.
func (s *Store) ListAccounts(ctx context.Context) ([]credits.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, email, name, created_at FROM users ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []credits.Account
	for rows.Next() {
		var (
			a             credits.Account
			id, createdAt string
			email, name   sql.NullString
		)
		if err := rows.Scan(&id, &email, &name, &createdAt); err != nil {
			return nil, err
		}
		a.ID = credits.UserID(id)
		a.Email = email.String
		a.Name = name.String
		a.CreatedAt = parseTime(createdAt)
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

func scanAccount(row *sql.Row) (*credits.Account, error) {
	var (
		a             credits.Account
		id, createdAt string
		email, name   sql.NullString
	)
	if err := row.Scan(&id, &email, &name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credits.ErrUserNotFound
		}
		return nil, err
	}
	a.ID = credits.UserID(id)
	a.Email = email.String
	a.Name = name.String
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// =============================================================================
// RESET RUNS STORE (credits.RunLog interface)
// =============================================================================

// SaveRun saves a run summary, replacing any earlier row with the same ID.
func (s *Store) SaveRun(ctx context.Context, r credits.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reset_runs (id, cohort, target, status, succeeded, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if !r.CompletedAt.IsZero() {
		v := formatTime(r.CompletedAt)
		completedAt = &v
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, string(r.Cohort), r.Target.String(), string(r.Status),
		r.Succeeded, r.Failed, nullString(r.Error),
		formatTime(r.StartedAt), completedAt,
	)
	return err
}

// Runs returns the most recent runs first. limit <= 0 returns all of them.
func (s *Store) Runs(ctx context.Context, limit int) ([]credits.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, cohort, target, status, succeeded, failed, error, started_at, completed_at
		FROM reset_runs
		ORDER BY started_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []credits.RunRecord
	for rows.Next() {
		var (
			r                      credits.RunRecord
			cohort, target, status string
			runErr, completedAt    sql.NullString
			startedAt              string
		)
		if err := rows.Scan(&r.ID, &cohort, &target, &status, &r.Succeeded, &r.Failed,
			&runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}

		r.Cohort = credits.Cohort(cohort)
		r.Target, _ = decimal.NewFromString(target)
		r.Status = credits.RunStatus(status)
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			r.CompletedAt = parseTime(completedAt.String)
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

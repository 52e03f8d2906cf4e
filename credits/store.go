/*
store.go - Persistence interfaces for entries, accounts and reset runs

PURPOSE:
  Defines the boundary between the ledger logic and the database.
  SQLite, PostgreSQL, MongoDB and in-memory implementations all satisfy
  the same interfaces.

KEY INTERFACES:
  Store:    Append-only entry persistence plus per-user reduction
  TxStore:  Store with an atomic unit of work
  Accounts: Directory of known users (the account collaborator)
  RunLog:   Summary records of bulk/privileged runs

APPEND-ONLY CONTRACT:
  - Append(): the ONLY write operation on entries
  - NO Update() or Delete() methods exist

IMPLEMENTATIONS:
  - credits/store/memory.go: In-memory for tests and local runs
  - store/sqlite:            SQLite (default)
  - store/postgres:          PostgreSQL
  - store/mongo:             MongoDB, LibreChat-compatible collections

SEE ALSO:
  - ledger.go: Uses Store and Accounts
  - resetter.go: Uses RunLog
*/
package credits

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Interface for entry persistence (append-only)
// =============================================================================

// Store persists ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists an entry and returns its ID. When entry.ID is empty
	// the store assigns one. CreatedAt is stamped by the caller.
	Append(ctx context.Context, entry Entry) (EntryID, error)

	// Sum returns the sum of amounts for a user, zero when there are none.
	Sum(ctx context.Context, userID UserID) (decimal.Decimal, error)

	// Entries returns a user's entries in audit order (CreatedAt, then insertion).
	Entries(ctx context.Context, userID UserID) ([]Entry, error)

	// ListUserIDs returns every known account, whether or not it has entries.
	ListUserIDs(ctx context.Context) ([]UserID, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store it received is
	// rolled back. If fn returns nil, the writes are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ACCOUNTS - The user directory collaborator
// =============================================================================

// Accounts resolves identifiers to known users.
// Lookups return ErrUserNotFound (possibly wrapped) for unknown users.
type Accounts interface {
	Account(ctx context.Context, id UserID) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SaveAccount(ctx context.Context, account Account) error
}

// =============================================================================
// RUN LOG - Summary of each orchestrated run
// =============================================================================

type RunStatus string

const (
	RunCompleted RunStatus = "completed" // every user succeeded
	RunPartial   RunStatus = "partial"   // some users failed
	RunFailed    RunStatus = "failed"    // run could not proceed or all users failed
	RunCancelled RunStatus = "cancelled" // confirmation declined
)

// RunRecord is the persisted summary of a Report.
type RunRecord struct {
	ID          string
	Cohort      Cohort
	Target      decimal.Decimal
	Status      RunStatus
	Succeeded   int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

type RunLog interface {
	SaveRun(ctx context.Context, run RunRecord) error
	// Runs returns the most recent runs first.
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
}

// Backend is everything a full storage implementation provides.
type Backend interface {
	TxStore
	Accounts
	RunLog
	Close() error
}

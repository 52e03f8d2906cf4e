/*
ledger.go - Balance accessor and reset operation

PURPOSE:
  The Ledger is the read and write path over a Store. Balance is always
  computed from entries; there is no separate balance field that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Reset never edits history, it appends two entries
  2. EXACT TARGET: After Reset(u, t) with no concurrent writer, Balance(u) == t
  3. ORDERED: The zeroing append completes before the setting append is issued
  4. ZERO IS NOT MISSING: A known user with no entries has balance 0

RESET ALGORITHM:
  1. current := Balance(user)
  2. Append {amount: -current, kind: admin-adjustment}   -> balance 0
  3. Append {amount: target,   kind: admin-adjustment}   -> balance target

  Example: entries [+100, -30] (balance 70), Reset(u, 50)
  appends [-70, +50], leaving [+100, -30, -70, +50] = 50.

CONCURRENCY CAVEAT:
  By default the two appends are independent writes. A credit or debit that
  lands between steps 1 and 3 is absorbed into the final balance, so the
  result is then not exactly the target. WithAtomicResets(true) runs the read
  and both appends inside TxStore.WithTx. Without it, a failure of the second
  append leaves the user at zero.

SEE ALSO:
  - store.go: Store and Accounts interfaces
  - resetter.go: Runs Reset across many users
*/
package credits

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    Store
	accounts Accounts
	atomic   bool
	now      func() time.Time
	logger   *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithAtomicResets wraps each reset in a single store transaction.
// The store must implement TxStore.
func WithAtomicResets(enabled bool) LedgerOption {
	return func(l *Ledger) { l.atomic = enabled }
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithLedgerLogger sets the logger.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

func NewLedger(store Store, accounts Accounts, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:    store,
		accounts: accounts,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying entry store.
func (l *Ledger) Store() Store { return l.store }

// =============================================================================
// READ PATH
// =============================================================================

// Balance returns the sum of the user's entries.
// Unknown users fail with NotFoundError; known users without entries get zero.
func (l *Ledger) Balance(ctx context.Context, userID UserID) (decimal.Decimal, error) {
	if _, err := l.Account(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	balance, err := l.store.Sum(ctx, userID)
	if err != nil {
		return decimal.Zero, storageErr("sum", userID, err)
	}
	return balance, nil
}

// Entries returns the user's history in audit order.
func (l *Ledger) Entries(ctx context.Context, userID UserID) ([]Entry, error) {
	if _, err := l.Account(ctx, userID); err != nil {
		return nil, err
	}
	entries, err := l.store.Entries(ctx, userID)
	if err != nil {
		return nil, storageErr("load entries", userID, err)
	}
	return entries, nil
}

// Account looks a user up by ID.
func (l *Ledger) Account(ctx context.Context, userID UserID) (*Account, error) {
	acct, err := l.accounts.Account(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{Identifier: string(userID)}
		}
		return nil, storageErr("lookup user", userID, err)
	}
	return acct, nil
}

// Resolve maps an email (anything containing "@") or a user ID to an account.
func (l *Ledger) Resolve(ctx context.Context, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, &ValidationError{Field: "user", Reason: "empty user identifier"}
	}
	if !strings.Contains(identifier, "@") {
		return l.Account(ctx, UserID(identifier))
	}

	acct, err := l.accounts.AccountByEmail(ctx, identifier)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{Identifier: identifier}
		}
		return nil, storageErr("lookup user", UserID(identifier), err)
	}
	return acct, nil
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Record appends an ordinary entry (credit, debit or adjustment) for a known user.
func (l *Ledger) Record(ctx context.Context, entry Entry) (Entry, error) {
	if !entry.Kind.Valid() {
		return Entry{}, &ValidationError{Field: "kind", Value: string(entry.Kind), Reason: "unknown entry kind"}
	}
	if _, err := l.Account(ctx, entry.UserID); err != nil {
		return Entry{}, err
	}

	entry = l.stamp(entry)
	if _, err := l.store.Append(ctx, entry); err != nil {
		return Entry{}, storageErr("append", entry.UserID, err)
	}
	return entry, nil
}

// ResetResult describes what a single reset appended.
type ResetResult struct {
	UserID       UserID
	Previous     decimal.Decimal
	Target       decimal.Decimal
	ZeroingEntry EntryID
	SettingEntry EntryID
}

// Reset forces the user's balance to target with a zeroing and a setting entry.
// Every call appends two entries; the resulting balance is always target.
func (l *Ledger) Reset(ctx context.Context, userID UserID, target decimal.Decimal) (ResetResult, error) {
	if _, err := l.Account(ctx, userID); err != nil {
		return ResetResult{}, err
	}

	if !l.atomic {
		return l.reset(ctx, l.store, userID, target)
	}

	txStore, ok := l.store.(TxStore)
	if !ok {
		return ResetResult{}, ErrStoreRequired
	}
	var result ResetResult
	err := txStore.WithTx(ctx, func(s Store) error {
		var err error
		result, err = l.reset(ctx, s, userID, target)
		return err
	})
	if err != nil {
		return ResetResult{}, storageErr("reset transaction", userID, err)
	}
	return result, nil
}

func (l *Ledger) reset(ctx context.Context, s Store, userID UserID, target decimal.Decimal) (ResetResult, error) {
	current, err := s.Sum(ctx, userID)
	if err != nil {
		return ResetResult{}, storageErr("sum", userID, err)
	}
	result := ResetResult{UserID: userID, Previous: current, Target: target}

	zeroing := l.stamp(adminEntry(userID, current.Neg()))
	if _, err := s.Append(ctx, zeroing); err != nil {
		return ResetResult{}, storageErr("append zeroing entry", userID, err)
	}
	result.ZeroingEntry = zeroing.ID

	setting := l.stamp(adminEntry(userID, target))
	if _, err := s.Append(ctx, setting); err != nil {
		l.logger.Error("setting entry failed after zeroing entry was written",
			"component", "ledger", "user", userID, "zeroing_entry", zeroing.ID, "error", err)
		return result, storageErr("append setting entry", userID, err)
	}
	result.SettingEntry = setting.ID

	return result, nil
}

func adminEntry(userID UserID, amount decimal.Decimal) Entry {
	return Entry{
		UserID:  userID,
		Amount:  amount,
		Kind:    KindAdminAdjustment,
		Context: AdminContext,
	}
}

func (l *Ledger) stamp(e Entry) Entry {
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.TokenType == "" {
		e.TokenType = DefaultTokenType
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	return e
}

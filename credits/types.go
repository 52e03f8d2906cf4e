/*
Package credits provides the token-credit ledger and the balance reset workflow.

PURPOSE:
  Every credit-affecting event for a user is recorded as an immutable ledger
  entry. A user's balance is never stored; it is always the sum of that user's
  entries. Administrative resets force a balance to an exact value by appending
  two compensating entries instead of editing history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable, signed credit delta attributed to one user
  - EntryKind: credit, debit or admin-adjustment
  - Account: A user known to the account directory
  - ResetRequest: An ephemeral "set balance to X" instruction

DESIGN PRINCIPLES:
  1. Append-only: Entries are never updated or deleted
  2. Precision: Amounts use decimal.Decimal, so they are always finite
  3. Commutative: Balance = sum of amounts, independent of order
  4. Auditability: Each reset leaves a zeroing and a setting entry behind

USAGE:
  entry := credits.Entry{
      UserID: "u-123",
      Amount: decimal.NewFromInt(500),
      Kind:   credits.KindCredit,
  }

SEE ALSO:
  - store.go: Persistence interfaces
  - ledger.go: Balance accessor and reset operation
  - resetter.go: Bulk and privileged orchestration
*/
package credits

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID is owned by the account directory; the ledger never creates one.
type UserID string

// EntryID identifies a single ledger entry.
type EntryID string

// =============================================================================
// LEDGER ENTRY - Immutable credit delta
// =============================================================================

type EntryKind string

const (
	KindCredit          EntryKind = "credit"           // Purchased or granted credits
	KindDebit           EntryKind = "debit"            // Credits spent on usage
	KindAdminAdjustment EntryKind = "admin-adjustment" // Administrative correction (resets)
)

// Valid reports whether k is one of the known kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindAdminAdjustment:
		return true
	}
	return false
}

const (
	// DefaultTokenType is the token type recorded on every entry unless set.
	DefaultTokenType = "credits"

	// AdminContext tags entries written by administrative operations.
	AdminContext = "admin"
)

// Entry is one immutable record in the ledger.
// Context is provenance only and never participates in balance math.
type Entry struct {
	ID        EntryID
	UserID    UserID
	Amount    decimal.Decimal
	Kind      EntryKind
	TokenType string
	Context   string
	CreatedAt time.Time
}

// Sum reduces entries to a balance. Order does not matter.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// =============================================================================
// ACCOUNT - User known to the directory
// =============================================================================

type Account struct {
	ID        UserID
	Email     string
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// RESET REQUEST - Ephemeral, never persisted
// =============================================================================

// AllUsers is the UserID placeholder meaning "every known account".
const AllUsers UserID = "*"

type ResetRequest struct {
	UserID UserID
	Target decimal.Decimal
	Force  bool
}

// ParseAmount parses a target balance. Anything that is not a finite
// decimal number is a ValidationError.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return decimal.Zero, &ValidationError{Field: "balance", Value: s, Reason: "no balance amount provided"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "balance", Value: s, Reason: "invalid balance amount"}
	}
	return d, nil
}

// ValidateEmail performs the same cheap check the account lookup relies on.
func ValidateEmail(email string) error {
	if !strings.Contains(email, "@") {
		return &ValidationError{Field: "email", Value: email, Reason: "invalid email address"}
	}
	return nil
}

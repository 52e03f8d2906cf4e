/*
errors.go - Centralized error types for the credit ledger

PURPOSE:
  All error types in one place. Callers classify failures with errors.Is
  against the sentinels or errors.As against the structured types.

ERROR CATEGORIES:
  1. Validation - malformed balance or user identifier (no side effects)
  2. Not found  - identifier does not resolve to an account
  3. Storage    - ledger read or append failed
  4. Cancelled  - interactive confirmation declined (not a failure)

PROPAGATION:
  Ledger.Reset returns storage failures to its caller. The orchestrators in
  resetter.go catch per-user failures, record them in the Report and move on.

SEE ALSO:
  - ledger.go: Produces NotFoundError and StorageError
  - resetter.go: Produces ErrUserCancelled
*/
package credits

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. Wrapped by ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrUserNotFound is returned when an identifier does not resolve to an
	// account. A known account with zero entries is NOT this error.
	ErrUserNotFound = errors.New("user not found")

	// ErrStorage is returned when the ledger store fails. Wrapped by StorageError.
	ErrStorage = errors.New("storage error")

	// ErrUserCancelled is returned when the interactive confirmation is declined.
	// Nothing was written.
	ErrUserCancelled = errors.New("operation cancelled")

	// ErrStoreRequired is returned when an operation requires a store capability
	// (for example TxStore) that the configured store does not provide.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%q)", e.Field, e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the identifier that failed to resolve.
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no user with identifier %q was found", e.Identifier)
}

func (e *NotFoundError) Unwrap() error {
	return ErrUserNotFound
}

// StorageError wraps a failure from the underlying store.
type StorageError struct {
	Op     string // e.g. "append", "sum", "list users"
	UserID UserID
	Err    error
}

func (e *StorageError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed for %s: %v", e.Op, e.UserID, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// storageErr wraps err unless it is already classified.
func storageErr(op string, userID UserID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	return &StorageError{Op: op, UserID: userID, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates an unknown account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsCancelled returns true if the user declined the confirmation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled)
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the credits domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Balances and amounts are decimal strings on the wire ("42.5"), both in
  requests and responses. Floats are never used.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/credits"
)

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents an account in API responses.
type UserDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateUserRequest is the request to register an account.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserDTO(a credits.Account) UserDTO {
	dto := UserDTO{ID: string(a.ID), Email: a.Email, Name: a.Name}
	if !a.CreatedAt.IsZero() {
		dto.CreatedAt = a.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// BALANCE & TRANSACTIONS
// =============================================================================

type BalanceDTO struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// TransactionDTO is one ledger entry with the running balance after it.
type TransactionDTO struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Kind         string          `json:"kind"`
	TokenType    string          `json:"token_type"`
	Context      string          `json:"context,omitempty"`
	CreatedAt    string          `json:"created_at"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

// RecordTransactionRequest records a credit or debit.
// Kind defaults to credit for positive amounts and debit for negative ones.
type RecordTransactionRequest struct {
	Amount  string `json:"amount"`
	Kind    string `json:"kind,omitempty"`
	Context string `json:"context,omitempty"`
}

func toTransactionDTOs(entries []credits.Entry) []TransactionDTO {
	dtos := make([]TransactionDTO, len(entries))
	running := decimal.Zero
	for i, e := range entries {
		running = running.Add(e.Amount)
		dtos[i] = TransactionDTO{
			ID:           string(e.ID),
			Amount:       e.Amount,
			Kind:         string(e.Kind),
			TokenType:    e.TokenType,
			Context:      e.Context,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339Nano),
			BalanceAfter: running,
		}
	}
	return dtos
}

// =============================================================================
// RESETS
// =============================================================================

// ResetUserRequest resets one user, identified by email or ID.
type ResetUserRequest struct {
	User    string `json:"user"`
	Balance string `json:"balance"`
}

// ResetAllRequest resets every user. Force must be true; there is no
// interactive confirmation over HTTP.
type ResetAllRequest struct {
	Balance string `json:"balance,omitempty"`
	Force   bool   `json:"force"`
}

// ResetPrivilegedRequest overrides the configured privileged list and amount.
type ResetPrivilegedRequest struct {
	Users   []string `json:"users,omitempty"`
	Balance string   `json:"balance,omitempty"`
}

type OutcomeDTO struct {
	Identifier string           `json:"identifier"`
	UserID     string           `json:"user_id,omitempty"`
	Status     string           `json:"status"`
	Previous   *decimal.Decimal `json:"previous,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type ReportDTO struct {
	RunID      string       `json:"run_id"`
	Cohort     string       `json:"cohort"`
	Target     string       `json:"target"`
	Status     string       `json:"status"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at"`
	Results    []OutcomeDTO `json:"results"`
	Error      string       `json:"error,omitempty"`
}

func toReportDTO(r *credits.Report) ReportDTO {
	dto := ReportDTO{
		RunID:      r.RunID,
		Cohort:     string(r.Cohort),
		Target:     r.Target.String(),
		Status:     string(r.Status()),
		Succeeded:  r.Succeeded(),
		Failed:     r.Failed(),
		StartedAt:  r.StartedAt.Format(time.RFC3339),
		FinishedAt: r.FinishedAt.Format(time.RFC3339),
		Results:    make([]OutcomeDTO, len(r.Results)),
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	for i, o := range r.Results {
		out := OutcomeDTO{
			Identifier: o.Identifier,
			UserID:     string(o.UserID),
			Status:     string(o.Status),
		}
		if o.Status == credits.OutcomeSucceeded {
			prev := o.Previous
			out.Previous = &prev
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		dto.Results[i] = out
	}
	return dto
}

// RunDTO is a persisted run summary.
type RunDTO struct {
	ID          string `json:"id"`
	Cohort      string `json:"cohort"`
	Target      string `json:"target"`
	Status      string `json:"status"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toRunDTO(r credits.RunRecord) RunDTO {
	dto := RunDTO{
		ID:        r.ID,
		Cohort:    string(r.Cohort),
		Target:    r.Target.String(),
		Status:    string(r.Status),
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if !r.CompletedAt.IsZero() {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// ScheduleDTO describes the reset schedule.
type ScheduleDTO struct {
	Enabled          bool     `json:"enabled"`
	Schedule         string   `json:"schedule"`
	NextRun          string   `json:"next_run,omitempty"`
	BulkAmount       string   `json:"bulk_amount"`
	PrivilegedUsers  []string `json:"privileged_users"`
	PrivilegedAmount string   `json:"privileged_amount"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes balances, ledger history and the administrative reset operations
  via REST API. Handles HTTP request/response and JSON serialization, and
  delegates to credits.Ledger and credits.Resetter.

ENDPOINTS:
  Users:
    GET    /api/users                     List accounts
    POST   /api/users                     Register an account
    GET    /api/users/{id}                Get account
    GET    /api/users/{id}/balance        Current balance (sum of entries)
    GET    /api/users/{id}/transactions   Ledger history with running balance
    POST   /api/users/{id}/transactions   Record a credit or debit

  Admin:
    POST   /api/admin/reset               Reset one user (email or ID)
    POST   /api/admin/reset-all           Reset every user (force required)
    POST   /api/admin/reset-privileged    Reset the privileged users
    GET    /api/admin/runs                Recent reset runs
    GET    /api/admin/schedule            Reset schedule and next run

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (amounts are decimal strings)
  3. Call the ledger or resetter
  4. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown user
  - 409: Bulk reset not confirmed (force=false)
  - 500: Storage failures, or a run that could not enumerate users

  A cohort run in which some users failed is still 200; the report's
  status is "partial" or "failed" and each failure is listed.

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Scheduled resets
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/config"
	"github.com/warp/credit-engine/credits"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *credits.Ledger
	Resetter *credits.Resetter
	Accounts credits.Accounts
	Runs     credits.RunLog

	// Defaults for reset requests that omit the amount or user list.
	Reset config.Reset

	// Scheduler is optional; GetSchedule reports disabled when nil.
	Scheduler *ResetScheduler
}

// NewHandler creates a handler around a resetter and the backend it writes to.
func NewHandler(resetter *credits.Resetter, backend credits.Backend, defaults config.Reset) *Handler {
	return &Handler{
		Ledger:   resetter.Ledger(),
		Resetter: resetter,
		Accounts: backend,
		Runs:     backend,
		Reset:    defaults,
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all accounts.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toUserDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser registers an account. The ID is generated when omitted.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	email := strings.TrimSpace(req.Email)
	if err := credits.ValidateEmail(email); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email", err)
		return
	}
	if _, err := h.Accounts.AccountByEmail(r.Context(), email); err == nil {
		writeError(w, http.StatusConflict, "Email already registered", nil)
		return
	} else if !credits.IsNotFound(err) {
		writeError(w, http.StatusInternalServerError, "Failed to check email", err)
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	account := credits.Account{ID: credits.UserID(id), Email: email, Name: req.Name}
	if err := h.Accounts.SaveAccount(r.Context(), account); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}

	saved, err := h.Ledger.Account(r.Context(), account.ID)
	if err != nil {
		writeError(w, errorStatus(err), "Failed to load user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*saved))
}

// GetUser returns a single account.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	account, err := h.Ledger.Account(r.Context(), userParam(r))
	if err != nil {
		writeError(w, errorStatus(err), "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*account))
}

// GetBalance returns the sum of the user's entries.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	balance, err := h.Ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, errorStatus(err), "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(userID), Balance: balance})
}

// GetTransactions returns the user's ledger in audit order.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.Entries(r.Context(), userParam(r))
	if err != nil {
		writeError(w, errorStatus(err), "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(entries))
}

// RecordTransaction appends a credit or debit for the user.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req RecordTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || amount.IsZero() {
		writeError(w, http.StatusBadRequest, "Invalid amount",
			&credits.ValidationError{Field: "amount", Value: req.Amount, Reason: "must be a non-zero decimal"})
		return
	}

	kind := credits.EntryKind(req.Kind)
	if kind == "" {
		kind = credits.KindCredit
		if amount.IsNegative() {
			kind = credits.KindDebit
		}
	}

	entry, err := h.Ledger.Record(r.Context(), credits.Entry{
		UserID:  userParam(r),
		Amount:  amount,
		Kind:    kind,
		Context: req.Context,
	})
	if err != nil {
		writeError(w, errorStatus(err), "Failed to record transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTOs([]credits.Entry{entry})[0])
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetUser forces one user's balance to the requested amount.
func (h *Handler) ResetUser(w http.ResponseWriter, r *http.Request) {
	var req ResetUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	target, err := credits.ParseAmount(req.Balance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid balance", err)
		return
	}
	if strings.TrimSpace(req.User) == "" {
		writeError(w, http.StatusBadRequest, "User is required", nil)
		return
	}

	report, err := h.Resetter.ResetOne(r.Context(), req.User, target)
	if err != nil {
		writeError(w, errorStatus(err), "Failed to reset balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ResetAll resets every known user. Without force the request is refused,
// since there is nobody to answer the confirmation prompt.
func (h *Handler) ResetAll(w http.ResponseWriter, r *http.Request) {
	var req ResetAllRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	target, err := amountOrDefault(req.Balance, h.Reset.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid balance", err)
		return
	}

	report, err := h.Resetter.ResetAll(r.Context(), target, req.Force)
	if err != nil {
		if credits.IsCancelled(err) {
			writeError(w, http.StatusConflict, "Operation cancelled", errors.New("set force to true to reset every user"))
			return
		}
		writeError(w, errorStatus(err), "Failed to reset balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ResetPrivileged resets the requested (or configured) privileged users.
func (h *Handler) ResetPrivileged(w http.ResponseWriter, r *http.Request) {
	var req ResetPrivilegedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	users := req.Users
	if len(users) == 0 {
		users = h.Reset.PrivilegedUsers
	}
	if len(users) == 0 {
		writeError(w, http.StatusBadRequest, "No privileged users", nil)
		return
	}
	target, err := amountOrDefault(req.Balance, h.Reset.PrivilegedRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid balance", err)
		return
	}

	report, err := h.Resetter.ResetPrivileged(r.Context(), users, target)
	if err != nil {
		writeError(w, errorStatus(err), "Failed to reset privileged balances", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ListRuns returns recent reset runs, newest first. ?limit= defaults to 20.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchedule describes the scheduled reset.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	dto := ScheduleDTO{
		Schedule:         h.Reset.Schedule,
		BulkAmount:       h.Reset.Amount,
		PrivilegedUsers:  h.Reset.PrivilegedUsers,
		PrivilegedAmount: h.Reset.PrivilegedRaw,
	}
	if dto.PrivilegedUsers == nil {
		dto.PrivilegedUsers = []string{}
	}
	if h.Scheduler != nil && h.Scheduler.Enabled() {
		dto.Enabled = true
		if next := h.Scheduler.NextRun(); !next.IsZero() {
			dto.NextRun = next.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func userParam(r *http.Request) credits.UserID {
	return credits.UserID(chi.URLParam(r, "id"))
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func amountOrDefault(raw, fallback string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	return credits.ParseAmount(raw)
}

// errorStatus maps credits errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case credits.IsClientError(err):
		return http.StatusBadRequest
	case credits.IsNotFound(err):
		return http.StatusNotFound
	case credits.IsCancelled(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// Package store provides an in-memory credits.Backend.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/credits"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	entries  map[credits.UserID][]credits.Entry
	ids      map[credits.EntryID]bool
	accounts map[credits.UserID]credits.Account
	order    []credits.UserID
	runs     []credits.RunRecord
}

var _ credits.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[credits.UserID][]credits.Entry),
		ids:      make(map[credits.EntryID]bool),
		accounts: make(map[credits.UserID]credits.Account),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e credits.Entry) (credits.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e credits.Entry) (credits.EntryID, error) {
	if e.ID == "" {
		e.ID = credits.EntryID(uuid.NewString())
	}
	if m.ids[e.ID] {
		return "", fmt.Errorf("duplicate entry id %s", e.ID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	entries := m.entries[e.UserID]

	// Insert after every entry with CreatedAt <= e.CreatedAt so equal
	// timestamps keep insertion order.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].CreatedAt.After(e.CreatedAt)
	})
	entries = append(entries, credits.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.UserID] = entries
	m.ids[e.ID] = true

	return e.ID, nil
}

func (m *Memory) Sum(_ context.Context, userID credits.UserID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return credits.Sum(m.entries[userID]), nil
}

func (m *Memory) Entries(_ context.Context, userID credits.UserID) ([]credits.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]credits.Entry, len(m.entries[userID]))
	copy(result, m.entries[userID])
	return result, nil
}

func (m *Memory) ListUserIDs(_ context.Context) ([]credits.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]credits.UserID(nil), m.order...), nil
}

// EntryCount returns the number of entries across all users.
func (m *Memory) EntryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) Account(_ context.Context, id credits.UserID) (*credits.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, credits.ErrUserNotFound
	}
	return &acct, nil
}

func (m *Memory) AccountByEmail(_ context.Context, email string) (*credits.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		if acct := m.accounts[id]; strings.EqualFold(acct.Email, email) {
			return &acct, nil
		}
	}
	return nil, credits.ErrUserNotFound
}

func (m *Memory) ListAccounts(_ context.Context) ([]credits.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]credits.Account, 0, len(m.order))
	for _, id := range m.order {
		accounts = append(accounts, m.accounts[id])
	}
	return accounts, nil
}

// SaveAccount inserts or updates an account.
func (m *Memory) SaveAccount(_ context.Context, a credits.Account) error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.accounts[a.ID]
	if !ok {
		m.order = append(m.order, a.ID)
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
	} else {
		a.CreatedAt = existing.CreatedAt
	}
	m.accounts[a.ID] = a
	return nil
}

// =============================================================================
// RUN LOG
// =============================================================================

// SaveRun inserts or replaces a run by ID.
func (m *Memory) SaveRun(_ context.Context, run credits.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) Runs(_ context.Context, limit int) ([]credits.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []credits.RunRecord
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(credits.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries map[credits.UserID][]credits.Entry
	ids     map[credits.EntryID]bool
}

func (m *Memory) snapshot() memorySnapshot {
	entries := make(map[credits.UserID][]credits.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]credits.Entry(nil), v...)
	}
	ids := make(map[credits.EntryID]bool, len(m.ids))
	for k, v := range m.ids {
		ids[k] = v
	}
	return memorySnapshot{entries: entries, ids: ids}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.ids = s.ids
}

// txView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it must not take it again.
type txView struct {
	parent *Memory
}

func (tv *txView) Append(_ context.Context, e credits.Entry) (credits.EntryID, error) {
	return tv.parent.appendLocked(e)
}

func (tv *txView) Sum(_ context.Context, userID credits.UserID) (decimal.Decimal, error) {
	return credits.Sum(tv.parent.entries[userID]), nil
}

func (tv *txView) Entries(_ context.Context, userID credits.UserID) ([]credits.Entry, error) {
	return append([]credits.Entry(nil), tv.parent.entries[userID]...), nil
}

func (tv *txView) ListUserIDs(_ context.Context) ([]credits.UserID, error) {
	return append([]credits.UserID(nil), tv.parent.order...), nil
}

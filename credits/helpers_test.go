package credits_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/credits"
	"github.com/warp/credit-engine/credits/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var errConnReset = errors.New("connection reset by peer")

func amt(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// tickingClock returns strictly increasing timestamps so audit order is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// flakyStore fails appends for selected users.
// failOn[u] == 0 fails every append for u, n > 0 fails only the n-th.
type flakyStore struct {
	*store.Memory

	mu      sync.Mutex
	failOn  map[credits.UserID]int
	appends map[credits.UserID]int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Memory:  store.NewMemory(),
		failOn:  make(map[credits.UserID]int),
		appends: make(map[credits.UserID]int),
	}
}

func (f *flakyStore) shouldFail(userID credits.UserID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.appends[userID]++
	n, ok := f.failOn[userID]
	return ok && (n == 0 || n == f.appends[userID])
}

func (f *flakyStore) Append(ctx context.Context, e credits.Entry) (credits.EntryID, error) {
	if f.shouldFail(e.UserID) {
		return "", errConnReset
	}
	return f.Memory.Append(ctx, e)
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(credits.Store) error) error {
	return f.Memory.WithTx(ctx, func(s credits.Store) error {
		return fn(&flakyView{Store: s, parent: f})
	})
}

type flakyView struct {
	credits.Store
	parent *flakyStore
}

func (v *flakyView) Append(ctx context.Context, e credits.Entry) (credits.EntryID, error) {
	if v.parent.shouldFail(e.UserID) {
		return "", errConnReset
	}
	return v.Store.Append(ctx, e)
}

// plainStore hides WithTx so the store is only a credits.Store.
type plainStore struct {
	credits.Store
}

func seedUsers(t *testing.T, s *store.Memory, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.SaveAccount(context.Background(), credits.Account{
			ID:    credits.UserID(id),
			Email: id + "@example.com",
			Name:  id,
		}))
	}
}

func record(t *testing.T, l *credits.Ledger, userID string, amounts ...string) {
	t.Helper()
	for _, a := range amounts {
		kind := credits.KindCredit
		if amt(a).IsNegative() {
			kind = credits.KindDebit
		}
		_, err := l.Record(context.Background(), credits.Entry{
			UserID: credits.UserID(userID),
			Amount: amt(a),
			Kind:   kind,
		})
		require.NoError(t, err)
	}
}

func balanceOf(t *testing.T, l *credits.Ledger, userID string) decimal.Decimal {
	t.Helper()
	b, err := l.Balance(context.Background(), credits.UserID(userID))
	require.NoError(t, err)
	return b
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []credits.ResetEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev credits.ResetEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

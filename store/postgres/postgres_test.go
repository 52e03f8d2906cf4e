package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/credits"
)

// These tests need a live server: POSTGRES_DSN=postgres://... go test ./store/postgres
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgres_ResetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := credits.UserID("pg-" + uuid.NewString())
	require.NoError(t, s.SaveAccount(ctx, credits.Account{ID: user, Email: string(user) + "@example.com"}))

	ledger := credits.NewLedger(s, s, credits.WithAtomicResets(true))
	for _, a := range []string{"100", "-30.5"} {
		_, err := ledger.Record(ctx, credits.Entry{UserID: user, Amount: decimal.RequireFromString(a), Kind: credits.KindCredit})
		require.NoError(t, err)
	}

	res, err := ledger.Reset(ctx, user, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, res.Previous.Equal(decimal.RequireFromString("69.5")))

	balance, err := ledger.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(50)))

	entries, err := s.Entries(ctx, user)
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	acct, err := s.AccountByEmail(ctx, string(user)+"@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, user, acct.ID)
}

func TestPostgres_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := credits.UserID("pg-" + uuid.NewString())

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx credits.Store) error {
		_, err := tx.Append(ctx, credits.Entry{UserID: user, Amount: decimal.NewFromInt(5), Kind: credits.KindCredit})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sum, err := s.Sum(ctx, user)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestPostgres_UnknownAccount(t *testing.T) {
	_, err := newTestStore(t).Account(context.Background(), "pg-missing-"+credits.UserID(uuid.NewString()))
	assert.True(t, credits.IsNotFound(err))
}

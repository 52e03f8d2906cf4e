package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/credits"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "credits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestSQLite_AppendSumAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		amount string
		at     time.Time
	}{
		{"100", base.Add(time.Minute)},
		{"0.1", base},
		{"-30.05", base.Add(time.Minute)},
	} {
		id, err := s.Append(ctx, credits.Entry{
			UserID:    "u1",
			Amount:    dec(tc.amount),
			Kind:      credits.KindCredit,
			Context:   "purchase",
			CreatedAt: tc.at,
		})
		require.NoError(t, err, "entry %d", i)
		assert.NotEmpty(t, id)
	}

	sum, err := s.Sum(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("70.05")), "got %s", sum)

	entries, err := s.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "0.1", entries[0].Amount.String())
	assert.Equal(t, "100", entries[1].Amount.String())
	assert.Equal(t, "-30.05", entries[2].Amount.String())
	assert.Equal(t, credits.DefaultTokenType, entries[0].TokenType)
	assert.Equal(t, "purchase", entries[0].Context)
	assert.True(t, entries[0].CreatedAt.Equal(base))
}

func TestSQLite_SumWithoutEntriesIsZero(t *testing.T) {
	sum, err := newTestStore(t).Sum(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestSQLite_DuplicateEntryID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := credits.Entry{ID: "e1", UserID: "u1", Amount: dec("1"), Kind: credits.KindCredit}

	_, err := s.Append(ctx, e)
	require.NoError(t, err)
	_, err = s.Append(ctx, e)
	assert.Error(t, err)
}

func TestSQLite_Accounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveAccount(ctx, credits.Account{ID: "u2", Email: "Second@Example.com", Name: "Two"}))
	require.NoError(t, s.SaveAccount(ctx, credits.Account{ID: "u1", Email: "first@example.com"}))

	ids, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []credits.UserID{"u2", "u1"}, ids)

	acct, err := s.AccountByEmail(ctx, "second@example.com")
	require.NoError(t, err)
	assert.Equal(t, credits.UserID("u2"), acct.ID)
	assert.Equal(t, "Two", acct.Name)

	_, err = s.Account(ctx, "ghost")
	assert.True(t, credits.IsNotFound(err))
	_, err = s.AccountByEmail(ctx, "ghost@example.com")
	assert.True(t, credits.IsNotFound(err))

	require.NoError(t, s.SaveAccount(ctx, credits.Account{ID: "u2", Email: "two@example.com"}))
	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "two@example.com", accounts[0].Email)
}

func TestSQLite_WithTx(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Append(ctx, credits.Entry{UserID: "u1", Amount: dec("70"), Kind: credits.KindCredit})
	require.NoError(t, err)

	// GIVEN: A transaction that appends and then fails
	// THEN: Nothing it wrote survives
	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx credits.Store) error {
		_, err := tx.Append(ctx, credits.Entry{UserID: "u1", Amount: dec("-70"), Kind: credits.KindAdminAdjustment})
		require.NoError(t, err)

		sum, err := tx.Sum(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, sum.IsZero())
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sum, err := s.Sum(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("70")))

	// GIVEN: A transaction that succeeds
	// THEN: Both writes are visible
	err = s.WithTx(ctx, func(tx credits.Store) error {
		if _, err := tx.Append(ctx, credits.Entry{UserID: "u1", Amount: dec("-70"), Kind: credits.KindAdminAdjustment}); err != nil {
			return err
		}
		_, err := tx.Append(ctx, credits.Entry{UserID: "u1", Amount: dec("50"), Kind: credits.KindAdminAdjustment})
		return err
	})
	require.NoError(t, err)

	sum, err = s.Sum(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("50")))
}

func TestSQLite_Runs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, credits.RunRecord{
		ID: "r1", Cohort: credits.CohortAll, Target: dec("50"), Status: credits.RunCompleted,
		Succeeded: 3, StartedAt: start, CompletedAt: start.Add(time.Second),
	}))
	require.NoError(t, s.SaveRun(ctx, credits.RunRecord{
		ID: "r2", Cohort: credits.CohortPrivileged, Target: dec("200"), Status: credits.RunPartial,
		Succeeded: 1, Failed: 1, Error: "", StartedAt: start.Add(time.Minute),
	}))

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, credits.CohortPrivileged, runs[0].Cohort)
	assert.True(t, runs[0].CompletedAt.IsZero())
	assert.True(t, runs[1].Target.Equal(dec("50")))
	assert.Equal(t, 3, runs[1].Succeeded)

	runs, err = s.Runs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_LedgerReset(t *testing.T) {
	// GIVEN: u1 with [+100, -30] on SQLite
	// WHEN: An atomic reset to 50
	// THEN: Balance is 50 with two admin entries appended

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveAccount(ctx, credits.Account{ID: "u1", Email: "u1@example.com"}))
	ledger := credits.NewLedger(s, s, credits.WithAtomicResets(true))

	for _, a := range []string{"100", "-30"} {
		_, err := ledger.Record(ctx, credits.Entry{UserID: "u1", Amount: dec(a), Kind: credits.KindCredit})
		require.NoError(t, err)
	}

	res, err := ledger.Reset(ctx, "u1", dec("50"))
	require.NoError(t, err)
	assert.True(t, res.Previous.Equal(dec("70")))

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50")))

	entries, err := ledger.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, credits.KindAdminAdjustment, entries[2].Kind)
	assert.Equal(t, credits.AdminContext, entries[3].Context)
}

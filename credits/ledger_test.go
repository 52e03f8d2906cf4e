package credits_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/credits"
	"github.com/warp/credit-engine/credits/store"
)

// =============================================================================
// BALANCE ACCESSOR TESTS
// =============================================================================

func TestBalance_KnownUserWithoutEntries_IsZero(t *testing.T) {
	// GIVEN: A known account with an empty ledger
	// WHEN: Reading the balance
	// THEN: Balance is 0 and there is no error

	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(mem, mem)

	b, err := ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, b.IsZero(), "expected zero balance, got %s", b)
}

func TestBalance_UnknownUser_NotFound(t *testing.T) {
	mem := store.NewMemory()
	ledger := credits.NewLedger(mem, mem)

	_, err := ledger.Balance(context.Background(), "ghost")

	require.Error(t, err)
	assert.True(t, credits.IsNotFound(err))
	var nf *credits.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Identifier)
}

func TestBalance_IsSumOfEntries(t *testing.T) {
	mem := store.NewMemory()
	seedUsers(t, mem, "u1", "u2")
	ledger := credits.NewLedger(mem, mem, credits.WithClock(tickingClock()))

	record(t, ledger, "u1", "100", "-30", "12.5")
	record(t, ledger, "u2", "7")

	assert.True(t, balanceOf(t, ledger, "u1").Equal(amt("82.5")))
	assert.True(t, balanceOf(t, ledger, "u2").Equal(amt("7")))
}

// =============================================================================
// RESET OPERATION TESTS
// =============================================================================

func TestReset_FromSeventyToFifty_AppendsZeroingThenSetting(t *testing.T) {
	// GIVEN: u1 has entries [+100, -30] (balance 70)
	// WHEN: reset(u1, 50)
	// THEN: -70 then +50 are appended, balance is 50, u1 has 4 entries

	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(mem, mem, credits.WithClock(tickingClock()))
	record(t, ledger, "u1", "100", "-30")

	res, err := ledger.Reset(ctx, "u1", amt("50"))
	require.NoError(t, err)

	assert.True(t, res.Previous.Equal(amt("70")))
	assert.NotEmpty(t, res.ZeroingEntry)
	assert.NotEmpty(t, res.SettingEntry)

	entries, err := ledger.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.True(t, entries[2].Amount.Equal(amt("-70")), "zeroing entry, got %s", entries[2].Amount)
	assert.True(t, entries[3].Amount.Equal(amt("50")), "setting entry, got %s", entries[3].Amount)
	for _, e := range entries[2:] {
		assert.Equal(t, credits.KindAdminAdjustment, e.Kind)
		assert.Equal(t, credits.AdminContext, e.Context)
		assert.Equal(t, credits.DefaultTokenType, e.TokenType)
	}
	assert.Equal(t, res.ZeroingEntry, entries[2].ID)
	assert.Equal(t, res.SettingEntry, entries[3].ID)

	assert.True(t, balanceOf(t, ledger, "u1").Equal(amt("50")))
}

func TestReset_Twice_SameBalanceFourNewEntries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(mem, mem, credits.WithClock(tickingClock()))
	record(t, ledger, "u1", "42")
	before := mem.EntryCount()

	for i := 0; i < 2; i++ {
		_, err := ledger.Reset(ctx, "u1", amt("20"))
		require.NoError(t, err)
		assert.True(t, balanceOf(t, ledger, "u1").Equal(amt("20")))
	}

	assert.Equal(t, before+4, mem.EntryCount())
}

func TestReset_AnyPriorBalance_EndsAtTarget(t *testing.T) {
	priors := [][]string{
		nil,
		{"0"},
		{"100", "-30"},
		{"-15.75"},
		{"1000000", "-999999.999"},
	}
	targets := []string{"0", "50", "200", "0.000001", "-5"}

	for _, prior := range priors {
		for _, target := range targets {
			mem := store.NewMemory()
			seedUsers(t, mem, "u1")
			ledger := credits.NewLedger(mem, mem, credits.WithClock(tickingClock()))
			record(t, ledger, "u1", prior...)

			_, err := ledger.Reset(context.Background(), "u1", amt(target))
			require.NoError(t, err)
			assert.True(t, balanceOf(t, ledger, "u1").Equal(amt(target)),
				"prior %v target %s", prior, target)
		}
	}
}

func TestReset_UnknownUser_NoAppends(t *testing.T) {
	mem := store.NewMemory()
	ledger := credits.NewLedger(mem, mem)

	_, err := ledger.Reset(context.Background(), "ghost", amt("10"))

	assert.True(t, credits.IsNotFound(err))
	assert.Equal(t, 0, mem.EntryCount())
}

func TestReset_SettingAppendFails_LeavesIntermediateState(t *testing.T) {
	// GIVEN: The second append for u1 will fail
	// WHEN: reset(u1, 50) from a balance of 70
	// THEN: StorageError is returned and the zeroing entry stays (balance 0)

	ctx := context.Background()
	fs := newFlakyStore()
	seedUsers(t, fs.Memory, "u1")
	ledger := credits.NewLedger(fs, fs.Memory, credits.WithClock(tickingClock()))
	record(t, ledger, "u1", "100", "-30")
	fs.failOn["u1"] = 4 // two seed appends, then zeroing (3rd), then setting (4th)

	res, err := ledger.Reset(ctx, "u1", amt("50"))

	require.Error(t, err)
	assert.ErrorIs(t, err, credits.ErrStorage)
	assert.ErrorIs(t, err, errConnReset)
	var se *credits.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, credits.UserID("u1"), se.UserID)

	assert.NotEmpty(t, res.ZeroingEntry)
	assert.True(t, balanceOf(t, ledger, "u1").IsZero())
}

func TestReset_Atomic_RollsBackBothEntries(t *testing.T) {
	ctx := context.Background()
	fs := newFlakyStore()
	seedUsers(t, fs.Memory, "u1")
	ledger := credits.NewLedger(fs, fs.Memory,
		credits.WithClock(tickingClock()),
		credits.WithAtomicResets(true),
	)
	record(t, ledger, "u1", "100", "-30")
	fs.failOn["u1"] = 4

	_, err := ledger.Reset(ctx, "u1", amt("50"))

	require.Error(t, err)
	assert.ErrorIs(t, err, credits.ErrStorage)
	assert.True(t, balanceOf(t, ledger, "u1").Equal(amt("70")))
	assert.Equal(t, 2, fs.EntryCount())
}

func TestReset_Atomic_Succeeds(t *testing.T) {
	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(mem, mem, credits.WithAtomicResets(true), credits.WithClock(tickingClock()))
	record(t, ledger, "u1", "9")

	_, err := ledger.Reset(context.Background(), "u1", amt("3"))
	require.NoError(t, err)
	assert.True(t, balanceOf(t, ledger, "u1").Equal(amt("3")))
	assert.Equal(t, 3, mem.EntryCount())
}

func TestReset_Atomic_RequiresTxStore(t *testing.T) {
	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(plainStore{mem}, mem, credits.WithAtomicResets(true))

	_, err := ledger.Reset(context.Background(), "u1", amt("3"))

	assert.True(t, errors.Is(err, credits.ErrStoreRequired))
	assert.Equal(t, 0, mem.EntryCount())
}

// =============================================================================
// RECORD / RESOLVE TESTS
// =============================================================================

func TestRecord_UnknownKind_Rejected(t *testing.T) {
	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(mem, mem)

	_, err := ledger.Record(context.Background(), credits.Entry{UserID: "u1", Amount: amt("1"), Kind: "refund"})

	assert.True(t, credits.IsClientError(err))
	assert.Equal(t, 0, mem.EntryCount())
}

func TestRecord_StampsIDAndTimestamp(t *testing.T) {
	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(mem, mem)

	e, err := ledger.Record(context.Background(), credits.Entry{UserID: "u1", Amount: amt("5"), Kind: credits.KindCredit})
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, credits.DefaultTokenType, e.TokenType)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem, "u1")
	ledger := credits.NewLedger(mem, mem)

	acct, err := ledger.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, credits.UserID("u1"), acct.ID)

	acct, err = ledger.Resolve(ctx, "  U1@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, credits.UserID("u1"), acct.ID)

	_, err = ledger.Resolve(ctx, "nobody@example.com")
	assert.True(t, credits.IsNotFound(err))

	_, err = ledger.Resolve(ctx, "   ")
	assert.True(t, credits.IsClientError(err))
}

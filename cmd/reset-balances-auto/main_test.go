package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/credits"
	"github.com/warp/credit-engine/credits/store"
	"github.com/warp/credit-engine/factory"
)

func setup(t *testing.T, env map[string]string) *store.Memory {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "memory")
	for k, v := range env {
		t.Setenv(k, v)
	}

	ctx := context.Background()
	mem := store.NewMemory()
	for _, a := range []credits.Account{
		{ID: "u1", Email: "a@example.com"},
		{ID: "u2", Email: "boss@example.com"},
	} {
		require.NoError(t, mem.SaveAccount(ctx, a))
		_, err := mem.Append(ctx, credits.Entry{UserID: a.ID, Amount: decimal.NewFromInt(3), Kind: credits.KindCredit})
		require.NoError(t, err)
	}
	return mem
}

func balance(t *testing.T, mem *store.Memory, id credits.UserID) string {
	t.Helper()
	d, err := mem.Sum(context.Background(), id)
	require.NoError(t, err)
	return d.String()
}

var fullEnv = map[string]string{
	"RESET_BALANCE_AMOUNT":          "20",
	"RESET_AMOUNT_PRIVILEGED_USERS": "boss@example.com",
	"RESET_AMOUNT_PRIVILEGED":       "500",
}

func TestRun_DefaultIsFullReset(t *testing.T) {
	// GIVEN: bulk and privileged amounts configured
	mem := setup(t, fullEnv)
	var stdout, stderr bytes.Buffer

	// WHEN: run without a command
	code := run(context.Background(), nil, &stdout, &stderr, factory.WithBackend(mem))

	// THEN: bulk first, then privileged on top
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "20", balance(t, mem, "u1"))
	assert.Equal(t, "500", balance(t, mem, "u2"))
	assert.Contains(t, stdout.String(), "all reset to 20: 2 succeeded")
	assert.Contains(t, stdout.String(), "privileged reset to 500: 1 succeeded")
}

func TestRun_PrivilegedOnly(t *testing.T) {
	mem := setup(t, fullEnv)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"reset-privileged"}, &stdout, &stderr, factory.WithBackend(mem))

	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "3", balance(t, mem, "u1"))
	assert.Equal(t, "500", balance(t, mem, "u2"))
}

func TestRun_PrivilegedFailureExitsNonZero(t *testing.T) {
	mem := setup(t, map[string]string{
		"RESET_BALANCE_AMOUNT":          "20",
		"RESET_AMOUNT_PRIVILEGED_USERS": "boss@example.com,ghost@example.com",
		"RESET_AMOUNT_PRIVILEGED":       "500",
	})
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"reset"}, &stdout, &stderr, factory.WithBackend(mem))

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "ghost@example.com")
	assert.Equal(t, "500", balance(t, mem, "u2"))
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"unknown command", []string{"reset-everything"}, fullEnv},
		{"no bulk amount", []string{"reset"}, map[string]string{}},
		{"no privileged users", []string{"reset-privileged"}, map[string]string{"RESET_AMOUNT_PRIVILEGED": "5"}},
		{"privileged users without amount", []string{"reset"}, map[string]string{
			"RESET_BALANCE_AMOUNT":          "20",
			"RESET_AMOUNT_PRIVILEGED_USERS": "boss@example.com",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := setup(t, tt.env)
			var stdout, stderr bytes.Buffer

			code := run(context.Background(), tt.args, &stdout, &stderr, factory.WithBackend(mem))

			assert.Equal(t, 1, code)
			assert.Equal(t, 2, mem.EntryCount())
		})
	}
}

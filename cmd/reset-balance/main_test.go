package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/credits"
	"github.com/warp/credit-engine/credits/store"
	"github.com/warp/credit-engine/factory"
)

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "memory")

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveAccount(ctx, credits.Account{ID: "u1", Email: "a@example.com"}))
	_, err := mem.Append(ctx, credits.Entry{UserID: "u1", Amount: decimal.NewFromInt(70), Kind: credits.KindCredit})
	require.NoError(t, err)
	return mem
}

func TestRun_Arguments(t *testing.T) {
	// GIVEN: a user at 70
	mem := seeded(t)
	var stdout, stderr bytes.Buffer

	// WHEN: the reset is run with email and balance arguments
	code := run(context.Background(), []string{"a@example.com", "50"}, strings.NewReader(""), &stdout, &stderr,
		factory.WithBackend(mem))

	// THEN: exit 0 and the balance is 50
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Balance for a@example.com successfully reset to 50")
	sum, _ := mem.Sum(context.Background(), "u1")
	assert.Equal(t, "50", sum.String())
}

func TestRun_PromptsForMissingValues(t *testing.T) {
	mem := seeded(t)
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), nil, strings.NewReader("a@example.com\n12.5\n"), &stdout, &stderr,
		factory.WithBackend(mem))

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Please enter the email of the user:")
	assert.Contains(t, stdout.String(), "Please enter the new balance:")
	sum, _ := mem.Sum(context.Background(), "u1")
	assert.Equal(t, "12.5", sum.String())
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		wantErr string
	}{
		{"prompted email without @", nil, "nobody\n", "Invalid email address"},
		{"invalid balance", []string{"a@example.com", "abc"}, "", "Invalid balance amount"},
		{"prompted invalid balance", []string{"a@example.com"}, "soon\n", "Invalid balance amount"},
		{"unknown user", []string{"ghost@example.com", "5"}, "", "No user with that email was found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := seeded(t)
			var stdout, stderr bytes.Buffer

			code := run(context.Background(), tt.args, strings.NewReader(tt.stdin), &stdout, &stderr,
				factory.WithBackend(mem))

			assert.Equal(t, 1, code)
			assert.Contains(t, stderr.String(), tt.wantErr)
			assert.Equal(t, 1, mem.EntryCount())
		})
	}
}

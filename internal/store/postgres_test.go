package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLedgerStore runs the ledger contract against a real database.
// Set LEDGER_TEST_DB to a disposable Postgres connection string to enable it.
func TestLedgerStore(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DB")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DB not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewLedgerStore(pool)
	require.NoError(t, s.Migrate(ctx))

	runLedgerContract(t, func(t *testing.T) ledger { return s })
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/storage"
	"github.com/example/bank-ledger/internal/storage/storagetest"
)

func TestClassify(t *testing.T) {
	d := dialect{}

	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation} {
		err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
		assert.ErrorIs(t, d.Classify(err), storage.ErrConflict, code)
	}

	other := &pgconn.PgError{Code: "42P01"}
	assert.NotErrorIs(t, d.Classify(other), storage.ErrConflict)

	plain := errors.New("connection reset")
	assert.Equal(t, plain, d.Classify(plain))
}

// TestProviderIntegration runs against a real database when
// LEDGER_TEST_DATABASE_URL is set.
func TestProviderIntegration(t *testing.T) {
	dbURL := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Provider {
		ctx := context.Background()
		p, err := Open(ctx, dbURL, nil)
		require.NoError(t, err)

		_, err = p.DB().ExecContext(ctx, `TRUNCATE operations, accounts RESTART IDENTITY`)
		require.NoError(t, err)

		t.Cleanup(func() { p.Close() })
		return p
	})
}

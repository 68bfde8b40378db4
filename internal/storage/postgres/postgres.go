// Package postgres opens a ledger storage provider on PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/storage"
	"github.com/example/bank-ledger/internal/storage/sqlstore"
)

// SQLSTATE codes that mean the transaction lost a race and can be retried.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		balance NUMERIC NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (name, address)
	)`,
	`CREATE TABLE IF NOT EXISTS operations (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL,
		amount NUMERIC NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('DEPOSIT', 'WITHDRAW', 'TRANSFER_IN', 'TRANSFER_OUT')),
		transfer_id UUID,
		title TEXT,
		counterparty_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_account_id ON operations(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations(created_at)`,
}

type dialect struct{}

func (dialect) Name() string               { return "postgres" }
func (dialect) Schema() []string           { return schema }
func (dialect) NumberedPlaceholders() bool { return true }

func (dialect) TxOptions(readOnly bool) *sql.TxOptions {
	if readOnly {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (dialect) InsertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
	return id, err
}

// Classify reports serialization failures, deadlocks and unique violations
// as conflicts.
func (dialect) Classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	}
	return err
}

// Provider is a sqlstore.Store that also owns its pgx pool.
type Provider struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

// Open connects to databaseURL and applies the schema.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Provider, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	store := sqlstore.New(db, dialect{}, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		pool.Close()
		return nil, err
	}

	return &Provider{Store: store, pool: pool}, nil
}

// Close closes the database handle and the pool behind it.
func (p *Provider) Close() error {
	err := p.Store.Close()
	p.pool.Close()
	return err
}

// Package sqlite opens a ledger storage provider on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/storage"
	"github.com/example/bank-ledger/internal/storage/sqlstore"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_name_address ON accounts(name, address)`,
	`CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('DEPOSIT', 'WITHDRAW', 'TRANSFER_IN', 'TRANSFER_OUT')),
		transfer_id TEXT,
		title TEXT,
		counterparty_id INTEGER,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_account_id ON operations(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations(created_at)`,
}

type dialect struct{}

func (dialect) Name() string               { return "sqlite" }
func (dialect) Schema() []string           { return schema }
func (dialect) NumberedPlaceholders() bool { return false }

func (dialect) TxOptions(readOnly bool) *sql.TxOptions {
	return nil
}

func (dialect) InsertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Classify reports busy/locked databases and unique violations as conflicts.
func (dialect) Classify(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch {
	case sqliteErr.Code == sqlite3.ErrBusy,
		sqliteErr.Code == sqlite3.ErrLocked,
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	}
	return err
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use MemoryPath for a throwaway database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*sqlstore.Store, error) {
	if path == "" {
		path = MemoryPath
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes
	// writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := sqlstore.New(db, dialect{}, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	if path == MemoryPath {
		return "file::memory:?_busy_timeout=5000"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
}

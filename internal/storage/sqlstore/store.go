// Package sqlstore implements storage.Provider on database/sql. Dialect
// packages (sqlite, postgres) supply the driver-specific pieces.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
)

// Dialect covers the differences between SQL backends.
type Dialect interface {
	Name() string
	// Schema returns the statements that create the ledger tables.
	Schema() []string
	// NumberedPlaceholders reports whether queries use $1..$n instead of ?.
	NumberedPlaceholders() bool
	// InsertReturningID runs an INSERT and returns the generated id.
	InsertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error)
	// Classify maps driver errors that signal a lost race to storage.ErrConflict.
	Classify(err error) error
	TxOptions(readOnly bool) *sql.TxOptions
}

// Store is a storage.Provider backed by a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var _ storage.Provider = (*Store)(nil)

// New wraps db. The caller keeps ownership of schema creation (see Migrate).
func New(db *sql.DB, dialect Dialect, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With(zap.String("storage", dialect.Name())),
	}
}

// DB exposes the underlying handle for administrative use.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	s.logger.Debug("schema ready")
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.run(ctx, true, fn)
}

// Update runs fn in a read-write transaction.
func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.run(ctx, false, fn)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.TxOptions(readOnly))
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", s.dialect.Classify(err))
	}
	defer tx.Rollback()

	t := &sqlTx{tx: tx, store: s, readOnly: readOnly}
	if err := fn(t); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Warn("commit failed", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", s.dialect.Classify(err))
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *Store) rebind(query string) string {
	if !s.dialect.NumberedPlaceholders() {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqlTx struct {
	tx       *sql.Tx
	store    *Store
	readOnly bool
}

func (t *sqlTx) Accounts() storage.Table[models.Account] {
	return &accountTable{sqlTx: t}
}

func (t *sqlTx) Operations() storage.Table[models.Operation] {
	return &operationTable{sqlTx: t}
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.store.rebind(query), args...)
	if err != nil {
		return nil, t.store.dialect.Classify(err)
	}
	return res, nil
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.store.rebind(query), args...)
	if err != nil {
		return nil, t.store.dialect.Classify(err)
	}
	return rows, nil
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.store.rebind(query), args...)
}

func (t *sqlTx) insert(ctx context.Context, query string, args ...any) (int64, error) {
	id, err := t.store.dialect.InsertReturningID(ctx, t.tx, t.store.rebind(query), args...)
	if err != nil {
		return 0, t.store.dialect.Classify(err)
	}
	return id, nil
}

func (t *sqlTx) exists(ctx context.Context, table string, id int64) (bool, error) {
	var n int
	err := t.queryRow(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, t.store.dialect.Classify(err)
	}
	return n > 0, nil
}

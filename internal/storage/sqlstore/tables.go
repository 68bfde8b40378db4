package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
)

const accountColumns = `id, name, address, CAST(balance AS TEXT), version, created_at, updated_at`

type accountTable struct {
	*sqlTx
}

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var (
		a       models.Account
		balance string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Address, &balance, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return a, fmt.Errorf("account %d has malformed balance %q: %w", a.ID, balance, err)
	}
	a.Balance = b
	return a, nil
}

func (t *accountTable) Create(ctx context.Context, rec *models.Account) (int64, error) {
	if t.readOnly {
		return 0, storage.ErrReadOnly
	}

	id, err := t.insert(ctx, `
		INSERT INTO accounts (name, address, balance, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		rec.Name, rec.Address, rec.Balance.String(), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}

	rec.ID = id
	rec.Version = 1
	return id, nil
}

func (t *accountTable) FindByID(ctx context.Context, id int64) (models.Account, error) {
	a, err := scanAccount(t.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
		}
		return a, fmt.Errorf("failed to get account: %w", t.store.dialect.Classify(err))
	}
	return a, nil
}

func (t *accountTable) FindAll(ctx context.Context) ([]models.Account, error) {
	rows, err := t.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", t.store.dialect.Classify(err))
	}
	return accounts, nil
}

// Update writes rec only if the stored version still equals rec.Version.
func (t *accountTable) Update(ctx context.Context, rec *models.Account) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}

	res, err := t.exec(ctx, `
		UPDATE accounts
		SET name = ?, address = ?, balance = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		rec.Name, rec.Address, rec.Balance.String(), rec.Version+1, rec.UpdatedAt,
		rec.ID, rec.Version)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n == 0 {
		ok, err := t.exists(ctx, "accounts", rec.ID)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		if !ok {
			return fmt.Errorf("account %d: %w", rec.ID, storage.ErrNotFound)
		}
		return fmt.Errorf("account %d changed since version %d: %w", rec.ID, rec.Version, storage.ErrConflict)
	}

	rec.Version++
	return nil
}

func (t *accountTable) Delete(ctx context.Context, id int64) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return t.delete(ctx, "accounts", id)
}

func (t *accountTable) Scan(ctx context.Context, match func(*models.Account) bool) ([]models.Account, error) {
	all, err := t.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return storage.Filter(all, match), nil
}

const operationColumns = `id, account_id, CAST(amount AS TEXT), type, transfer_id, title, counterparty_id, created_at`

type operationTable struct {
	*sqlTx
}

func scanOperation(row interface{ Scan(...any) error }) (models.Operation, error) {
	var (
		op           models.Operation
		amount, typ  string
		transferID   sql.NullString
		title        sql.NullString
		counterparty sql.NullInt64
		createdAt    time.Time
	)
	if err := row.Scan(&op.ID, &op.AccountID, &amount, &typ, &transferID, &title, &counterparty, &createdAt); err != nil {
		return op, err
	}

	a, err := decimal.NewFromString(amount)
	if err != nil {
		return op, fmt.Errorf("operation %d has malformed amount %q: %w", op.ID, amount, err)
	}
	op.Amount = a
	op.CreatedAt = createdAt

	if op.Type, err = models.ParseOperationType(typ); err != nil {
		return op, fmt.Errorf("operation %d: %w", op.ID, err)
	}

	if transferID.Valid {
		tid, err := uuid.Parse(transferID.String)
		if err != nil {
			return op, fmt.Errorf("operation %d has malformed transfer id: %w", op.ID, err)
		}
		op.Transfer = &models.TransferDetails{
			TransferID:     tid,
			Title:          title.String,
			CounterpartyID: counterparty.Int64,
		}
	}
	return op, nil
}

func operationArgs(op *models.Operation) (transferID, title sql.NullString, counterparty sql.NullInt64) {
	if op.Transfer == nil {
		return
	}
	transferID = sql.NullString{String: op.Transfer.TransferID.String(), Valid: true}
	title = sql.NullString{String: op.Transfer.Title, Valid: true}
	counterparty = sql.NullInt64{Int64: op.Transfer.CounterpartyID, Valid: true}
	return
}

func (t *operationTable) Create(ctx context.Context, rec *models.Operation) (int64, error) {
	if t.readOnly {
		return 0, storage.ErrReadOnly
	}

	transferID, title, counterparty := operationArgs(rec)
	id, err := t.insert(ctx, `
		INSERT INTO operations (account_id, amount, type, transfer_id, title, counterparty_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID, rec.Amount.String(), string(rec.Type), transferID, title, counterparty, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation: %w", err)
	}

	rec.ID = id
	return id, nil
}

func (t *operationTable) FindByID(ctx context.Context, id int64) (models.Operation, error) {
	op, err := scanOperation(t.queryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return op, fmt.Errorf("operation %d: %w", id, storage.ErrNotFound)
		}
		return op, fmt.Errorf("failed to get operation: %w", t.store.dialect.Classify(err))
	}
	return op, nil
}

func (t *operationTable) FindAll(ctx context.Context) ([]models.Operation, error) {
	rows, err := t.query(ctx, `SELECT `+operationColumns+` FROM operations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", t.store.dialect.Classify(err))
	}
	return ops, nil
}

func (t *operationTable) Update(ctx context.Context, rec *models.Operation) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}

	transferID, title, counterparty := operationArgs(rec)
	res, err := t.exec(ctx, `
		UPDATE operations
		SET account_id = ?, amount = ?, type = ?, transfer_id = ?, title = ?, counterparty_id = ?, created_at = ?
		WHERE id = ?`,
		rec.AccountID, rec.Amount.String(), string(rec.Type), transferID, title, counterparty, rec.CreatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %d: %w", rec.ID, storage.ErrNotFound)
	}
	return nil
}

func (t *operationTable) Delete(ctx context.Context, id int64) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return t.delete(ctx, "operations", id)
}

func (t *operationTable) Scan(ctx context.Context, match func(*models.Operation) bool) ([]models.Operation, error) {
	all, err := t.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return storage.Filter(all, match), nil
}

func (t *sqlTx) delete(ctx context.Context, table string, id int64) error {
	res, err := t.exec(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, storage.ErrNotFound)
	}
	return nil
}

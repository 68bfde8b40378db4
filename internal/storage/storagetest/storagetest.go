// Package storagetest holds the behaviour every storage.Provider must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
)

// Run exercises the provider returned by open. Each subtest gets a fresh
// provider.
func Run(t *testing.T, open func(t *testing.T) storage.Provider) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, open(t)) })
	t.Run("UpdateVersioning", func(t *testing.T) { testUpdateVersioning(t, open(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Scan", func(t *testing.T) { testScan(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("ReadOnlyView", func(t *testing.T) { testReadOnlyView(t, open(t)) })
	t.Run("TransferPayload", func(t *testing.T) { testTransferPayload(t, open(t)) })
	t.Run("TransferPayloadIsolated", func(t *testing.T) { testTransferPayloadIsolated(t, open(t)) })
}

func createAccount(t *testing.T, p storage.Provider, name, address, balance string) models.Account {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	acc := models.Account{
		Name:      name,
		Address:   address,
		Balance:   decimal.RequireFromString(balance),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := p.Update(context.Background(), func(tx storage.Tx) error {
		_, err := tx.Accounts().Create(context.Background(), &acc)
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, acc.ID)
	return acc
}

func testCreateAndFind(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	a := createAccount(t, p, "alice", "main st", "10.25")
	b := createAccount(t, p, "bob", "side st", "0")
	assert.NotEqual(t, a.ID, b.ID)

	err := p.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Accounts().FindByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Name)
		assert.Equal(t, "main st", got.Address)
		assert.True(t, got.Balance.Equal(decimal.RequireFromString("10.25")))
		assert.Equal(t, int64(1), got.Version)
		assert.True(t, got.CreatedAt.Equal(a.CreatedAt))

		all, err := tx.Accounts().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)
		assert.Equal(t, b.ID, all[1].ID)

		_, err = tx.Accounts().FindByID(ctx, b.ID+100)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func testUpdateVersioning(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	acc := createAccount(t, p, "alice", "main st", "1")
	stale := acc

	acc.Balance = decimal.NewFromInt(5)
	err := p.Update(ctx, func(tx storage.Tx) error {
		return tx.Accounts().Update(ctx, &acc)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), acc.Version)

	stale.Balance = decimal.NewFromInt(7)
	err = p.Update(ctx, func(tx storage.Tx) error {
		return tx.Accounts().Update(ctx, &stale)
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	err = p.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Accounts().FindByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(5)), "got %s", got.Balance)
		return nil
	})
	require.NoError(t, err)
}

func testUpdateMissing(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	ghost := models.Account{ID: 42, Name: "ghost", Version: 1}

	err := p.Update(ctx, func(tx storage.Tx) error {
		return tx.Accounts().Update(ctx, &ghost)
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDelete(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	acc := createAccount(t, p, "alice", "main st", "0")

	err := p.Update(ctx, func(tx storage.Tx) error {
		return tx.Accounts().Delete(ctx, acc.ID)
	})
	require.NoError(t, err)

	err = p.Update(ctx, func(tx storage.Tx) error {
		return tx.Accounts().Delete(ctx, acc.ID)
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = p.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Accounts().FindByID(ctx, acc.ID)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testScan(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	createAccount(t, p, "anna", "a", "1")
	createAccount(t, p, "bert", "b", "2")
	createAccount(t, p, "anton", "c", "3")

	err := p.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Accounts().Scan(ctx, func(a *models.Account) bool {
			return a.Balance.GreaterThanOrEqual(decimal.NewFromInt(2))
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "bert", got[0].Name)
		assert.Equal(t, "anton", got[1].Name)
		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	acc := createAccount(t, p, "alice", "main st", "1")
	boom := errors.New("boom")

	err := p.Update(ctx, func(tx storage.Tx) error {
		acc.Balance = decimal.NewFromInt(100)
		if err := tx.Accounts().Update(ctx, &acc); err != nil {
			return err
		}
		op := models.Operation{
			AccountID: acc.ID,
			Amount:    decimal.NewFromInt(99),
			Type:      models.OperationDeposit,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := tx.Operations().Create(ctx, &op); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = p.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Accounts().FindByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(1)))
		assert.Equal(t, int64(1), got.Version)

		ops, err := tx.Operations().FindAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, ops)
		return nil
	})
	require.NoError(t, err)
}

func testReadOnlyView(t *testing.T, p storage.Provider) {
	ctx := context.Background()

	err := p.View(ctx, func(tx storage.Tx) error {
		acc := models.Account{Name: "x", Address: "y"}
		_, err := tx.Accounts().Create(ctx, &acc)
		return err
	})
	assert.Error(t, err)
}

func testTransferPayload(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	src := createAccount(t, p, "src", "a", "0")
	dst := createAccount(t, p, "dst", "b", "0")
	transferID := uuid.New()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	out := models.Operation{
		AccountID: src.ID,
		Amount:    decimal.RequireFromString("3.30"),
		Type:      models.OperationTransferOut,
		Transfer:  &models.TransferDetails{TransferID: transferID, Title: "rent", CounterpartyID: dst.ID},
		CreatedAt: at,
	}
	dep := models.Operation{
		AccountID: dst.ID,
		Amount:    decimal.NewFromInt(1),
		Type:      models.OperationDeposit,
		CreatedAt: at,
	}

	err := p.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.Operations().Create(ctx, &out); err != nil {
			return err
		}
		_, err := tx.Operations().Create(ctx, &dep)
		return err
	})
	require.NoError(t, err)

	err = p.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Operations().FindByID(ctx, out.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OperationTransferOut, got.Type)
		assert.True(t, got.Amount.Equal(decimal.RequireFromString("3.3")))
		assert.True(t, got.CreatedAt.Equal(at))
		require.NotNil(t, got.Transfer)
		assert.Equal(t, transferID, got.Transfer.TransferID)
		assert.Equal(t, "rent", got.Transfer.Title)
		assert.Equal(t, dst.ID, got.Transfer.CounterpartyID)

		plain, err := tx.Operations().FindByID(ctx, dep.ID)
		require.NoError(t, err)
		assert.Nil(t, plain.Transfer)
		return nil
	})
	require.NoError(t, err)
}

func testTransferPayloadIsolated(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	src := createAccount(t, p, "src", "a", "0")
	dst := createAccount(t, p, "dst", "b", "0")

	op := models.Operation{
		AccountID: dst.ID,
		Amount:    decimal.NewFromInt(1),
		Type:      models.OperationTransferIn,
		Transfer:  &models.TransferDetails{TransferID: uuid.New(), Title: "rent", CounterpartyID: src.ID},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	err := p.Update(ctx, func(tx storage.Tx) error {
		_, err := tx.Operations().Create(ctx, &op)
		return err
	})
	require.NoError(t, err)

	// Writes through the caller's record or any returned copy stay local.
	op.Transfer.Title = "caller"
	err = p.View(ctx, func(tx storage.Tx) error {
		all, err := tx.Operations().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		all[0].Transfer.Title = "tampered"
		all[0].Transfer.CounterpartyID = 999

		scanned, err := tx.Operations().Scan(ctx, nil)
		require.NoError(t, err)
		require.Len(t, scanned, 1)
		scanned[0].Transfer.Title = "tampered"

		got, err := tx.Operations().FindByID(ctx, op.ID)
		require.NoError(t, err)
		got.Transfer.Title = "tampered"
		return nil
	})
	require.NoError(t, err)

	err = p.View(ctx, func(tx storage.Tx) error {
		got, err := tx.Operations().FindByID(ctx, op.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Transfer)
		assert.Equal(t, "rent", got.Transfer.Title)
		assert.Equal(t, src.ID, got.Transfer.CounterpartyID)
		return nil
	})
	require.NoError(t, err)
}

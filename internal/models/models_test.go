package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperationType(t *testing.T) {
	for _, typ := range OperationTypes {
		got, err := ParseOperationType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	_, err := ParseOperationType("REFUND")
	assert.Error(t, err)
}

func TestSignedAmount(t *testing.T) {
	amount := decimal.RequireFromString("12.50")

	tests := []struct {
		typ  OperationType
		want string
	}{
		{OperationDeposit, "12.5"},
		{OperationWithdraw, "-12.5"},
		{OperationTransferIn, "12.5"},
		{OperationTransferOut, "-12.5"},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			op := Operation{Amount: amount, Type: tt.typ}
			assert.True(t, op.SignedAmount().Equal(decimal.RequireFromString(tt.want)),
				"got %s", op.SignedAmount())
		})
	}
}

func TestIsTransfer(t *testing.T) {
	assert.False(t, OperationDeposit.IsTransfer())
	assert.False(t, OperationWithdraw.IsTransfer())
	assert.True(t, OperationTransferIn.IsTransfer())
	assert.True(t, OperationTransferOut.IsTransfer())
}

func TestOperationClone(t *testing.T) {
	op := Operation{
		ID:       1,
		Type:     OperationTransferOut,
		Amount:   decimal.NewFromInt(3),
		Transfer: &TransferDetails{Title: "rent", CounterpartyID: 2},
	}

	cp := op.Clone()
	require.NotNil(t, cp.Transfer)
	assert.NotSame(t, op.Transfer, cp.Transfer)
	assert.Equal(t, *op.Transfer, *cp.Transfer)

	cp.Transfer.Title = "changed"
	assert.Equal(t, "rent", op.Transfer.Title)

	plain := Operation{ID: 2, Type: OperationDeposit}
	assert.Nil(t, plain.Clone().Transfer)
}

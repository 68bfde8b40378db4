package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationType identifies the kind of balance movement.
type OperationType string

const (
	OperationDeposit     OperationType = "DEPOSIT"
	OperationWithdraw    OperationType = "WITHDRAW"
	OperationTransferIn  OperationType = "TRANSFER_IN"
	OperationTransferOut OperationType = "TRANSFER_OUT"
)

// OperationTypes lists every type in canonical order. Frequency ties are
// resolved by position in this slice.
var OperationTypes = []OperationType{
	OperationDeposit,
	OperationWithdraw,
	OperationTransferIn,
	OperationTransferOut,
}

// ParseOperationType validates a stored type name.
func ParseOperationType(s string) (OperationType, error) {
	for _, t := range OperationTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown operation type %q", s)
}

// IsTransfer reports whether the type is one leg of a transfer.
func (t OperationType) IsTransfer() bool {
	return t == OperationTransferIn || t == OperationTransferOut
}

// Sign is +1 for types that add to the balance and -1 for types that subtract.
func (t OperationType) Sign() int {
	switch t {
	case OperationWithdraw, OperationTransferOut:
		return -1
	default:
		return 1
	}
}

// TransferDetails is the payload carried only by transfer legs.
type TransferDetails struct {
	TransferID     uuid.UUID `json:"transfer_id"`
	Title          string    `json:"title"`
	CounterpartyID int64     `json:"counterparty_id"`
}

// Operation is an immutable ledger entry. Amount is the requested magnitude;
// the direction is implied by Type.
type Operation struct {
	ID        int64            `json:"id"`
	AccountID int64            `json:"account_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Type      OperationType    `json:"type"`
	Transfer  *TransferDetails `json:"transfer,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// SignedAmount returns the effect of the operation on its account balance.
func (o *Operation) SignedAmount() decimal.Decimal {
	if o.Type.Sign() < 0 {
		return o.Amount.Neg()
	}
	return o.Amount
}

// Clone returns a copy that shares no memory with o.
func (o Operation) Clone() Operation {
	if o.Transfer != nil {
		td := *o.Transfer
		o.Transfer = &td
	}
	return o
}

func (o *Operation) RecordID() int64      { return o.ID }
func (o *Operation) SetRecordID(id int64) { o.ID = id }

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a ledger account. Operations are not held here; they
// live in the operation store and reference the account by ID.
type Account struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecordID returns the storage identity of the account.
func (a *Account) RecordID() int64 { return a.ID }

// SetRecordID is called by storage providers when the account is created.
func (a *Account) SetRecordID(id int64) { a.ID = id }

// RecordVersion returns the optimistic concurrency token.
func (a *Account) RecordVersion() int64 { return a.Version }

// SetRecordVersion is called by storage providers after a successful update.
func (a *Account) SetRecordVersion(v int64) { a.Version = v }

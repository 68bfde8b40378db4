// Package storage defines the persistence provider the ledger runs on.
//
// A provider exposes typed tables inside transactions. Read-write
// transactions are atomic: either every write made by the callback becomes
// visible or none does.
package storage

import (
	"context"
	"errors"

	"github.com/example/bank-ledger/internal/models"
)

var (
	// ErrNotFound is returned when a record with the requested ID does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write lost a race with a concurrent writer.
	// Callers may retry the whole transaction.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrReadOnly is returned for writes attempted inside View.
	ErrReadOnly = errors.New("write in read-only transaction")
)

// Record is implemented by pointer types whose identity is assigned by the provider.
type Record[T any] interface {
	*T
	RecordID() int64
	SetRecordID(id int64)
}

// Versioned records get optimistic concurrency checks on Update: the stored
// version must equal the record's version, and is incremented on success.
type Versioned interface {
	RecordVersion() int64
	SetRecordVersion(v int64)
}

// Cloner is implemented by records holding references. In-process
// providers store and hand out clones so callers never share memory with
// committed rows.
type Cloner[T any] interface {
	Clone() T
}

// Table is the capability set the ledger needs over one record type.
// Multi-record results are ordered by ID ascending.
type Table[T any] interface {
	// Create stores rec, assigns its ID and returns it.
	Create(ctx context.Context, rec *T) (int64, error)
	FindByID(ctx context.Context, id int64) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	// Update fails with ErrNotFound if the ID does not exist.
	Update(ctx context.Context, rec *T) error
	Delete(ctx context.Context, id int64) error
	// Scan returns every record for which match reports true.
	Scan(ctx context.Context, match func(*T) bool) ([]T, error)
}

// Tx gives access to the ledger tables within one transaction.
type Tx interface {
	Accounts() Table[models.Account]
	Operations() Table[models.Operation]
}

// Provider is a persistence backend.
type Provider interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Update runs fn in a read-write transaction, committing when fn returns
	// nil and rolling back otherwise.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Filter applies match to recs, keeping ID order.
func Filter[T any](recs []T, match func(*T) bool) []T {
	out := make([]T, 0, len(recs))
	for i := range recs {
		if match == nil || match(&recs[i]) {
			out = append(out, recs[i])
		}
	}
	return out
}

// Package memory is an in-process storage provider.
//
// Read-write transactions are serialized by a single writer lock and stage
// their writes until commit, so a failed callback leaves no trace. Readers
// share a read lock and never observe staged writes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
)

// ErrClosed is returned by transactions started after Close.
var ErrClosed = errors.New("memory provider closed")

// Provider keeps all records in maps.
type Provider struct {
	mu         sync.RWMutex
	closed     bool
	accounts   *table[models.Account, *models.Account]
	operations *table[models.Operation, *models.Operation]
}

var _ storage.Provider = (*Provider)(nil)

// New returns an empty provider.
func New() *Provider {
	return &Provider{
		accounts:   newTable[models.Account](),
		operations: newTable[models.Operation](),
	}
}

// View runs fn against a read-only snapshot.
func (p *Provider) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	return fn(p.begin(true))
}

// Update runs fn with exclusive write access and commits its staged writes
// when it returns nil.
func (p *Provider) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	t := p.begin(false)
	if err := fn(t); err != nil {
		return err
	}

	t.accounts.commit()
	t.operations.commit()
	return nil
}

// Close releases the data. Later transactions fail with ErrClosed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.accounts = newTable[models.Account]()
	p.operations = newTable[models.Operation]()
	return nil
}

func (p *Provider) begin(readOnly bool) *tx {
	return &tx{
		accounts:   p.accounts.begin(readOnly),
		operations: p.operations.begin(readOnly),
	}
}

type tx struct {
	accounts   *txTable[models.Account, *models.Account]
	operations *txTable[models.Operation, *models.Operation]
}

func (t *tx) Accounts() storage.Table[models.Account]     { return t.accounts }
func (t *tx) Operations() storage.Table[models.Operation] { return t.operations }

type table[T any, PT storage.Record[T]] struct {
	rows map[int64]T
	seq  int64
}

func newTable[T any, PT storage.Record[T]]() *table[T, PT] {
	return &table[T, PT]{rows: make(map[int64]T)}
}

func (tb *table[T, PT]) begin(readOnly bool) *txTable[T, PT] {
	return &txTable[T, PT]{
		base:     tb,
		writes:   make(map[int64]*T),
		seq:      tb.seq,
		readOnly: readOnly,
	}
}

// txTable overlays staged writes on the committed rows. A nil entry in
// writes marks a delete.
type txTable[T any, PT storage.Record[T]] struct {
	base     *table[T, PT]
	writes   map[int64]*T
	seq      int64
	readOnly bool
}

func (t *txTable[T, PT]) commit() {
	for id, w := range t.writes {
		if w == nil {
			delete(t.base.rows, id)
			continue
		}
		t.base.rows[id] = *w
	}
	t.base.seq = t.seq
}

func (t *txTable[T, PT]) get(id int64) (T, bool) {
	if w, ok := t.writes[id]; ok {
		if w == nil {
			var zero T
			return zero, false
		}
		return clone(*w), true
	}
	rec, ok := t.base.rows[id]
	return clone(rec), ok
}

func clone[T any](rec T) T {
	if c, ok := any(rec).(storage.Cloner[T]); ok {
		return c.Clone()
	}
	return rec
}

func (t *txTable[T, PT]) Create(ctx context.Context, rec *T) (int64, error) {
	if t.readOnly {
		return 0, storage.ErrReadOnly
	}

	t.seq++
	PT(rec).SetRecordID(t.seq)
	if v, ok := any(rec).(storage.Versioned); ok {
		v.SetRecordVersion(1)
	}

	cp := clone(*rec)
	t.writes[t.seq] = &cp
	return t.seq, nil
}

func (t *txTable[T, PT]) FindByID(ctx context.Context, id int64) (T, error) {
	rec, ok := t.get(id)
	if !ok {
		return rec, fmt.Errorf("id %d: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (t *txTable[T, PT]) FindAll(ctx context.Context) ([]T, error) {
	ids := make([]int64, 0, len(t.base.rows)+len(t.writes))
	for id := range t.base.rows {
		if _, staged := t.writes[id]; !staged {
			ids = append(ids, id)
		}
	}
	for id, w := range t.writes {
		if w != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		rec, _ := t.get(id)
		out = append(out, rec)
	}
	return out, nil
}

func (t *txTable[T, PT]) Update(ctx context.Context, rec *T) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}

	id := PT(rec).RecordID()
	current, ok := t.get(id)
	if !ok {
		return fmt.Errorf("id %d: %w", id, storage.ErrNotFound)
	}

	if v, ok := any(rec).(storage.Versioned); ok {
		stored := any(&current).(storage.Versioned).RecordVersion()
		if stored != v.RecordVersion() {
			return fmt.Errorf("id %d at version %d, have %d: %w", id, stored, v.RecordVersion(), storage.ErrConflict)
		}
		v.SetRecordVersion(stored + 1)
	}

	cp := clone(*rec)
	t.writes[id] = &cp
	return nil
}

func (t *txTable[T, PT]) Delete(ctx context.Context, id int64) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.get(id); !ok {
		return fmt.Errorf("id %d: %w", id, storage.ErrNotFound)
	}
	t.writes[id] = nil
	return nil
}

func (t *txTable[T, PT]) Scan(ctx context.Context, match func(*T) bool) ([]T, error) {
	all, err := t.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return storage.Filter(all, match), nil
}

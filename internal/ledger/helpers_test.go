package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
	"github.com/example/bank-ledger/internal/storage/memory"
	"github.com/example/bank-ledger/internal/storage/sqlite"
)

var providers = []struct {
	name string
	open func(t *testing.T) storage.Provider
}{
	{"memory", func(t *testing.T) storage.Provider {
		p := memory.New()
		t.Cleanup(func() { p.Close() })
		return p
	}},
	{"sqlite", func(t *testing.T) storage.Provider {
		p, err := sqlite.Open(context.Background(), sqlite.MemoryPath, nil)
		require.NoError(t, err)
		t.Cleanup(func() { p.Close() })
		return p
	}},
}

// eachProvider runs test once per storage provider.
func eachProvider(t *testing.T, test func(t *testing.T, p storage.Provider)) {
	t.Helper()
	for _, pr := range providers {
		t.Run(pr.name, func(t *testing.T) {
			test(t, pr.open(t))
		})
	}
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func newService(t *testing.T, p storage.Provider, opts ...Option) *LedgerService {
	t.Helper()
	base := []Option{WithClock(newStepClock().Now), WithRetryBase(time.Millisecond)}
	return NewLedgerService(p, append(base, opts...)...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertBalance(t *testing.T, ls *LedgerService, id int64, want string) {
	t.Helper()
	got, err := ls.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec(want)), "account %d balance: want %s, got %s", id, want, got)
}

func mustCreate(t *testing.T, ls *LedgerService, name, address string) int64 {
	t.Helper()
	id, err := ls.CreateAccount(context.Background(), name, address)
	require.NoError(t, err)
	require.NotZero(t, id)
	return id
}

func accountIDs(accs []models.Account) []int64 {
	ids := make([]int64, 0, len(accs))
	for _, a := range accs {
		ids = append(ids, a.ID)
	}
	return ids
}

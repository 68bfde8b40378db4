package ledger

import (
	"sort"
	"sync"
)

// lockTable hands out one mutex per account id. Entries are dropped once no
// goroutine holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[int64]*accountLock)}
}

// lock acquires the locks for ids in ascending order, skipping duplicates,
// and returns a function that releases them.
func (lt *lockTable) lock(ids ...int64) (unlock func()) {
	ordered := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	held := make([]*accountLock, 0, len(ordered))
	for _, id := range ordered {
		l := lt.acquire(id)
		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			lt.release(ordered[i])
		}
	}
}

func (lt *lockTable) acquire(id int64) *accountLock {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	l, ok := lt.locks[id]
	if !ok {
		l = &accountLock{}
		lt.locks[id] = l
	}
	l.refs++
	return l
}

func (lt *lockTable) release(id int64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	l := lt.locks[id]
	l.refs--
	if l.refs == 0 {
		delete(lt.locks, id)
	}
}

func (lt *lockTable) size() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.locks)
}

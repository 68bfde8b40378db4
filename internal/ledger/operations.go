package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
)

// OperationStore is the typed repository over ledger entries.
type OperationStore struct {
	provider storage.Provider
}

// NewOperationStore creates an operation store on provider.
func NewOperationStore(provider storage.Provider) *OperationStore {
	return &OperationStore{provider: provider}
}

// FindByAccount returns every operation of the account, most recent first.
func (s *OperationStore) FindByAccount(ctx context.Context, accountID int64) ([]models.Operation, error) {
	var ops []models.Operation
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		var err error
		ops, err = historyOf(ctx, tx, accountID)
		return err
	})
	return ops, err
}

// FindByDateRange returns the account's operations created within [from, to],
// most recent first. Unknown accounts and inverted ranges yield no rows.
func (s *OperationStore) FindByDateRange(ctx context.Context, accountID int64, from, to time.Time) ([]models.Operation, error) {
	if from.After(to) {
		return []models.Operation{}, nil
	}

	var ops []models.Operation
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		found, err := tx.Operations().Scan(ctx, func(op *models.Operation) bool {
			return op.AccountID == accountID &&
				!op.CreatedAt.Before(from) &&
				!op.CreatedAt.After(to)
		})
		if err != nil {
			return fmt.Errorf("failed to scan operations: %w", err)
		}
		sortRecentFirst(found)
		ops = found
		return nil
	})
	return ops, err
}

// FindByMostFrequentType returns the type that occurs most often in the
// account's history. Ties go to the type declared first in
// models.OperationTypes. ErrNoData is returned for an empty history.
func (s *OperationStore) FindByMostFrequentType(ctx context.Context, accountID int64) (models.OperationType, error) {
	var best models.OperationType
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		ops, err := historyOf(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			return fmt.Errorf("account %d: %w", accountID, ErrNoData)
		}

		counts := make(map[models.OperationType]int, len(models.OperationTypes))
		for _, op := range ops {
			counts[op.Type]++
		}

		bestCount := 0
		for _, typ := range models.OperationTypes {
			if counts[typ] > bestCount {
				best, bestCount = typ, counts[typ]
			}
		}
		return nil
	})
	return best, err
}

// CountByAccount returns the number of operations per account id. Accounts
// without operations are absent from the map.
func (s *OperationStore) CountByAccount(ctx context.Context) (map[int64]int, error) {
	var counts map[int64]int
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		var err error
		counts, err = operationCounts(ctx, tx)
		return err
	})
	return counts, err
}

// append stores op inside tx.
func (s *OperationStore) append(ctx context.Context, tx storage.Tx, op *models.Operation) error {
	if op.AccountID == 0 {
		return fmt.Errorf("operation without account: %w", ErrAccountNotFound)
	}
	if _, err := tx.Operations().Create(ctx, op); err != nil {
		return fmt.Errorf("failed to append %s operation: %w", op.Type, err)
	}
	return nil
}

func historyOf(ctx context.Context, tx storage.Tx, accountID int64) ([]models.Operation, error) {
	ops, err := tx.Operations().Scan(ctx, func(op *models.Operation) bool {
		return op.AccountID == accountID
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan operations: %w", err)
	}
	sortRecentFirst(ops)
	return ops, nil
}

func operationCounts(ctx context.Context, tx storage.Tx) (map[int64]int, error) {
	ops, err := tx.Operations().FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load operations: %w", err)
	}

	counts := make(map[int64]int)
	for _, op := range ops {
		counts[op.AccountID]++
	}
	return counts, nil
}

func sortRecentFirst(ops []models.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.After(ops[j].CreatedAt)
		}
		return ops[i].ID > ops[j].ID
	})
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
)

// AccountStore is the typed repository over accounts. Every query returns
// accounts in id order.
type AccountStore struct {
	provider storage.Provider
}

// NewAccountStore creates an account store on provider.
func NewAccountStore(provider storage.Provider) *AccountStore {
	return &AccountStore{provider: provider}
}

// FindByID returns the account or ErrAccountNotFound.
func (s *AccountStore) FindByID(ctx context.Context, id int64) (models.Account, error) {
	var acc models.Account
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		var err error
		acc, err = accountByID(ctx, tx, id)
		return err
	})
	return acc, err
}

// FindByNameAndAddress returns the account with that identity pair or
// ErrAccountNotFound.
func (s *AccountStore) FindByNameAndAddress(ctx context.Context, name, address string) (models.Account, error) {
	var acc models.Account
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		found, ok, err := accountByIdentity(ctx, tx, name, address)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		acc = found
		return nil
	})
	return acc, err
}

// FindByNameStartWith matches names case-sensitively; an empty prefix
// matches every account.
func (s *AccountStore) FindByNameStartWith(ctx context.Context, prefix string) ([]models.Account, error) {
	return s.scan(ctx, func(a *models.Account) bool {
		return strings.HasPrefix(a.Name, prefix)
	})
}

// FindByBalanceBetween returns accounts with min <= balance <= max.
func (s *AccountStore) FindByBalanceBetween(ctx context.Context, min, max decimal.Decimal) ([]models.Account, error) {
	return s.scan(ctx, func(a *models.Account) bool {
		return a.Balance.GreaterThanOrEqual(min) && a.Balance.LessThanOrEqual(max)
	})
}

// FindByTheRichest returns every account tied at the highest balance.
func (s *AccountStore) FindByTheRichest(ctx context.Context) ([]models.Account, error) {
	var richest []models.Account
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		all, err := tx.Accounts().FindAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load accounts: %w", err)
		}
		if len(all) == 0 {
			richest = []models.Account{}
			return nil
		}

		top := all[0].Balance
		for _, a := range all[1:] {
			if a.Balance.GreaterThan(top) {
				top = a.Balance
			}
		}
		richest = storage.Filter(all, func(a *models.Account) bool {
			return a.Balance.Equal(top)
		})
		return nil
	})
	return richest, err
}

// FindByEmptyHistory returns accounts that have no operations.
func (s *AccountStore) FindByEmptyHistory(ctx context.Context) ([]models.Account, error) {
	var empty []models.Account
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		counts, err := operationCounts(ctx, tx)
		if err != nil {
			return err
		}
		empty, err = tx.Accounts().Scan(ctx, func(a *models.Account) bool {
			return counts[a.ID] == 0
		})
		return err
	})
	return empty, err
}

// FindByMostOperations returns every account tied at the highest operation
// count. When nobody has operations yet, that is every account.
func (s *AccountStore) FindByMostOperations(ctx context.Context) ([]models.Account, error) {
	var busiest []models.Account
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		counts, err := operationCounts(ctx, tx)
		if err != nil {
			return err
		}
		all, err := tx.Accounts().FindAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load accounts: %w", err)
		}

		top := 0
		for _, a := range all {
			if counts[a.ID] > top {
				top = counts[a.ID]
			}
		}
		busiest = storage.Filter(all, func(a *models.Account) bool {
			return counts[a.ID] == top
		})
		return nil
	})
	return busiest, err
}

func (s *AccountStore) scan(ctx context.Context, match func(*models.Account) bool) ([]models.Account, error) {
	var found []models.Account
	err := s.provider.View(ctx, func(tx storage.Tx) error {
		var err error
		found, err = tx.Accounts().Scan(ctx, match)
		if err != nil {
			return fmt.Errorf("failed to scan accounts: %w", err)
		}
		return nil
	})
	return found, err
}

// accountByID maps a missing or zero id to ErrAccountNotFound.
func accountByID(ctx context.Context, tx storage.Tx, id int64) (models.Account, error) {
	if id == 0 {
		return models.Account{}, ErrAccountNotFound
	}

	acc, err := tx.Accounts().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return acc, fmt.Errorf("account %d: %w", id, ErrAccountNotFound)
		}
		return acc, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return acc, nil
}

func accountByIdentity(ctx context.Context, tx storage.Tx, name, address string) (models.Account, bool, error) {
	found, err := tx.Accounts().Scan(ctx, func(a *models.Account) bool {
		return a.Name == name && a.Address == address
	})
	if err != nil {
		return models.Account{}, false, fmt.Errorf("failed to scan accounts: %w", err)
	}
	if len(found) == 0 {
		return models.Account{}, false, nil
	}
	return found[0], true, nil
}

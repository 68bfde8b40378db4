package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
	"github.com/example/bank-ledger/pkg/audit"
)

// LedgerService is the only component that changes balances or creates
// operations. Every mutation holds the per-account locks of the accounts it
// touches and commits its writes in a single provider transaction.
type LedgerService struct {
	provider   storage.Provider
	accounts   *AccountStore
	operations *OperationStore

	locks    *lockTable
	createMu sync.Mutex

	logger         *zap.Logger
	audit          *audit.ChainLogger
	now            func() time.Time
	maxRetries     int
	retryBase      time.Duration
	rejectNegative bool
}

// Option configures a LedgerService.
type Option func(*LedgerService)

// WithLogger sets the logger. A nil logger is replaced by a no-op one.
func WithLogger(logger *zap.Logger) Option {
	return func(ls *LedgerService) {
		if logger != nil {
			ls.logger = logger
		}
	}
}

// WithAuditLog records every committed mutation in chain.
func WithAuditLog(chain *audit.ChainLogger) Option {
	return func(ls *LedgerService) { ls.audit = chain }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(ls *LedgerService) {
		if now != nil {
			ls.now = now
		}
	}
}

// WithMaxRetries bounds the attempts made when a transaction conflicts.
func WithMaxRetries(n int) Option {
	return func(ls *LedgerService) {
		if n < 1 {
			n = 1
		}
		ls.maxRetries = n
	}
}

// WithRetryBase sets the first backoff step between conflicting attempts.
func WithRetryBase(d time.Duration) Option {
	return func(ls *LedgerService) { ls.retryBase = d }
}

// WithRejectNegativeAmounts makes deposits, withdrawals and transfers of a
// negative amount fail with ErrInvalidAmount instead of being applied.
func WithRejectNegativeAmounts(reject bool) Option {
	return func(ls *LedgerService) { ls.rejectNegative = reject }
}

// NewLedgerService creates a new ledger service
func NewLedgerService(provider storage.Provider, opts ...Option) *LedgerService {
	ls := &LedgerService{
		provider:   provider,
		accounts:   NewAccountStore(provider),
		operations: NewOperationStore(provider),
		locks:      newLockTable(),
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
	}
	for _, opt := range opts {
		opt(ls)
	}
	return ls
}

// Accounts returns the account query store.
func (ls *LedgerService) Accounts() *AccountStore { return ls.accounts }

// Operations returns the operation query store.
func (ls *LedgerService) Operations() *OperationStore { return ls.operations }

// CreateAccount returns the id of the account identified by (name, address),
// creating it with a zero balance if it does not exist yet.
func (ls *LedgerService) CreateAccount(ctx context.Context, name, address string) (int64, error) {
	ls.createMu.Lock()
	defer ls.createMu.Unlock()

	var (
		id      int64
		created bool
	)
	err := ls.withRetry(ctx, "create account", func() error {
		return ls.provider.Update(ctx, func(tx storage.Tx) error {
			existing, ok, err := accountByIdentity(ctx, tx, name, address)
			if err != nil {
				return err
			}
			if ok {
				id, created = existing.ID, false
				return nil
			}

			now := ls.now()
			acc := models.Account{
				Name:      name,
				Address:   address,
				Balance:   decimal.Zero,
				CreatedAt: now,
				UpdatedAt: now,
			}
			newID, err := tx.Accounts().Create(ctx, &acc)
			if err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}
			id, created = newID, true
			return nil
		})
	})
	if err != nil {
		ls.logFailure("create account", err, zap.String("name", name))
		return 0, err
	}

	if created {
		ls.logger.Debug("account created", zap.Int64("account_id", id), zap.String("name", name))
		ls.record("account.created", map[string]any{
			"account_id": id,
			"name":       name,
			"address":    address,
		})
	}
	return id, nil
}

// FindAccount returns the id of the account identified by (name, address).
func (ls *LedgerService) FindAccount(ctx context.Context, name, address string) (int64, error) {
	acc, err := ls.accounts.FindByNameAndAddress(ctx, name, address)
	if err != nil {
		return 0, err
	}
	return acc.ID, nil
}

// GetAccount returns a snapshot of the account.
func (ls *LedgerService) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	return ls.accounts.FindByID(ctx, id)
}

// GetBalance retrieves the current balance for an account
func (ls *LedgerService) GetBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	acc, err := ls.accounts.FindByID(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return acc.Balance, nil
}

// Deposit adds amount to the balance and appends a DEPOSIT operation.
func (ls *LedgerService) Deposit(ctx context.Context, id int64, amount decimal.Decimal) error {
	return ls.post(ctx, id, amount, models.OperationDeposit)
}

// Withdraw subtracts amount from the balance and appends a WITHDRAW
// operation. It fails with ErrInsufficientFunds when amount exceeds the
// balance, leaving the account untouched.
func (ls *LedgerService) Withdraw(ctx context.Context, id int64, amount decimal.Decimal) error {
	return ls.post(ctx, id, amount, models.OperationWithdraw)
}

func (ls *LedgerService) post(ctx context.Context, id int64, amount decimal.Decimal, typ models.OperationType) error {
	op := string(typ)
	if id == 0 {
		return ErrAccountNotFound
	}
	if err := ls.checkAmount(amount); err != nil {
		return err
	}

	unlock := ls.locks.lock(id)
	defer unlock()

	var balance decimal.Decimal
	err := ls.withRetry(ctx, op, func() error {
		return ls.provider.Update(ctx, func(tx storage.Tx) error {
			acc, err := accountByID(ctx, tx, id)
			if err != nil {
				return err
			}

			if typ == models.OperationWithdraw && acc.Balance.LessThan(amount) {
				return fmt.Errorf("account %d has %s, requested %s: %w",
					id, acc.Balance, amount, ErrInsufficientFunds)
			}

			now := ls.now()
			if typ == models.OperationWithdraw {
				acc.Balance = acc.Balance.Sub(amount)
			} else {
				acc.Balance = acc.Balance.Add(amount)
			}
			acc.UpdatedAt = now

			if err := tx.Accounts().Update(ctx, &acc); err != nil {
				return fmt.Errorf("failed to update account %d: %w", id, err)
			}
			balance = acc.Balance

			return ls.operations.append(ctx, tx, &models.Operation{
				AccountID: id,
				Amount:    amount,
				Type:      typ,
				CreatedAt: now,
			})
		})
	})
	if err != nil {
		ls.logFailure(op, err, zap.Int64("account_id", id), zap.Stringer("amount", amount))
		return err
	}

	ls.logger.Debug("operation posted",
		zap.String("type", op),
		zap.Int64("account_id", id),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", balance))
	ls.record(auditAction(typ), map[string]any{
		"account_id": id,
		"amount":     amount.String(),
		"balance":    balance.String(),
	})
	return nil
}

// Transfer moves amount from sourceID to destID and appends the
// TRANSFER_OUT / TRANSFER_IN pair. Both balance changes and both operations
// are committed together. A transfer to the same account leaves the balance
// unchanged but still records both legs.
func (ls *LedgerService) Transfer(ctx context.Context, sourceID, destID int64, amount decimal.Decimal, title string) error {
	if sourceID == 0 || destID == 0 {
		return ErrAccountNotFound
	}
	if err := ls.checkAmount(amount); err != nil {
		return err
	}

	unlock := ls.locks.lock(sourceID, destID)
	defer unlock()

	var transferID uuid.UUID
	err := ls.withRetry(ctx, "transfer", func() error {
		return ls.provider.Update(ctx, func(tx storage.Tx) error {
			src, err := accountByID(ctx, tx, sourceID)
			if err != nil {
				return err
			}
			dst := &src
			if destID != sourceID {
				loaded, err := accountByID(ctx, tx, destID)
				if err != nil {
					return err
				}
				dst = &loaded
			}

			if src.Balance.LessThan(amount) {
				return fmt.Errorf("account %d has %s, requested %s: %w",
					sourceID, src.Balance, amount, ErrInsufficientFunds)
			}

			now := ls.now()
			src.Balance = src.Balance.Sub(amount)
			dst.Balance = dst.Balance.Add(amount)
			src.UpdatedAt = now
			dst.UpdatedAt = now

			if err := tx.Accounts().Update(ctx, &src); err != nil {
				return fmt.Errorf("failed to update account %d: %w", sourceID, err)
			}
			if dst != &src {
				if err := tx.Accounts().Update(ctx, dst); err != nil {
					return fmt.Errorf("failed to update account %d: %w", destID, err)
				}
			}

			transferID = uuid.New()
			out := &models.Operation{
				AccountID: sourceID,
				Amount:    amount,
				Type:      models.OperationTransferOut,
				Transfer:  &models.TransferDetails{TransferID: transferID, Title: title, CounterpartyID: destID},
				CreatedAt: now,
			}
			in := &models.Operation{
				AccountID: destID,
				Amount:    amount,
				Type:      models.OperationTransferIn,
				Transfer:  &models.TransferDetails{TransferID: transferID, Title: title, CounterpartyID: sourceID},
				CreatedAt: now,
			}
			if err := ls.operations.append(ctx, tx, out); err != nil {
				return err
			}
			return ls.operations.append(ctx, tx, in)
		})
	})
	if err != nil {
		ls.logFailure("transfer", err,
			zap.Int64("source_id", sourceID),
			zap.Int64("dest_id", destID),
			zap.Stringer("amount", amount))
		return err
	}

	ls.logger.Debug("transfer posted",
		zap.Stringer("transfer_id", transferID),
		zap.Int64("source_id", sourceID),
		zap.Int64("dest_id", destID),
		zap.Stringer("amount", amount))
	ls.record("transfer", map[string]any{
		"transfer_id": transferID.String(),
		"source_id":   sourceID,
		"dest_id":     destID,
		"amount":      amount.String(),
		"title":       title,
	})
	return nil
}

// FindByNameStartWith lists accounts whose name starts with prefix.
func (ls *LedgerService) FindByNameStartWith(ctx context.Context, prefix string) ([]models.Account, error) {
	return ls.accounts.FindByNameStartWith(ctx, prefix)
}

// FindByBalanceBetween lists accounts with min <= balance <= max.
func (ls *LedgerService) FindByBalanceBetween(ctx context.Context, min, max decimal.Decimal) ([]models.Account, error) {
	return ls.accounts.FindByBalanceBetween(ctx, min, max)
}

// FindByTheRichest lists the accounts tied at the highest balance.
func (ls *LedgerService) FindByTheRichest(ctx context.Context) ([]models.Account, error) {
	return ls.accounts.FindByTheRichest(ctx)
}

// FindByEmptyHistory lists accounts without operations.
func (ls *LedgerService) FindByEmptyHistory(ctx context.Context) ([]models.Account, error) {
	return ls.accounts.FindByEmptyHistory(ctx)
}

// FindByMostOperations lists the accounts tied at the highest operation count.
func (ls *LedgerService) FindByMostOperations(ctx context.Context) ([]models.Account, error) {
	return ls.accounts.FindByMostOperations(ctx)
}

// History returns the account's operations, most recent first.
func (ls *LedgerService) History(ctx context.Context, id int64) ([]models.Operation, error) {
	return ls.operations.FindByAccount(ctx, id)
}

// FindByDateRange returns the account's operations within [from, to].
func (ls *LedgerService) FindByDateRange(ctx context.Context, id int64, from, to time.Time) ([]models.Operation, error) {
	return ls.operations.FindByDateRange(ctx, id, from, to)
}

// FindByMostFrequentType returns the account's most common operation type.
func (ls *LedgerService) FindByMostFrequentType(ctx context.Context, id int64) (models.OperationType, error) {
	return ls.operations.FindByMostFrequentType(ctx, id)
}

func (ls *LedgerService) checkAmount(amount decimal.Decimal) error {
	if ls.rejectNegative && amount.IsNegative() {
		return fmt.Errorf("%s: %w", amount, ErrInvalidAmount)
	}
	return nil
}

func (ls *LedgerService) record(action string, fields map[string]any) {
	if ls.audit == nil {
		return
	}
	if _, err := ls.audit.Append(action, fields); err != nil {
		ls.logger.Error("failed to append audit entry", zap.String("action", action), zap.Error(err))
	}
}

func (ls *LedgerService) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if isDomainError(err) {
		ls.logger.Warn("operation rejected", fields...)
		return
	}
	ls.logger.Error("operation failed", fields...)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount)
}

func auditAction(typ models.OperationType) string {
	switch typ {
	case models.OperationDeposit:
		return "deposit"
	case models.OperationWithdraw:
		return "withdraw"
	default:
		return string(typ)
	}
}

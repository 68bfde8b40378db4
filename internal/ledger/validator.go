package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/models"
	"github.com/example/bank-ledger/internal/storage"
)

// Validator provides invariants checking for the ledger
type Validator struct {
	provider storage.Provider
	now      func() time.Time
}

// NewValidator creates a new validator instance
func NewValidator(provider storage.Provider) *Validator {
	return &Validator{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	IsValid        bool           `json:"is_valid"`
	ValidationType string         `json:"validation_type"`
	Message        string         `json:"message"`
	AccountID      int64          `json:"account_id,omitempty"`
	TransferID     string         `json:"transfer_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Details        map[string]any `json:"details,omitempty"`
}

const (
	validationBalance  = "balance_consistency"
	validationTransfer = "transfer_pair"
)

// ValidateBalanceConsistency recomputes every balance from the account's
// history and compares it with the stored balance. It returns one result
// per account.
func (v *Validator) ValidateBalanceConsistency(ctx context.Context) ([]ValidationResult, error) {
	var results []ValidationResult
	err := v.provider.View(ctx, func(tx storage.Tx) error {
		accounts, err := tx.Accounts().FindAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load accounts: %w", err)
		}
		ops, err := tx.Operations().FindAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to load operations: %w", err)
		}

		expected := make(map[int64]decimal.Decimal, len(accounts))
		for _, op := range ops {
			expected[op.AccountID] = expected[op.AccountID].Add(op.SignedAmount())
		}

		results = make([]ValidationResult, 0, len(accounts))
		for _, acc := range accounts {
			want := expected[acc.ID]
			res := ValidationResult{
				IsValid:        acc.Balance.Equal(want),
				ValidationType: validationBalance,
				AccountID:      acc.ID,
				Timestamp:      v.now(),
				Details: map[string]any{
					"actual_balance":   acc.Balance.String(),
					"expected_balance": want.String(),
				},
			}
			if res.IsValid {
				res.Message = fmt.Sprintf("balance is consistent: %s", acc.Balance)
			} else {
				res.Message = fmt.Sprintf("balance inconsistency: actual (%s) != expected (%s)", acc.Balance, want)
				res.Details["difference"] = acc.Balance.Sub(want).String()
			}
			results = append(results, res)
		}
		return nil
	})
	return results, err
}

// ValidateTransferPairs checks that every transfer id has exactly one
// TRANSFER_OUT and one TRANSFER_IN leg with the same amount and title and
// mirrored counterparties. Legs without a transfer payload are reported too.
func (v *Validator) ValidateTransferPairs(ctx context.Context) ([]ValidationResult, error) {
	var results []ValidationResult
	err := v.provider.View(ctx, func(tx storage.Tx) error {
		legs, err := tx.Operations().Scan(ctx, func(op *models.Operation) bool {
			return op.Type.IsTransfer()
		})
		if err != nil {
			return fmt.Errorf("failed to scan operations: %w", err)
		}

		var order []uuid.UUID
		pairs := make(map[uuid.UUID][]models.Operation)
		for _, leg := range legs {
			if leg.Transfer == nil {
				results = append(results, ValidationResult{
					ValidationType: validationTransfer,
					Message:        fmt.Sprintf("operation %d is a %s without transfer details", leg.ID, leg.Type),
					AccountID:      leg.AccountID,
					Timestamp:      v.now(),
				})
				continue
			}
			id := leg.Transfer.TransferID
			if _, ok := pairs[id]; !ok {
				order = append(order, id)
			}
			pairs[id] = append(pairs[id], leg)
		}

		for _, id := range order {
			results = append(results, v.checkPair(id, pairs[id]))
		}
		return nil
	})
	return results, err
}

func (v *Validator) checkPair(id uuid.UUID, legs []models.Operation) ValidationResult {
	res := ValidationResult{
		ValidationType: validationTransfer,
		TransferID:     id.String(),
		Timestamp:      v.now(),
	}

	if len(legs) != 2 {
		res.Message = fmt.Sprintf("transfer has %d legs, want 2", len(legs))
		return res
	}

	out, in := legs[0], legs[1]
	if out.Type == models.OperationTransferIn {
		out, in = in, out
	}
	res.AccountID = out.AccountID

	switch {
	case out.Type != models.OperationTransferOut || in.Type != models.OperationTransferIn:
		res.Message = fmt.Sprintf("transfer legs are %s and %s", legs[0].Type, legs[1].Type)
	case !out.Amount.Equal(in.Amount):
		res.Message = fmt.Sprintf("leg amounts differ: %s != %s", out.Amount, in.Amount)
	case out.Transfer.Title != in.Transfer.Title:
		res.Message = fmt.Sprintf("leg titles differ: %q != %q", out.Transfer.Title, in.Transfer.Title)
	case out.Transfer.CounterpartyID != in.AccountID || in.Transfer.CounterpartyID != out.AccountID:
		res.Message = "counterparties are not mirrored"
	default:
		res.IsValid = true
		res.Message = fmt.Sprintf("transfer of %s from %d to %d is balanced", out.Amount, out.AccountID, in.AccountID)
	}

	res.Details = map[string]any{
		"source_id": out.AccountID,
		"dest_id":   in.AccountID,
		"amount":    out.Amount.String(),
	}
	return res
}

// Invalid returns the failed results.
func Invalid(results []ValidationResult) []ValidationResult {
	return storage.Filter(results, func(r *ValidationResult) bool { return !r.IsValid })
}

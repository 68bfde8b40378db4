package ledger

import "errors"

var (
	// ErrAccountNotFound is returned when an account id is unknown or zero.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds is returned when a withdrawal or transfer exceeds
	// the source balance. No state is changed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoData is returned by frequency queries over an empty history.
	ErrNoData = errors.New("no operations to summarize")

	// ErrInvalidAmount is returned for negative amounts when the service
	// rejects them.
	ErrInvalidAmount = errors.New("amount must not be negative")
)

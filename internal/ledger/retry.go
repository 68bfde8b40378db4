package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/storage"
)

const (
	defaultMaxRetries = 5
	defaultRetryBase  = 5 * time.Millisecond
	maxBackoffShift   = 20
)

// withRetry runs fn until it succeeds, fails with something other than
// storage.ErrConflict, or maxRetries attempts have been made.
func (ls *LedgerService) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, storage.ErrConflict) {
			return err
		}

		if attempt+1 >= ls.maxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt+1, err)
		}

		delay := fullJitter(exponential(ls.retryBase, attempt))
		ls.logger.Warn("retrying after conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
	}
}

// exponential returns base * 2^attempt, saturating instead of overflowing.
func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(multiplier)
}

// fullJitter returns a random duration in [0, d).
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done: %w", err)
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

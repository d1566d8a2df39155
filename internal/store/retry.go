package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"civicq/records-service/internal/logging"
)

// DefaultConflictAttempts bounds RetryOnConflict for every ledger write.
const DefaultConflictAttempts = 5

func conflictBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.Reset()
	return b
}

// RetryOnConflict runs RunInTx again while it fails with ErrConflict, up to
// attempts times, sleeping a jittered exponential interval between tries.
// Any other error is returned immediately. onRetry may be nil.
func RetryOnConflict(ctx context.Context, ledger Ledger, attempts int, onRetry func(attempt int, err error), fn func(Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	wait := conflictBackoff()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = ledger.RunInTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt == attempts {
			break
		}
		logging.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).Msg("ledger conflict, retrying transaction")
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(wait.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return Conflictf("gave up after %d attempts, please resubmit: %v", attempts, err)
}

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicq/records-service/internal/store"
	"civicq/records-service/internal/store/memory"
)

func TestRetryOnConflictBacksOffUntilSuccess(t *testing.T) {
	ctx := context.Background()
	var calls, retries int
	start := time.Now()
	err := store.RetryOnConflict(ctx, memory.New(), store.DefaultConflictAttempts, func(int, error) { retries++ }, func(store.Tx) error {
		calls++
		if calls < 3 {
			return store.Conflictf("counter busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
	// first two intervals are jittered around 5ms and 7.5ms
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	var calls int
	err := store.RetryOnConflict(context.Background(), memory.New(), 3, nil, func(store.Tx) error {
		calls++
		return store.Conflictf("counter busy")
	})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryOnConflictPassesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	err := store.RetryOnConflict(context.Background(), memory.New(), 3, nil, func(store.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflictStopsWhenCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := store.RetryOnConflict(ctx, memory.New(), 10, func(int, error) { cancel() }, func(store.Tx) error {
		return store.Conflictf("counter busy")
	})
	require.ErrorIs(t, err, context.Canceled)
}

package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	olderThan time.Duration
	calls     int
	err       error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.calls++
	f.olderThan = olderThan
	return f.err
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	cleaner := &fakeCleaner{}
	handler := NewIdempotencyCleanupHandler(cleaner, slog.Default())

	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 1, cleaner.calls)
	require.Equal(t, 72*time.Hour, cleaner.olderThan)
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	handler := NewIdempotencyCleanupHandler(cleaner, slog.Default())

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.olderThan)
}

func TestIdempotencyCleanupPropagatesErrors(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("pool closed")}
	handler := NewIdempotencyCleanupHandler(cleaner, slog.Default())

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.Error(t, handler(context.Background(), task))

	bad := asynq.NewTask(TaskIdempotencyCleanup, []byte("{"))
	require.ErrorIs(t, handler(context.Background(), bad), asynq.SkipRetry)
}

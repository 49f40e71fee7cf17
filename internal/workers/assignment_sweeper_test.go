package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLockKey = "sweeper-test"

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) ExpireStaleAssignments(context.Context, int) (int, error) {
	c.calls.Add(1)
	return 2, c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepRunsUnderLock(t *testing.T) {
	expirer := &countingExpirer{}
	locker := NewLocalLocker()
	sweeper := NewAssignmentSweeper(quietLogger(), expirer, locker, testLockKey, time.Minute, 10)

	require.NoError(t, sweeper.sweep(context.Background()))
	assert.Equal(t, int32(1), expirer.calls.Load())

	acquired, err := locker.TryLock(context.Background(), testLockKey)
	require.NoError(t, err)
	assert.True(t, acquired, "the lock is released after a sweep")
}

func TestSweepSkipsWhenLockIsHeld(t *testing.T) {
	expirer := &countingExpirer{}
	locker := NewLocalLocker()
	held, err := locker.TryLock(context.Background(), testLockKey)
	require.NoError(t, err)
	require.True(t, held)

	sweeper := NewAssignmentSweeper(quietLogger(), expirer, locker, testLockKey, time.Minute, 10)
	require.NoError(t, sweeper.sweep(context.Background()))
	assert.Zero(t, expirer.calls.Load())
}

func TestSweepReleasesLockOnFailure(t *testing.T) {
	expirer := &countingExpirer{err: errors.New("storage down")}
	locker := NewLocalLocker()
	sweeper := NewAssignmentSweeper(quietLogger(), expirer, locker, testLockKey, time.Minute, 10)

	assert.Error(t, sweeper.sweep(context.Background()))

	acquired, err := locker.TryLock(context.Background(), testLockKey)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestStartSweepsUntilCancelled(t *testing.T) {
	expirer := &countingExpirer{}
	sweeper := NewAssignmentSweeper(quietLogger(), expirer, NewLocalLocker(), testLockKey, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return expirer.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

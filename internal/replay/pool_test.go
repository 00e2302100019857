package replay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiowebux/replay-client/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(context.Background(), 0, func(context.Context, Assignment) {})
	assert.Error(t, err)

	_, err = NewPool(context.Background(), 1, nil)
	assert.Error(t, err)
}

func TestPool_RunsAssignments(t *testing.T) {
	var ran atomic.Int32
	pool, err := NewPool(context.Background(), 4, func(ctx context.Context, a Assignment) {
		ran.Add(1)
	})
	require.NoError(t, err)
	assert.Equal(t, 4, pool.Size())

	for i := 0; i < 20; i++ {
		w, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		w.Assign(Assignment{Session: &types.Session{}, Seq: i})
	}
	pool.Shutdown()
	pool.Wait()

	assert.Equal(t, int32(20), ran.Load())
	assert.Equal(t, int64(20), pool.Completed())
	assert.Equal(t, 0, pool.Active())
}

func TestPool_AssignmentBeforeShutdownRuns(t *testing.T) {
	var ran atomic.Int32
	pool, err := NewPool(context.Background(), 1, func(ctx context.Context, a Assignment) {
		time.Sleep(10 * time.Millisecond)
		ran.Add(1)
	})
	require.NoError(t, err)

	w, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	w.Assign(Assignment{Session: &types.Session{}})
	pool.Shutdown()
	pool.Wait()

	assert.Equal(t, int32(1), ran.Load())
}

func TestPool_AcquireAfterShutdown(t *testing.T) {
	pool, err := NewPool(context.Background(), 2, func(context.Context, Assignment) {})
	require.NoError(t, err)

	pool.Shutdown()
	pool.Shutdown() // idempotent
	pool.Wait()

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_AcquireBlocksUntilWorkerFrees(t *testing.T) {
	release := make(chan struct{})
	pool, err := NewPool(context.Background(), 1, func(ctx context.Context, a Assignment) {
		<-release
	})
	require.NoError(t, err)

	w, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	w.Assign(Assignment{Session: &types.Session{}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	w2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.ID(), w2.ID())

	pool.Shutdown()
	pool.Wait()
}

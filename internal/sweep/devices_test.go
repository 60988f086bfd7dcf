package sweep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolHandsOutDevicesInOrder(t *testing.T) {
	pool := NewPool([]string{"cuda:0", "cuda:1"})
	require.Equal(t, 2, pool.Count())

	ctx := context.Background()
	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "cuda:0", first)

	second, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "cuda:1", second)
}

func TestPoolBlocksUntilRelease(t *testing.T) {
	pool := NewPool([]string{"cuda:0"})
	ctx := context.Background()

	d, err := pool.Acquire(ctx)
	require.NoError(t, err)

	// Exhausted pool: an expired context reports instead of hanging.
	expired, cancel := context.WithCancel(ctx)
	cancel()
	_, err = pool.Acquire(expired)
	require.ErrorIs(t, err, context.Canceled)

	pool.Release(d)
	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, "cuda:0", again)
}

func TestPoolDefaultsToCPU(t *testing.T) {
	pool := NewPool(nil)
	require.Equal(t, 1, pool.Count())

	d, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cpu", d)
}

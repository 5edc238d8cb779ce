package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderPool_BoundsConcurrency(t *testing.T) {
	pool := NewProviderPool(2, nil)
	defer pool.Close()

	var active, peak atomic.Int32
	release := make(chan struct{})
	errs := make(chan error, 5)

	for range 5 {
		go func() {
			errs <- pool.Do(context.Background(), func(context.Context) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				active.Add(-1)
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	for range 5 {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestProviderPool_ReturnsError(t *testing.T) {
	pool := NewProviderPool(1, nil)
	defer pool.Close()

	boom := errors.New("boom")
	err := pool.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestProviderPool_CallerCanAbandonWait(t *testing.T) {
	pool := NewProviderPool(1, nil)
	defer pool.Close()

	block := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Do(ctx, func(context.Context) error {
		<-block
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)

	require.NoError(t, pool.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestProviderPool_RecoversPanics(t *testing.T) {
	pool := NewProviderPool(1, nil)
	defer pool.Close()

	err := pool.Do(context.Background(), func(context.Context) error { panic("bad") })
	require.Error(t, err)
	require.NoError(t, pool.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestProviderPool_Close(t *testing.T) {
	pool := NewProviderPool(1, nil)
	assert.True(t, pool.IsRunning())
	pool.Close()
	pool.Close()

	assert.False(t, pool.IsRunning())
	assert.ErrorIs(t, pool.Do(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestOrchestrator_ClosesOnlyItsOwnPool(t *testing.T) {
	own := NewOrchestrator(OrchestratorDeps{}, SyncConfig{})
	require.True(t, own.pool.IsRunning())
	own.Close()
	assert.False(t, own.pool.IsRunning())

	shared := NewProviderPool(1, nil)
	defer shared.Close()
	injected := NewOrchestrator(OrchestratorDeps{Pool: shared}, SyncConfig{})
	injected.Close()
	assert.True(t, shared.IsRunning())
}

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestPoolBoundsConcurrency(t *testing.T) {
	pool := NewIngestPool(2, 0)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Run(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestIngestPoolAppliesTimeout(t *testing.T) {
	pool := NewIngestPool(1, 20*time.Millisecond)

	err := pool.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIngestPoolCancelledWhileWaiting(t *testing.T) {
	pool := NewIngestPool(1, 0)

	release := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Run(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestIngestPoolPropagatesError(t *testing.T) {
	pool := NewIngestPool(1, 0)
	sentinel := errors.New("boom")
	err := pool.Run(context.Background(), func(context.Context) error { return sentinel })
	require.ErrorIs(t, err, sentinel)
}

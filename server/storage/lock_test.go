package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocks_Reentrant(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	assert.False(t, Held(ctx, "alice"))
	err := locks.WithLock(ctx, "alice", func(ctx context.Context) error {
		assert.True(t, Held(ctx, "alice"))
		assert.False(t, Held(ctx, "bob"))
		return locks.WithLock(ctx, "alice", func(ctx context.Context) error {
			assert.True(t, Held(ctx, "alice"))
			return nil
		})
	})
	require.NoError(t, err)
}

func TestLocks_Exclusive(t *testing.T) {
	locks := NewLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.WithLock(context.Background(), "alice", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocks_IndependentMailboxes(t *testing.T) {
	locks := NewLocks()
	err := locks.WithLock(context.Background(), "alice", func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() {
			done <- locks.WithLock(context.Background(), "bob", func(context.Context) error { return nil })
		}()
		select {
		case err := <-done:
			return err
		case <-time.After(time.Second):
			t.Fatal("lock of other mailbox blocked")
			return nil
		}
	})
	require.NoError(t, err)
}

func TestLocks_WaitCancelled(t *testing.T) {
	locks := NewLocks()
	release := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		_ = locks.WithLock(context.Background(), "alice", func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := locks.WithLock(ctx, "alice", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
	close(release)
}

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/wa-commerce/internal/logger"
	"github.com/fjod/wa-commerce/internal/metrics"
)

func newQueue(idle time.Duration) *KeyedQueue {
	return NewKeyedQueue(idle, logger.Discard(), metrics.NewNop())
}

func TestKeyedQueue_SameKeyRunsInOrder(t *testing.T) {
	q := newQueue(time.Second)
	defer q.Close(context.Background())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, q.Submit("pn:1", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, q.Do(context.Background(), "pn:1", func(context.Context) error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestKeyedQueue_SameKeyNeverOverlaps(t *testing.T) {
	q := newQueue(time.Second)
	defer q.Close(context.Background())

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), "pn:1", func(context.Context) error {
				n := running.Add(1)
				if n > maxRunning.Load() {
					maxRunning.Store(n)
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestKeyedQueue_DifferentKeysRunInParallel(t *testing.T) {
	q := newQueue(time.Second)
	defer q.Close(context.Background())

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for _, key := range []string{"pn:1", "pn:2"} {
		require.NoError(t, q.Submit(key, func(context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("keys did not run concurrently")
		}
	}
	close(release)
}

func TestKeyedQueue_DoReturnsJobError(t *testing.T) {
	q := newQueue(time.Second)
	defer q.Close(context.Background())

	boom := errors.New("boom")
	err := q.Do(context.Background(), "pn:1", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestKeyedQueue_RecoversPanics(t *testing.T) {
	q := newQueue(time.Second)
	defer q.Close(context.Background())

	err := q.Do(context.Background(), "pn:1", func(context.Context) error { panic("bad input") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// the lane keeps working
	assert.NoError(t, q.Do(context.Background(), "pn:1", func(context.Context) error { return nil }))
}

func TestKeyedQueue_DoHonoursContext(t *testing.T) {
	q := newQueue(time.Second)
	defer q.Close(context.Background())

	release := make(chan struct{})
	require.NoError(t, q.Submit("pn:1", func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, "pn:1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestKeyedQueue_IdleLanesRetire(t *testing.T) {
	q := newQueue(20 * time.Millisecond)
	defer q.Close(context.Background())

	require.NoError(t, q.Do(context.Background(), "pn:1", func(context.Context) error { return nil }))
	assert.Equal(t, 1, q.Lanes())

	assert.Eventually(t, func() bool { return q.Lanes() == 0 }, time.Second, 5*time.Millisecond)

	// a retired key gets a fresh lane
	require.NoError(t, q.Do(context.Background(), "pn:1", func(context.Context) error { return nil }))
}

func TestKeyedQueue_FullLaneRejectsWithoutBlocking(t *testing.T) {
	q := newQueue(time.Second)
	defer q.Close(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Submit("pn:1", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	var ran atomic.Int32
	for i := 1; i < laneCapacity; i++ {
		require.NoError(t, q.Submit("pn:1", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	rejected := make(chan error, 2)
	go func() {
		rejected <- q.Submit("pn:1", func(context.Context) error { return nil })
		rejected <- q.Do(context.Background(), "pn:1", func(context.Context) error { return nil })
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-rejected:
			assert.ErrorIs(t, err, ErrLaneFull)
		case <-time.After(2 * time.Second):
			t.Fatal("enqueue blocked on a full lane")
		}
	}

	// other keys are unaffected
	require.NoError(t, q.Do(context.Background(), "pn:2", func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, q.Do(context.Background(), "pn:1", func(context.Context) error { return nil }))
	assert.Equal(t, int32(laneCapacity-1), ran.Load())
}

func TestKeyedQueue_CloseDrainsQueuedJobs(t *testing.T) {
	q := newQueue(time.Minute)

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit("pn:1", func(context.Context) error {
			time.Sleep(time.Millisecond)
			done.Add(1)
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
	assert.Equal(t, int32(10), done.Load())
	assert.Equal(t, 0, q.Lanes())

	assert.ErrorIs(t, q.Submit("pn:1", func(context.Context) error { return nil }), ErrQueueClosed)
	assert.ErrorIs(t, q.Close(ctx), ErrQueueClosed)
}

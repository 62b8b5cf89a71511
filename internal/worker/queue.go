package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/wa-commerce/internal/metrics"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrLaneFull    = errors.New("lane is full")
)

// laneCapacity bounds the jobs queued or running on one key.
const laneCapacity = 64

type job struct {
	fn   func(context.Context) error
	done chan error // nil for fire-and-forget jobs
}

// lane runs the jobs of one key in submission order on a single goroutine.
type lane struct {
	jobs    chan job
	pending int // guarded by KeyedQueue.mu
}

// KeyedQueue serializes work per key while different keys run in parallel.
// A lane goroutine exits after idle with nothing queued and is recreated on demand.
type KeyedQueue struct {
	idle    time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup

	quit    chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewKeyedQueue(idle time.Duration, logger *slog.Logger, m *metrics.Metrics) *KeyedQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &KeyedQueue{
		idle:    idle,
		logger:  logger,
		metrics: m,
		lanes:   make(map[string]*lane),
		quit:    make(chan struct{}),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit queues fn for key and returns immediately.
func (q *KeyedQueue) Submit(key string, fn func(context.Context) error) error {
	return q.enqueue(key, job{fn: fn})
}

// Do queues fn for key and waits for it to finish or for ctx to end.
func (q *KeyedQueue) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	done := make(chan error, 1)
	if err := q.enqueue(key, job{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *KeyedQueue) enqueue(key string, j job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	l, ok := q.lanes[key]
	if !ok {
		l = &lane{jobs: make(chan job, laneCapacity)}
		q.lanes[key] = l
		q.wg.Add(1)
		q.metrics.QueueLanes.Inc()
		go q.run(key, l)
	}
	if l.pending >= laneCapacity {
		q.mu.Unlock()
		q.metrics.QueueRejected.Inc()
		q.logger.Warn("lane full, job rejected", "key", key, "pending", laneCapacity)
		return ErrLaneFull
	}
	l.pending++
	q.mu.Unlock()

	// Sending outside the lock never blocks: pending counts every job still in
	// the channel, and the lane cannot retire while pending > 0.
	l.jobs <- j
	return nil
}

func (q *KeyedQueue) run(key string, l *lane) {
	defer q.wg.Done()
	defer q.metrics.QueueLanes.Dec()

	timer := time.NewTimer(q.idle)
	defer timer.Stop()

	for {
		select {
		case j := <-l.jobs:
			q.process(key, l, j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(q.idle)

		case <-timer.C:
			if q.retire(key, l) {
				return
			}
			timer.Reset(q.idle)

		case <-q.quit:
			for !q.retire(key, l) {
				q.process(key, l, <-l.jobs)
			}
			return
		}
	}
}

func (q *KeyedQueue) process(key string, l *lane, j job) {
	err := q.exec(key, j.fn)
	if j.done != nil {
		j.done <- err
	}

	q.mu.Lock()
	l.pending--
	q.mu.Unlock()
}

// retire removes the lane when nothing is queued on it.
func (q *KeyedQueue) retire(key string, l *lane) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l.pending > 0 {
		return false
	}
	delete(q.lanes, key)
	return true
}

func (q *KeyedQueue) exec(key string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job for %s panicked: %v", key, r)
			q.logger.Error("queue job panicked", "key", key, "panic", r)
		}
	}()

	if err = fn(q.baseCtx); err != nil {
		q.logger.Error("queue job failed", "key", key, "error", err)
	}
	return err
}

// Close stops accepting jobs and waits for queued ones to drain, or for ctx to end.
func (q *KeyedQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// Lanes reports how many keys currently hold a goroutine.
func (q *KeyedQueue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

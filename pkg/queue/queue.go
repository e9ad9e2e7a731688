// Package queue implements an unbounded (no capacity limit; Push never
// blocks), concurrent-safe FIFO used to hand
// items between the long-running pipeline stages in modules/frontend and
// modules/backend. Multiple producers and multiple consumers are supported;
// ordering across the queue is insertion order, and Front/Back/Pop all block
// until an item is available. There is no fairness guarantee across
// concurrent consumers.
package queue

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Queue is a FIFO container of items of type T. The zero value is not
// usable; construct with New.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []T
	size     *atomic.Int64

	depthGauge prometheus.Gauge
}

// Option configures a Queue at construction time.
type Option[T any] func(*Queue[T])

// WithDepthGauge attaches a prometheus gauge that is kept in sync with the
// queue's current size, for per-queue depth monitoring.
func WithDepthGauge[T any](g prometheus.Gauge) Option[T] {
	return func(q *Queue[T]) { q.depthGauge = g }
}

// New constructs an empty Queue.
func New[T any](opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{
		size: atomic.NewInt64(0),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends an item to the back of the queue and wakes one blocked
// consumer, if any.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.size.Inc()
	if q.depthGauge != nil {
		q.depthGauge.Set(float64(len(q.items)))
	}
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Pop removes and returns the item at the front of the queue, blocking
// until one is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	q.mu.Lock()
	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			var zero T
			return zero, err
		}
		// sync.Cond has no context-aware wait; a short-lived goroutine
		// rebroadcasts on cancellation so Wait() below can re-check ctx.Err().
		done := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
			close(done)
		})
		q.notEmpty.Wait()
		stop()
		select {
		case <-done:
		default:
		}
	}
	item := q.items[0]
	q.items[0] = *new(T)
	q.items = q.items[1:]
	q.size.Dec()
	if q.depthGauge != nil {
		q.depthGauge.Set(float64(len(q.items)))
	}
	q.mu.Unlock()
	return item, nil
}

// PopN drains up to n items without blocking, returning fewer if the queue
// has fewer than n buffered. Used by the backend batcher's normal path
// (dequeue exactly B_i items) once it has already confirmed availability.
func (q *Queue[T]) PopN(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]T, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	q.size.Store(int64(len(q.items)))
	if q.depthGauge != nil {
		q.depthGauge.Set(float64(len(q.items)))
	}
	return out
}

// Front returns the item at the head of the queue without removing it,
// blocking until one is available or ctx is done.
func (q *Queue[T]) Front(ctx context.Context) (T, error) {
	return q.peek(ctx, true)
}

// Back returns the item at the tail of the queue without removing it,
// blocking until one is available or ctx is done.
func (q *Queue[T]) Back(ctx context.Context) (T, error) {
	return q.peek(ctx, false)
}

func (q *Queue[T]) peek(ctx context.Context, front bool) (T, error) {
	q.mu.Lock()
	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			var zero T
			return zero, err
		}
		done := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
			close(done)
		})
		q.notEmpty.Wait()
		stop()
		select {
		case <-done:
		default:
		}
	}
	var item T
	if front {
		item = q.items[0]
	} else {
		item = q.items[len(q.items)-1]
	}
	q.mu.Unlock()
	return item, nil
}

// TryFront returns the head item without blocking; ok is false if empty.
func (q *Queue[T]) TryFront() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	return q.items[0], true
}

// TryBack returns the tail item without blocking; ok is false if empty.
func (q *Queue[T]) TryBack() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	return q.items[len(q.items)-1], true
}

// Size returns the current number of buffered items.
func (q *Queue[T]) Size() int {
	return int(q.size.Load())
}

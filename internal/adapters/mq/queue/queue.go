// Package queue buffers alert batches between scoring and delivery.
package queue

import (
	"context"
	"sync"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/metrics"
)

const defaultQueueCapacity = 64

// Batch is the high-risk part of one scored batch.
type Batch struct {
	RunID       string
	Predictions []model.Prediction
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a batch. It fails with ErrFull or ErrClosed instead of blocking.
	Enqueue(ctx context.Context, b Batch) error

	// Dequeue returns a channel that receives batches in order. The channel
	// is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Batch

	// Len returns the current number of queued batches.
	Len(ctx context.Context) int

	// Close stops accepting batches. Queued batches can still be dequeued.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	batches  chan Batch
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.batches = make(chan Batch, q.capacity)
	metrics.UpdateAlertQueueSize(0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, b Batch) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordAlertDropped("closed")
		return ErrClosed
	}

	select {
	case q.batches <- b:
		metrics.UpdateAlertQueueSize(len(q.batches))
		return nil
	case <-ctx.Done():
		metrics.RecordAlertDropped("context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordAlertDropped("queue_full")
		return ErrFull
	}
}

// Dequeue implements Queue.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Batch {
	out := make(chan Batch)
	go func() {
		defer close(out)
		for b := range q.batches {
			select {
			case out <- b:
				metrics.UpdateAlertQueueSize(len(q.batches))
			case <-ctx.Done():
				// b was already taken off the queue and is lost.
				metrics.RecordAlertDropped("context_cancelled")
				return
			}
		}
	}()
	return out
}

// Len implements Queue.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.batches)
}

// Close implements Queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.batches)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

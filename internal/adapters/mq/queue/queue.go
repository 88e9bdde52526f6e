// Package queue holds the FIFO of work items waiting for the control bridge.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/swapbridge/internal/domain/model"
	"github.com/okian/swapbridge/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Action names the scoring engine operation a work item asks for.
type Action string

// Known actions.
const (
	ActionClassify Action = "classify"
)

// Callback receives the engine's output for a processed item. It runs on the
// worker, in dequeue order.
type Callback func(ctx context.Context, result model.ScoredSubject) error

// WorkItem pairs an action with its payload and completion callback.
type WorkItem struct {
	ID         string // correlation id for logs
	Action     Action
	Payload    any
	OnComplete Callback
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue appends an item. It never blocks; a full or closed queue
	// returns ErrQueueFull or ErrStopped.
	Enqueue(ctx context.Context, item WorkItem) error

	// Dequeue returns the channel items are delivered on, in FIFO order.
	// The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan WorkItem

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting items. Items already queued remain readable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan WorkItem
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}

	for _, opt := range opts {
		opt(q)
	}

	q.items = make(chan WorkItem, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)

	return q
}

// Enqueue appends item to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, item WorkItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrStopped
	}

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	select {
	case q.items <- item:
		metrics.UpdateQueueSize(len(q.items))
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrQueueFull
	}
}

// Dequeue returns the item channel. There is a single consumer, so the
// channel is handed out directly and FIFO order is kept end to end.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan WorkItem {
	return q.items
}

// Len returns the current number of queued items.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	return size
}

// Capacity returns the maximum number of queued items.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

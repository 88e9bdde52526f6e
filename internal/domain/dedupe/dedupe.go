// Package dedupe filters classifications the reduction service delivers more
// than once.
package dedupe

import (
	"context"
	"sync"
)

// DefaultWindow is the number of recent ids remembered.
const DefaultWindow = 10

// Deduper records seen event IDs within a bounded recency window.
type Deduper interface {
	// SeenAndRecord reports whether id is inside the window. An id that is
	// not gets recorded and false is returned.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the window, allowing it to be retried.
	// Only used when a recorded event could not be handed to the worker.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// windowDeduper keeps the last maxSize ids in insertion order. Eviction is
// FIFO: a repeated id does not move to the back of the window.
type windowDeduper struct {
	mu      sync.Mutex
	order   []string            // oldest first
	members map[string]struct{} // same ids as order
	maxSize int                 // 0 or negative = unbounded
}

// NewWindowDeduper creates a deduper remembering the most recent ids.
func NewWindowDeduper(opts ...Option) Deduper {
	d := &windowDeduper{
		maxSize: DefaultWindow,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.members = make(map[string]struct{})
	if d.maxSize > 0 {
		d.order = make([]string, 0, d.maxSize+1)
	}

	return d
}

// SeenAndRecord checks membership and records id when it is new.
func (d *windowDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.members[id]; exists {
		return true
	}

	d.members[id] = struct{}{}
	if d.maxSize <= 0 {
		return false
	}

	d.order = append(d.order, id)
	if len(d.order) > d.maxSize {
		oldest := d.order[0]
		delete(d.members, oldest)
		// shift in place so the backing array does not grow forever
		copy(d.order, d.order[1:])
		d.order = d.order[:len(d.order)-1]
	}
	return false
}

// Unrecord removes id from the window.
func (d *windowDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.members[id]; !exists {
		return
	}
	delete(d.members, id)

	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Size returns the number of ids currently remembered.
func (d *windowDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.members))
}

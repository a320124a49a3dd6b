// Package memory provides the bounded in-process host event queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = archive.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan archive.Event
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan archive.Event, capacity),
	}
}

// Enqueue pushes an event or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, evt archive.Event) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- evt:
		return nil
	}
}

// Dequeue pops the next event, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (archive.Event, error) {
	select {
	case <-ctx.Done():
		return archive.Event{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case evt, ok := <-q.ch:
		if !ok {
			return archive.Event{}, ErrClosed
		}
		return evt, nil
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. Buffered events can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

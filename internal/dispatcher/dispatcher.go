// Package dispatcher fans host events out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/worker"
)

// Dispatcher runs workers over a shared event queue.
type Dispatcher struct {
	queue   archive.EventQueue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue archive.EventQueue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue. It satisfies the event sink the
// bookmark tree and browser host publish into.
func (d *Dispatcher) Enqueue(ctx context.Context, evt archive.Event) error {
	if err := d.queue.Enqueue(ctx, evt); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

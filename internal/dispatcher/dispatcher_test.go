package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/queue/memory"
	"github.com/JakeFAU/bookmark-archiver/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nopHandler{}, worker.Config{}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(4)
	handled := make(chan archive.Event, 4)
	workers := []*worker.Worker{
		worker.New(queue, chanHandler(handled), worker.Config{}, nil),
		worker.New(queue, chanHandler(handled), worker.Config{}, nil),
	}
	dispatch := New(queue, workers)
	require.NoError(t, dispatch.Enqueue(context.Background(), archive.Event{Kind: archive.EventBookmarkCreated, BookmarkID: "1"}))
	require.NoError(t, dispatch.Enqueue(context.Background(), archive.Event{Kind: archive.EventBookmarkRemoved, BookmarkID: "2"}))
	queue.Close()

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
	require.Len(t, handled, 2)
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil)
	err := dispatch.Enqueue(context.Background(), archive.Event{BookmarkID: "1"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type nopHandler struct{}

func (nopHandler) Handle(context.Context, archive.Event) error {
	return nil
}

type chanHandler chan archive.Event

func (c chanHandler) Handle(_ context.Context, evt archive.Event) error {
	c <- evt
	return nil
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, archive.Event) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (archive.Event, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return archive.Event{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, archive.Event) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (archive.Event, error) {
	return archive.Event{}, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/guard"
	"github.com/JakeFAU/bookmark-archiver/internal/queue/memory"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []archive.Event
	errFor func(archive.Event) error
}

func (h *recordingHandler) Handle(_ context.Context, evt archive.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	if h.errFor != nil {
		return h.errFor(evt)
	}
	return nil
}

func (h *recordingHandler) Events() []archive.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]archive.Event(nil), h.events...)
}

func runWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestWorkerHandlesEventsInOrder(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(8)
	handler := &recordingHandler{}
	runWorker(t, New(queue, handler, Config{}, nil))

	for i := 0; i < 3; i++ {
		require.NoError(t, queue.Enqueue(context.Background(), archive.Event{
			Kind:       archive.EventBookmarkCreated,
			BookmarkID: fmt.Sprint(i),
		}))
	}
	require.Eventually(t, func() bool { return len(handler.Events()) == 3 }, time.Second, 5*time.Millisecond)
	for i, evt := range handler.Events() {
		require.Equal(t, fmt.Sprint(i), evt.BookmarkID)
	}
}

func TestWorkerRequeuesGuardTimeouts(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue(8)
	handler := &recordingHandler{errFor: func(evt archive.Event) error {
		if evt.Attempt < 2 {
			return fmt.Errorf("relocate: %w", guard.ErrWaitTimeout)
		}
		return nil
	}}
	runWorker(t, New(queue, handler, Config{MaxAttempts: 5, RetryDelay: time.Millisecond}, nil))

	require.NoError(t, queue.Enqueue(context.Background(), archive.Event{Kind: archive.EventBookmarkMoved, BookmarkID: "7"}))
	require.Eventually(t, func() bool { return len(handler.Events()) == 3 }, time.Second, 5*time.Millisecond)
	events := handler.Events()
	require.Equal(t, []int{0, 1, 2}, []int{events[0].Attempt, events[1].Attempt, events[2].Attempt})
}

func TestWorkerGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	queue := memory.NewQueue(8)
	handler := &recordingHandler{errFor: func(archive.Event) error { return guard.ErrWaitTimeout }}
	runWorker(t, New(queue, handler, Config{MaxAttempts: 2}, zap.New(core)))

	require.NoError(t, queue.Enqueue(context.Background(), archive.Event{Kind: archive.EventBookmarkMoved, BookmarkID: "7"}))
	require.Eventually(t, func() bool { return logs.FilterMessage("host event failed").Len() == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, handler.Events(), 2)
}

func TestWorkerDoesNotRequeueOtherErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	queue := memory.NewQueue(8)
	handler := &recordingHandler{errFor: func(archive.Event) error { return errors.New("disk full") }}
	runWorker(t, New(queue, handler, Config{MaxAttempts: 5}, zap.New(core)))

	require.NoError(t, queue.Enqueue(context.Background(), archive.Event{Kind: archive.EventBookmarkRemoved, BookmarkID: "9"}))
	require.Eventually(t, func() bool { return logs.FilterMessage("host event failed").Len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, handler.Events(), 1)
}

func TestWorkerTracesEvents(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	queue := memory.NewQueue(8)
	handler := &recordingHandler{errFor: func(evt archive.Event) error {
		if evt.BookmarkID == "bad" {
			return errors.New("disk full")
		}
		return nil
	}}
	runWorker(t, New(queue, handler, Config{Tracer: tp.Tracer("test")}, nil))

	require.NoError(t, queue.Enqueue(context.Background(), archive.Event{Kind: archive.EventBookmarkCreated, BookmarkID: "ok"}))
	require.NoError(t, queue.Enqueue(context.Background(), archive.Event{Kind: archive.EventBookmarkRemoved, BookmarkID: "bad"}))
	require.Eventually(t, func() bool { return len(recorder.Ended()) == 2 }, time.Second, 5*time.Millisecond)

	spans := recorder.Ended()
	require.Equal(t, "host_event", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "disk full", spans[1].Status().Description)
}

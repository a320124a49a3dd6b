package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageWait))
	hub.Emit(sampleEvent(StageWait))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRemoved))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubStampsEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub := NewHub(Config{MaxBatchEvents: 1, Clock: fixedClock{fixed}}, sink)

	hub.Emit(Event{Stage: StageRemoved, URL: "https://example.com"})
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, fixed, batches[0][0].TS)
	require.NotEqual(t, [16]byte{}, batches[0][0].ID)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageRemoved})
	hub.Emit(Event{Stage: "BOGUS", URL: "https://example.com"})
	hub.Emit(Event{Stage: StageLocalArchived, URL: "https://example.com"})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageWait))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.NotZero(t, hub.lastDrop.Load(), "drop should be logged")
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageVisited))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.closed)

	// Emit after close is ignored.
	hub.Emit(sampleEvent(StageVisited))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	var hub *Hub
	hub.Emit(sampleEvent(StageWait))
	require.NoError(t, hub.Close(context.Background()))
	Discard.Emit(sampleEvent(StageWait))
}

func TestEventFailed(t *testing.T) {
	require.True(t, Event{Stage: StageRemoteFailed}.Failed())
	require.True(t, Event{Stage: StageRelocateFailed}.Failed())
	require.False(t, Event{Stage: StageLocalArchived}.Failed())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time {
	return c.t
}

func sampleEvent(stage Stage) Event {
	evt := Event{Stage: stage, URL: "https://example.com/a"}
	switch stage {
	case StageRemoteArchived:
		evt.Service = "archive.is"
	case StageLocalArchived, StageRelocated:
		evt.Path = "/tmp/a.mhtml"
	}
	return evt
}

// Package worker runs the host event loop: it dequeues bookmark and tab
// events and hands them to the reconciler.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/guard"
	"github.com/JakeFAU/bookmark-archiver/internal/metrics"
)

// Handler reconciles one host event.
type Handler interface {
	Handle(ctx context.Context, evt archive.Event) error
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds how often an event that timed out on the
	// concurrency guard is re-queued. Zero disables re-queueing.
	MaxAttempts int
	// RetryDelay is waited before re-queueing.
	RetryDelay time.Duration
	// Tracer overrides the global tracer.
	Tracer trace.Tracer
}

// Worker consumes queue events.
type Worker struct {
	queue   archive.EventQueue
	handler Handler
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New constructs a Worker.
func New(queue archive.EventQueue, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/JakeFAU/bookmark-archiver/internal/worker")
	}
	return &Worker{queue: queue, handler: handler, cfg: cfg, logger: logger, tracer: tracer}
}

// Run blocks, consuming events until the context finishes or the queue is
// closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		evt, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, archive.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, evt)
	}
}

func (w *Worker) process(ctx context.Context, evt archive.Event) {
	metrics.ObserveHostEvent(string(evt.Kind))
	fields := []zap.Field{
		zap.String("kind", string(evt.Kind)),
		zap.String("bookmark_id", evt.BookmarkID),
		zap.Int("attempt", evt.Attempt),
	}
	if evt.Tab.URL != "" {
		fields = append(fields, zap.String("url", evt.Tab.URL))
	}
	w.logger.Debug("handling host event", fields...)

	ctx, span := w.tracer.Start(ctx, "host_event", trace.WithAttributes(
		attribute.String("event.kind", string(evt.Kind)),
		attribute.String("bookmark.id", evt.BookmarkID),
		attribute.Int("event.attempt", evt.Attempt),
	))
	defer span.End()

	err := w.handler.Handle(ctx, evt)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, guard.ErrWaitTimeout) && evt.Attempt+1 < w.cfg.MaxAttempts {
		w.requeue(ctx, evt)
		return
	}
	w.logger.Warn("host event failed", append(fields, zap.Error(err))...)
}

func (w *Worker) requeue(ctx context.Context, evt archive.Event) {
	evt.Attempt++
	if w.cfg.RetryDelay > 0 {
		timer := time.NewTimer(w.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
	if err := w.queue.Enqueue(ctx, evt); err != nil {
		w.logger.Warn("re-queue host event failed",
			zap.String("kind", string(evt.Kind)),
			zap.String("bookmark_id", evt.BookmarkID),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("host event re-queued after guard timeout",
		zap.String("kind", string(evt.Kind)),
		zap.String("bookmark_id", evt.BookmarkID),
		zap.Int("attempt", evt.Attempt),
	)
}

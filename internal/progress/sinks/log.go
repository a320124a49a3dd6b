package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event; failures are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("event_id", evt.UUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
		}
		if evt.BookmarkID != "" {
			fields = append(fields, zap.String("bookmark_id", evt.BookmarkID))
		}
		if evt.Service != "" {
			fields = append(fields, zap.String("service", evt.Service))
		}
		if evt.Link != "" {
			fields = append(fields, zap.String("link", evt.Link))
		}
		if evt.Path != "" {
			fields = append(fields, zap.String("path", evt.Path))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Failed() {
			s.logger.Warn("archive event", fields...)
			continue
		}
		s.logger.Info("archive event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

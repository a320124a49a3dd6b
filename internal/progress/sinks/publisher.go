package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/progress"
)

// PublisherSink forwards terminal archive events to a topic.
type PublisherSink struct {
	publisher archive.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink builds a sink publishing to topic.
func NewPublisherSink(publisher archive.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// notification is the published payload.
type notification struct {
	ID string `json:"id"`
	progress.Event
}

// Consume publishes every archive, relocation and removal event. WAIT and
// VISITED events stay local.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage == progress.StageWait || evt.Stage == progress.StageVisited {
			continue
		}
		msgID, err := s.publisher.Publish(ctx, s.topic, notification{ID: evt.UUID().String(), Event: evt})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s for %s: %w", evt.Stage, evt.URL, err))
			continue
		}
		s.logger.Debug("archive event published",
			zap.String("topic", s.topic),
			zap.String("message_id", msgID),
			zap.String("stage", string(evt.Stage)),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

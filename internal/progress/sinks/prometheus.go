package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bookmark-archiver/internal/progress"
)

// PrometheusSink counts notifier events by stage and exports snapshot sizes.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	snapshotBytes prometheus.Counter
	captureDur    prometheus.Histogram
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_notifier_events_total",
			Help: "Notifier events partitioned by stage.",
		}, []string{"stage"}),
		snapshotBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_snapshot_bytes_total",
			Help: "Bytes written by automatic local captures.",
		}),
		captureDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_capture_duration_seconds",
			Help:    "Wall time of completed local captures.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	for _, collector := range []prometheus.Collector{s.events, s.snapshotBytes, s.captureDur} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		if evt.Stage != progress.StageLocalArchived {
			continue
		}
		if evt.Bytes > 0 {
			s.snapshotBytes.Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.captureDur.Observe(evt.Dur.Seconds())
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

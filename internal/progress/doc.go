// Package progress is the presentation notifier. Engine components emit
// archive events through a non-blocking Hub, which batches them on a
// background goroutine and fans them out to sinks: structured logs,
// Prometheus counters, badge state for the command surface and Pub/Sub
// notifications.
package progress

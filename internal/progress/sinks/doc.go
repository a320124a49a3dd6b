// Package sinks implements notifier consumers: structured logging,
// Prometheus counters, per-URL badge state and Pub/Sub notifications.
package sinks

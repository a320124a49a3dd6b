// Package api hosts the HTTP server, middleware, and REST handlers that act
// as the command surface of the archiver. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/archive/online and /v1/archive/local to archive a page on demand.
//   - GET /v1/records, /v1/badge and GET|PUT /v1/settings for presentation.
//   - /v1/tabs and /v1/bookmarks to drive the host; every mutation becomes a
//     host event handled by the reconciler workers.
package api

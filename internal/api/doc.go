// Package api hosts the optional HTTP side-port. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/targets and /v1/stats for read-only status views, optionally
//     guarded by an API key.
package api

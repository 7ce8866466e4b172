// Package api hosts the optional operator HTTP endpoint of a recovery run.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/workers and /v1/workers/{index} for live run summaries.
package api

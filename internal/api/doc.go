// Package api hosts the status server that runs alongside a crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the counters of the run in flight.
package api

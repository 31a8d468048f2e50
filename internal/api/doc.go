// Package api hosts the HTTP server for audit submissions. Routes:
//   - POST /reports submits a URL; answers 303 for a cached report or 202 with a job.
//   - GET /reports/{id} returns a stored report.
//   - GET /reports/job/{id} reports job progress and redirects once finished.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api

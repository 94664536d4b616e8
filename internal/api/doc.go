// Package api hosts the HTTP server, middleware, and REST handlers for the
// collector service. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/{job_id}/... for job lifecycle operations.
//   - GET /v1/browse/* and /v1/files/* for sandboxed artifact access.
//   - GET/PUT /v1/settings for the key/value settings store.
//
// State-changing routes pass CSRF validation before reaching the job service.
package api

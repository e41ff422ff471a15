// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and GET /v1/jobs[/{job_id}] to queue and inspect publish jobs.
//   - POST /v1/accounts/authenticate to link a note.com account.
//   - POST /v1/automation/run to run one runner cycle on demand (bearer secret).
package api

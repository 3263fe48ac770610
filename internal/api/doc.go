// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /products/upload/ accepts a CSV and returns a task id.
//   - GET /products/upload/status/{task_id}/ reports import progress.
//   - /products/webhooks/... manages subscriber endpoints.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api

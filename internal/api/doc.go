// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans/{type} to trigger a job or hire scan.
//   - GET /v1/scans and /v1/scans/{id} for scan reports.
//   - GET /v1/resources and POST /v1/resources/probe for the egress pool.
package api

// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /webmention accepts form-encoded notifications.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/tasks/{id}, /v1/posts/{short_id}/mentions and /v1/mentions/recent
//     for operators, optionally behind an API key.
package api

// Package main hosts the webmention receiver entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts POST /webmention, validates the form and hands the request to the
//     dispatcher, which records a task and queues it without blocking. The response is 202 with a Location header
//     pointing at /v1/tasks/{id}; the processing outcome is never part of it.
//   - Dispatcher & queue: tasks flow through a bounded in-memory queue sized by worker.queue_depth and are consumed
//     by a fixed pool sized by worker.concurrency. A full queue answers 503.
//   - Pipeline: each worker resolves the target post, fetches and verifies the source (colly + goquery), extracts
//     the h-entry (microformats2), classifies reference types and merges mentions into the post under an exclusive
//     scope from the post store (memory, SQLite or Postgres). Callbacks are posted best-effort.
//   - Side effects: verified sources are optionally archived (memory/local/GCS); committed changes refresh the
//     recent mentions list and are published to Pub/Sub or NATS when a notify backend is set.
//   - Configuration & plumbing: Viper populates config from file/env (WEBMENTION_ prefix); zap provides structured
//     logging; Prometheus metrics are exported at /metrics.
//
// Quick checklist:
//   - Run locally: webmentiond serve --config config.yaml
//   - One-off: webmentiond process --source https://a.example/reply --target https://blog.example/2024/01/post
//   - Shutdown: SIGTERM stops accepting requests, drains the queue and closes stores.
package main

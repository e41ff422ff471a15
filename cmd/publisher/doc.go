// Package main hosts the note.com auto-publisher entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, job enqueue/list/detail, account linking, and
//     a secret-guarded manual trigger that runs one publish cycle. The caller identity arrives in X-User-ID.
//   - Queue: jobs live in Postgres (or an in-memory store when no DSN is configured). Claims are conditional updates,
//     so any number of workers or processes may poll the same table and each job is published at most once.
//   - Workers: internal/dispatcher starts config.Worker.Concurrency polling loops. Each loop asks internal/runner for
//     one cycle and sleeps the short delay after work or the long delay when the queue is empty or an error occurred.
//   - Runner: loads the article and linked account, decrypts the session token via internal/vault, waits on the
//     per-host throttle, and drives the note.com editor through internal/automation (chromedp). Failures store a
//     screenshot and HTML snapshot in the BlobStore (memory/local/GCS) and requeue until max attempts is reached.
//     Lifecycle events are published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper reads AUTOPUB_* env vars and an optional file; zap provides structured logging;
//     Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Shutdown: SIGINT/SIGTERM stop the HTTP server and let in-flight cycles finish before workers exit.
//   - One-shot mode: -once runs a single cycle, prints the result JSON, and exits non-zero when the cycle failed.
//     Use it from a scheduler instead of the long-running worker pool.
//   - Chrome concurrency is bounded by automation.max_parallel independently of worker concurrency.
package main

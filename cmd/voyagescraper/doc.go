// Package main hosts the voyage scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts single and batch lookups for one source per request and
//     answers with the merged entries in input order. Scrapes run detached from the client connection.
//   - Pipeline: internal/pipeline turns a request into search tasks, launches a per-request browser
//     factory and hands the tasks to internal/orchestrator, which fans them out to a bounded worker pool.
//   - Search & extraction: each worker drives a chromedp session through the site's search state machine
//     (internal/search), waits out Cloudflare interstitials, then reads the voyage section with goquery
//     (internal/extract). Relative and offset timestamps are normalised by internal/timeconv.
//   - Persistence & fanout: the merged entries are written as JSON to the local output directory or a GCS
//     bucket, and a notification is published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files (a .env file is honoured); zap provides
//     structured logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: scraper.parallel workers per request; each owns at most one browser at a time.
//     Browsers of a request are swept when it ends and on SIGTERM.
//   - Rate limiting: scraper.tasks_per_second paces task starts per source; zero disables pacing.
//   - CAPTCHA: with captcha.api_key set the 2Captcha extension is loaded into every browser and /readyz checks
//     the account balance.
//
// Quick checklist:
//   - Configure env vars: VOYAGE_SERVER_PORT or PORT, VOYAGE_SCRAPER_PARALLEL or PARALLEL, HEADLESS, PROXY,
//     CAPTCHA_SOLVER_API_KEY, storage (VOYAGE_STORAGE_*) and pubsub (VOYAGE_PUBSUB_*).
//   - Run locally: go run ./cmd/voyagescraper -config config.yaml (or rely solely on env overrides).
package main

// Package api hosts the HTTP boundary of the scraper. Routes:
//   - POST /scrape (and /scrape/) looks up one vessel on one source.
//   - POST /scrape/batch looks up many vessels in one run.
//   - GET /healthz and /readyz for probes; readyz also checks the CAPTCHA balance
//     when a solver is configured.
//   - GET /metrics for Prometheus scraping.
//
// Scrapes run to completion even when the client disconnects.
package api

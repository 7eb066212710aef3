// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes; readyz reports 503 until the poller runs.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/urls/top?n= for the most shared URLs in the frequency store.
package api

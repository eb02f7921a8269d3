// Package observability provides an OpenTelemetry metrics extension that
// records run and step lifecycle counters: starts, waits, outcomes,
// retries, failed ticks, step completions and step timeouts.
//
// For per-tick tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

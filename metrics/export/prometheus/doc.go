// Package prometheus exposes authflux counters to Prometheus.
//
// [NewExporter] accepts an [authflux.Authority] and implements
// prometheus.Collector over its metrics snapshot. Counter names are prefixed
// authflux_*_total; validation latency renders as the single histogram
// authflux_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global default registry — callers mount Handler or
//     register the Collector themselves.
//   - Mutate authority state.
package prometheus

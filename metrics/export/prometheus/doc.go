// Package prometheus exposes adminauth engine metrics to Prometheus.
//
// [PrometheusExporter] is a prometheus.Collector that reads
// [adminauth.Engine.MetricsSnapshot] on every scrape. Counter names are
// prefixed adminauth_*_total; the single histogram is
// adminauth_authenticate_latency_seconds. Handler serves a private registry
// holding only this collector.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry. Callers either mount
//     Handler or register the collector themselves.
//   - Mutate engine state.
package prometheus

// Package prometheus provides Prometheus collectors for phlow metrics.
//
// [NewPrometheusExporter] accepts a [phlow.Engine] and exposes an
// [http.Handler] that renders all phlow counters in Prometheus text exposition
// format. Counter names are prefixed phlow_*_total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus

// Package metrics defines and registers the Prometheus metrics
// exposed at /metrics: container counts by state, per-pipeline-step
// failure counters, exit-monitor registration/fallback counters, and
// start/stop/delete/exec duration histograms. Metrics are registered
// at package init and updated by the pipelines and the Collector,
// which polls the store every 15s for state-gauge refresh. Package
// health.go additionally exposes /health, /ready, and /live for
// process-level liveness and readiness, independent of Prometheus.
package metrics

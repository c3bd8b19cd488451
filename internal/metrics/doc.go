// Package metrics provides internal Prometheus metrics collection for the
// session core: admission counters, per-kind pool utilization, frame
// routing outcomes, and mode-change results.
// This package is internal and should not be imported by external projects.
package metrics

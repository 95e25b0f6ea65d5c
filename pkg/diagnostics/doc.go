// Package diagnostics is the ambient observability surface: OTel counters
// polled on the reactor's tick, process resource stats, a per-run
// identifier, and an optional JSON state dump.
package diagnostics

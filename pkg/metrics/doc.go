// Package metrics defines and registers this module's Prometheus metrics
// and provides the /metrics handler, which the controller serves; the
// dispatcher process does not mount it.
//
// Metrics are grouped by the component that owns them: function-table
// gauges (replica counts, manager state), invocation counters and
// histograms (per function, per backend), autoscaler gauges (windowed
// max, target replicas), and compiler-actor counters and a histogram for
// build duration. GetHealth/GetReadiness back the controller's /health
// and /ready endpoints independently of the spec-mandated
// /readinessProbe, which stays a static 200.
package metrics

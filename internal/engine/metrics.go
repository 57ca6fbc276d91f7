package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus instrumentation, labeled by
// plugin and step rather than by HTTP route.
type Metrics struct {
	StepExecutions  *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	CleanupRuns     *prometheus.CounterVec
	CleanupCleaned  *prometheus.CounterVec
	JWKSRotations   prometheus.Counter
}

// NewMetrics builds and registers the engine's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authengine_step_executions_total",
			Help: "Number of plugin step executions, labeled by plugin, step and result.",
		}, []string{"plugin", "step", "result"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "authengine_step_duration_seconds",
			Help: "Plugin step execution latency in seconds.",
		}, []string{"plugin", "step"}),
		CleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authengine_cleanup_runs_total",
			Help: "Number of cleanup task runs, labeled by plugin, task and result.",
		}, []string{"plugin", "task", "result"}),
		CleanupCleaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authengine_cleanup_records_cleaned_total",
			Help: "Number of records removed by cleanup tasks.",
		}, []string{"plugin", "task"}),
		JWKSRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authengine_jwks_rotations_total",
			Help: "Number of signing key rotations performed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.StepExecutions, m.StepDuration, m.CleanupRuns, m.CleanupCleaned, m.JWKSRotations)
	}
	return m
}

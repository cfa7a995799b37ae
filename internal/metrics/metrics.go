// Package metrics exports multistart run telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/multistart/internal/optimization"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeConverged = "converged"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Metrics implements multistart.Recorder on Prometheus collectors.
type Metrics struct {
	runs          *prometheus.CounterVec
	iterations    prometheus.Counter
	improvements  prometheus.Counter
	localFailures prometheus.Counter
	duration      prometheus.Histogram
	bestValue     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multistart",
			Name:      "runs_total",
			Help:      "Finished multistart runs by outcome.",
		}, []string{"outcome"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multistart",
			Name:      "iterations_total",
			Help:      "Completed restart iterations across all runs.",
		}),
		improvements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multistart",
			Name:      "improvements_total",
			Help:      "Iterations that replaced the incumbent.",
		}),
		localFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "multistart",
			Name:      "local_failures_total",
			Help:      "Local refinements that did not report convergence.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "multistart",
			Name:      "run_duration_seconds",
			Help:      "Wall time of successful runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		bestValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "multistart",
			Name:      "best_value",
			Help:      "Best objective value of the most recent successful run.",
		}),
	}

	for _, c := range []prometheus.Collector{m.runs, m.iterations, m.improvements, m.localFailures, m.duration, m.bestValue} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveIteration counts one completed iteration.
func (m *Metrics) ObserveIteration(improved, localConverged bool) {
	m.iterations.Inc()
	if improved {
		m.improvements.Inc()
	}
	if !localConverged {
		m.localFailures.Inc()
	}
}

// ObserveRun records the outcome of a run.
func (m *Metrics) ObserveRun(result *optimization.OptimizationResult, err error) {
	m.runs.WithLabelValues(Outcome(result, err)).Inc()
	if err != nil || result == nil {
		return
	}
	m.duration.Observe(result.Duration.Seconds())
	if result.BestSolution != nil {
		m.bestValue.Set(result.BestSolution.Value)
	}
}

// Outcome classifies a finished run.
func Outcome(result *optimization.OptimizationResult, err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case err != nil:
		return OutcomeFailed
	case result != nil && result.Converged:
		return OutcomeConverged
	default:
		return OutcomeExhausted
	}
}

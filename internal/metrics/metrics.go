// Package metrics exposes Prometheus metrics for rotation plan executions.
//
// Metrics are registered lazily: until InitMetrics is called every Record method
// is a no-op, so library users that do not care about Prometheus pay nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution outcomes used as the "outcome" label.
const (
	OutcomeRotated = "rotated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	planExecutionsTotal *prometheus.CounterVec
	rotationDuration    *prometheus.HistogramVec
	revocationsTotal    *prometheus.CounterVec
	planExpired         *prometheus.GaugeVec
	planThreshold       *prometheus.GaugeVec
	planRevocationDue   *prometheus.GaugeVec

	metricsOnce       sync.Once
	metricsRegistered bool
	registry          = prometheus.NewRegistry()
)

// RotationMetrics records plan execution and status metrics.
type RotationMetrics struct{}

// NewRotationMetrics creates a new RotationMetrics instance.
func NewRotationMetrics() *RotationMetrics {
	return &RotationMetrics{}
}

// InitMetrics registers all metrics with the package registry.
// Call it once at startup when metrics output is requested.
func InitMetrics() {
	metricsOnce.Do(func() {
		factory := promauto.With(registry)

		planExecutionsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_plan_executions_total",
				Help: "Total number of rotation plan executions by outcome",
			},
			[]string{"plan", "outcome", "what_if"},
		)

		rotationDuration = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotator_plan_execution_duration_seconds",
				Help:    "Duration of rotation plan executions in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"plan"},
		)

		revocationsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_revocations_total",
				Help: "Total number of revocation actions invoked",
			},
			[]string{"plan", "store"},
		)

		planExpired = factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotator_plan_expired",
				Help: "Whether the plan's secret has expired (1) or not (0)",
			},
			[]string{"plan"},
		)

		planThreshold = factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotator_plan_threshold_expired",
				Help: "Whether the plan's secret is within its rotation threshold",
			},
			[]string{"plan"},
		)

		planRevocationDue = factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rotator_plan_requires_revocation",
				Help: "Whether the plan has rotation artifacts past their revoke-after date",
			},
			[]string{"plan"},
		)

		metricsRegistered = true
	})
}

// RecordExecution records the outcome and duration of one plan execution.
func (m *RotationMetrics) RecordExecution(plan, outcome string, whatIf bool, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	planExecutionsTotal.WithLabelValues(plan, outcome, boolLabel(whatIf)).Inc()
	rotationDuration.WithLabelValues(plan).Observe(durationSeconds)
}

// RecordRevocation records one revocation action invoked against store.
func (m *RotationMetrics) RecordRevocation(plan, store string) {
	if !metricsRegistered {
		return
	}
	revocationsTotal.WithLabelValues(plan, store).Inc()
}

// RecordStatus records the health flags of a plan status sweep.
func (m *RotationMetrics) RecordStatus(plan string, expired, thresholdExpired, requiresRevocation bool) {
	if !metricsRegistered {
		return
	}
	planExpired.WithLabelValues(plan).Set(gaugeValue(expired))
	planThreshold.WithLabelValues(plan).Set(gaugeValue(thresholdExpired))
	planRevocationDue.WithLabelValues(plan).Set(gaugeValue(requiresRevocation))
}

// Gatherer returns the registry holding the rotator metrics.
func Gatherer() prometheus.Gatherer {
	return registry
}

// WriteTextfile writes all registered metrics to path in the text exposition
// format, suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

func gaugeValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

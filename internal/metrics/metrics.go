// Package metrics exposes Prometheus instruments for the evaluation
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "evolver"

type Metrics struct {
	// evaluations counts finished evaluations.
	// Labels: status (validated, failed), stage (empty on success)
	evaluations *prometheus.CounterVec

	// stageDuration measures time spent per pipeline state.
	// Labels: stage
	stageDuration *prometheus.HistogramVec

	// signatures counts signatures attached to documents.
	// Labels: kind (hypothesis, group, theory)
	signatures *prometheus.CounterVec
}

// New registers the instruments with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Finished evaluations by outcome",
		}, []string{"status", "stage"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each evaluation stage",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"stage"}),
		signatures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "Signatures attached to evaluated documents",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveEvaluation(status, stage string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(status, stage).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) AddSignatures(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.signatures.WithLabelValues(kind).Add(float64(n))
}

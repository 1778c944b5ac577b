// Package metrics provides Prometheus metrics instrumentation for the forecaster.
//
// It exposes operational metrics about training runs, prediction outcomes and
// API usage. All metrics are exposed via the /metrics HTTP endpoint for
// Prometheus scraping.
//
// Metrics exposed:
//   - shedcast_train_seconds: Histogram of training duration by scope kind
//   - shedcast_train_samples: Gauge of samples in the last training run by scope
//   - shedcast_holdout_accuracy: Gauge of holdout accuracy of the last model by scope
//   - shedcast_source_fetch_seconds: Histogram of upstream fetch duration
//   - shedcast_predictions_total: Counter of predictions by scope kind and outcome
//   - shedcast_requests_total: Counter of API requests by endpoint
//   - shedcast_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/shedcast/pkg/storage"
)

// Scope kinds used as label values.
const (
	ScopeNational = "national"
	ScopeArea     = "area"
)

// Prediction outcomes used as label values.
const (
	OutcomeHit      = "hit"
	OutcomeFallback = "fallback"
	OutcomeNoModel  = "no_model"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for the forecaster.
type Metrics struct {
	TrainSeconds       *prometheus.HistogramVec
	TrainSamples       *prometheus.GaugeVec
	HoldoutAccuracy    *prometheus.GaugeVec
	SourceFetchSeconds prometheus.Histogram
	PredictionsTotal   *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics with reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TrainSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shedcast_train_seconds",
			Help:    "Time spent training a model",
			Buckets: prometheus.DefBuckets, // Default buckets: .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		}, []string{"scope_kind"}),

		TrainSamples: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shedcast_train_samples",
			Help: "Number of events in the last training run",
		}, []string{"scope"}),

		HoldoutAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shedcast_holdout_accuracy",
			Help: "Holdout accuracy of the last trained model (0 when nothing was held out)",
		}, []string{"scope"}),

		SourceFetchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shedcast_source_fetch_seconds",
			Help:    "Time spent fetching schedules from the upstream source",
			Buckets: prometheus.DefBuckets,
		}),

		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shedcast_predictions_total",
			Help: "Total number of predictions by scope kind and outcome",
		}, []string{"scope_kind", "outcome"}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shedcast_requests_total",
			Help: "Total number of API requests by endpoint",
		}, []string{"endpoint"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shedcast_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// ScopeKind maps a model scope to its label value.
func ScopeKind(scope string) string {
	if scope == storage.NationalScope {
		return ScopeNational
	}
	return ScopeArea
}

// RecordTrain records a completed training run.
func (m *Metrics) RecordTrain(scope string, seconds float64, samples int, accuracy float64) {
	m.TrainSeconds.WithLabelValues(ScopeKind(scope)).Observe(seconds)
	m.TrainSamples.WithLabelValues(scope).Set(float64(samples))
	m.HoldoutAccuracy.WithLabelValues(scope).Set(accuracy)
}

// RecordFetch records the time spent fetching from the source.
func (m *Metrics) RecordFetch(seconds float64) {
	m.SourceFetchSeconds.Observe(seconds)
}

// RecordPrediction increments the prediction counter.
func (m *Metrics) RecordPrediction(scopeKind, outcome string) {
	m.PredictionsTotal.WithLabelValues(scopeKind, outcome).Inc()
}

// RecordRequest increments the usage counter.
func (m *Metrics) RecordRequest(endpoint string) {
	m.RequestsTotal.WithLabelValues(endpoint).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

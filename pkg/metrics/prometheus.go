package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	outcomes    *prometheus.CounterVec
	predictions *prometheus.CounterVec
	confidence  *prometheus.GaugeVec
	evaluations *prometheus.CounterVec
	training    *prometheus.CounterVec
	trainTime   prometheus.Histogram
	cache       *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spincast_outcomes_total",
				Help: "Outcomes received by the ingest coordinator",
			},
			[]string{"status"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spincast_predictions_total",
				Help: "Predictions produced per producer label",
			},
			[]string{"model"},
		),
		confidence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spincast_prediction_confidence",
				Help: "Confidence of the latest prediction per producer label",
			},
			[]string{"model"},
		),
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spincast_group_evaluations_total",
				Help: "Scored prediction groups",
			},
			[]string{"group", "win"},
		),
		training: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spincast_training_runs_total",
				Help: "Training runs by result",
			},
			[]string{"result"},
		),
		trainTime: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spincast_training_duration_seconds",
				Help:    "Duration of training runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spincast_prediction_cache_lookups_total",
				Help: "Prediction cache lookups",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spincast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spincast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordOutcome counts an ingest verdict such as accepted or duplicate.
func (r *Recorder) RecordOutcome(status string) {
	r.outcomes.WithLabelValues(status).Inc()
}

// RecordPrediction counts a produced prediction.
func (r *Recorder) RecordPrediction(label string, confidence float64) {
	r.predictions.WithLabelValues(label).Inc()
	r.confidence.WithLabelValues(label).Set(confidence)
}

func (r *Recorder) RecordEvaluation(group string, win bool) {
	r.evaluations.WithLabelValues(group, strconv.FormatBool(win)).Inc()
}

func (r *Recorder) RecordTraining(result string, seconds float64) {
	r.training.WithLabelValues(result).Inc()
	if seconds > 0 {
		r.trainTime.Observe(seconds)
	}
}

func (r *Recorder) RecordCacheLookup(hit bool) {
	if hit {
		r.cache.WithLabelValues("hit").Inc()
		return
	}
	r.cache.WithLabelValues("miss").Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every event.
type Nop struct{}

func (Nop) RecordOutcome(string)             {}
func (Nop) RecordPrediction(string, float64) {}
func (Nop) RecordEvaluation(string, bool)    {}
func (Nop) RecordTraining(string, float64)   {}
func (Nop) RecordCacheLookup(bool)           {}
func (Nop) RecordError(string)               {}
func (Nop) RecordLatency(string, float64)    {}

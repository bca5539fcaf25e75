package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	batchSize   prometheus.Histogram
	modelInfo   *prometheus.GaugeVec
	training    *prometheus.GaugeVec
}

// New creates a recorder registered on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockrisk_predictions_total",
				Help: "Successful predictions by risk level",
			},
			[]string{"risk_level"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockrisk_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockrisk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		batchSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockrisk_batch_size",
				Help:    "Entries per batch prediction request",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		modelInfo: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockrisk_model_info",
				Help: "Loaded model version, value is always 1",
			},
			[]string{"version"},
		),
		training: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockrisk_training_metric",
				Help: "Hold-out evaluation metrics of the last training run",
			},
			[]string{"metric"},
		),
	}
}

// RecordPrediction counts one successful prediction.
func (r *Recorder) RecordPrediction(level string) {
	r.predictions.WithLabelValues(level).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordBatchSize(n int) {
	r.batchSize.Observe(float64(n))
}

// SetModelInfo exposes the serving model version.
func (r *Recorder) SetModelInfo(version string) {
	r.modelInfo.Reset()
	r.modelInfo.WithLabelValues(version).Set(1)
}

func (r *Recorder) RecordTraining(mse, rmse, r2 float64) {
	r.training.WithLabelValues("mse").Set(mse)
	r.training.WithLabelValues("rmse").Set(rmse)
	r.training.WithLabelValues("r2").Set(r2)
}

// Noop discards everything. Useful in tests and for the trainer when no
// metrics endpoint is exposed.
type Noop struct{}

func (Noop) RecordPrediction(string) {}
func (Noop) RecordError(string) {}
func (Noop) RecordLatency(string, float64) {}
func (Noop) RecordBatchSize(int) {}
func (Noop) SetModelInfo(string) {}
func (Noop) RecordTraining(float64, float64, float64) {}

package repository

import (
	"context"
	"errors"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/domain/repository"
	pkgkafka "StockRisk/pkg/kafka"
	"StockRisk/pkg/logger"
)

// LogRecorder writes one structured log line per prediction.
type LogRecorder struct {
	log *logger.Logger
}

func NewLogRecorder(lgr *logger.Logger) repository.PredictionRecorder {
	return &LogRecorder{log: lgr}
}

func (r *LogRecorder) Record(_ context.Context, rec *models.PredictionRecord) error {
	fields := []logger.Field{
		logger.String("id", rec.ID.String()),
		logger.String("symbol", rec.Symbol),
		logger.String("source", rec.Source),
		logger.String("model_version", rec.ModelVersion),
		logger.Int64("latency_us", rec.LatencyUS),
	}
	if rec.Failed() {
		fields = append(fields,
			logger.String("error_code", rec.ErrorCode),
			logger.String("error", rec.ErrorMessage),
		)
		r.log.Warn("prediction failed", fields...)
		return nil
	}
	fields = append(fields,
		logger.Float64("risk_score", rec.RiskScore),
		logger.String("risk_level", rec.RiskLevel),
	)
	r.log.Info("prediction", fields...)
	return nil
}

func (r *LogRecorder) Close() error { return nil }

// KafkaRecorder publishes records as JSON keyed by symbol.
type KafkaRecorder struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaRecorder(producer *pkgkafka.Producer, topic string) repository.PredictionRecorder {
	return &KafkaRecorder{producer: producer, topic: topic}
}

func (r *KafkaRecorder) Record(ctx context.Context, rec *models.PredictionRecord) error {
	key := rec.Symbol
	if key == "" {
		key = rec.ID.String()
	}
	return r.producer.PublishJSON(ctx, r.topic, key, rec)
}

// Close leaves the shared producer open.
func (r *KafkaRecorder) Close() error { return nil }

// MultiRecorder fans a record out to every sink. All sinks are tried.
type MultiRecorder struct {
	sinks []repository.PredictionRecorder
}

func NewMultiRecorder(sinks ...repository.PredictionRecorder) *MultiRecorder {
	return &MultiRecorder{sinks: sinks}
}

func (m *MultiRecorder) Record(ctx context.Context, rec *models.PredictionRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiRecorder) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

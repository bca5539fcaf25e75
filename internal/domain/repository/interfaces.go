package repository

import (
	"context"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/services/ml"
)

// ModelStore persists versioned model artifacts. Save and Load are
// all-or-nothing: both artifacts of a version exist, or neither does.
type ModelStore interface {
	Save(ctx context.Context, a *ml.Artifacts) (string, error)
	// Load reads a version. "" and "latest" select the newest one.
	Load(ctx context.Context, version string) (*ml.Artifacts, error)
	Versions(ctx context.Context) ([]string, error)
}

// ArtifactMirror copies versions between the local store and remote storage.
type ArtifactMirror interface {
	Publish(ctx context.Context, version string) error
	Fetch(ctx context.Context, version string) (string, error)
	Prune(ctx context.Context) error
}

// DatasetSource yields labelled observations for training.
type DatasetSource interface {
	Name() string
	Load(ctx context.Context) ([]models.LabeledObservation, error)
}

// PredictionRecorder receives one record per prediction attempt. Record
// must not block the request path for long and should not fail it.
type PredictionRecorder interface {
	Record(ctx context.Context, rec *models.PredictionRecord) error
	Close() error
}

// AuditStore persists audit records consumed from the event stream.
type AuditStore interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, recs []*models.PredictionRecord) error
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordPrediction(level string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordBatchSize(n int)
	SetModelInfo(version string)
	RecordTraining(mse, rmse, r2 float64)
}

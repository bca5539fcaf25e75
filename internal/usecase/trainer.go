package usecase

import (
	"context"
	"fmt"
	"time"

	"StockRisk/internal/domain/models"
	domrepo "StockRisk/internal/domain/repository"
	"StockRisk/internal/services/features"
	"StockRisk/internal/services/ml"
	"StockRisk/pkg/logger"
	pkgmetrics "StockRisk/pkg/metrics"
)

type TrainerConfig struct {
	Forest       ml.ForestParams
	TestFraction float64
	SplitSeed    uint64
	Timeout      time.Duration
}

// Trainer runs one offline training pass: load, derive, split, fit,
// evaluate, persist, and optionally publish.
type Trainer struct {
	cfg     TrainerConfig
	source  domrepo.DatasetSource
	store   domrepo.ModelStore
	mirror  domrepo.ArtifactMirror
	metrics domrepo.Metrics
	log     *logger.Logger
}

// NewTrainer builds a trainer. mirror may be nil.
func NewTrainer(cfg TrainerConfig, source domrepo.DatasetSource, store domrepo.ModelStore, mirror domrepo.ArtifactMirror, metrics domrepo.Metrics, lgr *logger.Logger) *Trainer {
	if metrics == nil {
		metrics = pkgmetrics.Noop{}
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &Trainer{cfg: cfg, source: source, store: store, mirror: mirror, metrics: metrics, log: lgr}
}

// Run trains and saves a new version. Every failure is a
// *models.FatalTrainingError.
func (t *Trainer) Run(ctx context.Context) (*models.TrainingReport, error) {
	start := time.Now()
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}
	log := t.log.With(logger.String("source", t.source.Name()))

	rows, err := t.source.Load(ctx)
	if err != nil {
		return nil, t.fatal("load", err)
	}
	if len(rows) == 0 {
		return nil, t.fatal("load", ml.ErrEmptyDataset)
	}
	log.Info("dataset loaded", logger.Int("rows", len(rows)))

	obs := make([]models.RawStockObservation, len(rows))
	labels := make([]float64, len(rows))
	for i, r := range rows {
		obs[i] = r.Observation
		labels[i] = r.RiskScore
	}
	refVolume := features.ReferenceVolume(obs)
	ds := ml.Dataset{X: features.NewEngineer(refVolume).DeriveAll(obs), Y: labels}
	if err := ds.Validate(); err != nil {
		return nil, t.fatal("features", err)
	}

	train, test := ml.Split(ds, t.cfg.TestFraction, t.cfg.SplitSeed)
	forest, scaler, err := ml.Train(ctx, train, t.cfg.Forest)
	if err != nil {
		return nil, t.fatal("fit", err)
	}
	scaler.ReferenceVolume = refVolume

	a := &ml.Artifacts{Model: forest, Scaler: scaler}
	a.Metrics = ml.Evaluate(a, test)
	a.Metrics.TrainSize = train.Len()
	log.Info("model evaluated",
		logger.Float64("mse", a.Metrics.MSE),
		logger.Float64("rmse", a.Metrics.RMSE),
		logger.Float64("r2", a.Metrics.R2),
		logger.Int("train", a.Metrics.TrainSize),
		logger.Int("test", a.Metrics.TestSize),
	)

	version, err := t.store.Save(ctx, a)
	if err != nil {
		return nil, t.fatal("save", err)
	}

	report := &models.TrainingReport{
		Version: version,
		Source:  t.source.Name(),
		Samples: len(rows),
		Metrics: a.Metrics,
	}
	if t.mirror != nil {
		if err := t.mirror.Publish(ctx, version); err != nil {
			return nil, t.fatal("publish", err)
		}
		report.Published = true
	}

	report.Duration = time.Since(start)
	t.metrics.RecordTraining(a.Metrics.MSE, a.Metrics.RMSE, a.Metrics.R2)
	t.metrics.RecordLatency("train", report.Duration.Seconds())
	log.Info("training finished",
		logger.String("version", version),
		logger.Bool("published", report.Published),
		logger.Duration("took", report.Duration),
	)
	return report, nil
}

func (t *Trainer) fatal(stage string, err error) error {
	t.metrics.RecordError("train_" + stage)
	t.log.Error("training failed", logger.String("stage", stage), logger.Error(err))
	return models.NewFatalTrainingError(stage, fmt.Errorf("%s: %w", t.source.Name(), err))
}

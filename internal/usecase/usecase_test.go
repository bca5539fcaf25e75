package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/repository"
	"StockRisk/internal/services/ml"
	"StockRisk/pkg/cache"
)

type captureRecorder struct {
	mu   sync.Mutex
	recs []*models.PredictionRecord
}

func (c *captureRecorder) Record(_ context.Context, rec *models.PredictionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureRecorder) Close() error { return nil }

func (c *captureRecorder) records() []*models.PredictionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.PredictionRecord(nil), c.recs...)
}

var (
	artifactsOnce sync.Once
	testArtifacts *ml.Artifacts
)

// sharedArtifacts trains one small model for the whole package.
func sharedArtifacts(t *testing.T) *ml.Artifacts {
	t.Helper()
	artifactsOnce.Do(func() {
		store := repository.NewFSModelStore(t.TempDir(), nil)
		tr := NewTrainer(testTrainerConfig(), repository.NewSyntheticSource(400, 42), store, nil, nil, nil)
		report, err := tr.Run(context.Background())
		if err != nil {
			panic(err)
		}
		testArtifacts, err = store.Load(context.Background(), report.Version)
		if err != nil {
			panic(err)
		}
	})
	return testArtifacts
}

func testTrainerConfig() TrainerConfig {
	p := ml.DefaultForestParams()
	p.Trees = 10
	return TrainerConfig{Forest: p, TestFraction: 0.2, SplitSeed: 42}
}

func newReadyPredictor(t *testing.T, c cache.Service) (*RiskPredictor, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	p := NewRiskPredictor(PredictorConfig{BatchWorkers: 4, CacheTTL: time.Minute}, rec, nil, c, nil)
	require.NoError(t, p.Install(sharedArtifacts(t)))
	return p, rec
}

func workedExample() models.RawStockObservation {
	return models.RawStockObservation{
		DayChangePercent: models.Float(2.5),
		Volume:           1_000_000,
		MarketCap:        5_000_000_000,
		CurrentPrice:     150.50,
		PreviousClose:    models.Float(147.25),
	}
}

func TestPredictWorkedExample(t *testing.T) {
	p, rec := newReadyPredictor(t, nil)

	res, err := p.Predict(context.Background(), workedExample())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.RiskScore, 0.0)
	assert.LessOrEqual(t, res.RiskScore, 100.0)
	assert.Equal(t, models.RiskLevelFromScore(res.RiskScore), res.RiskLevel)
	assert.Len(t, res.FeaturesUsed, models.NumFeatures)
	assert.Equal(t, 150.50, res.FeaturesUsed["current_price"])

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.SourceSingle, recs[0].Source)
	assert.Equal(t, res.RiskScore, recs[0].RiskScore)
	assert.NotEmpty(t, recs[0].ModelVersion)
}

func TestPredictIsIdempotent(t *testing.T) {
	for name, c := range map[string]cache.Service{"no cache": nil, "memory cache": cache.NewMemoryCache()} {
		t.Run(name, func(t *testing.T) {
			p, _ := newReadyPredictor(t, c)
			first, err := p.Predict(context.Background(), workedExample())
			require.NoError(t, err)
			second, err := p.Predict(context.Background(), workedExample())
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestPredictBeforeReady(t *testing.T) {
	rec := &captureRecorder{}
	p := NewRiskPredictor(PredictorConfig{}, rec, nil, nil, nil)
	assert.False(t, p.Ready())

	_, err := p.Predict(context.Background(), workedExample())
	assert.ErrorIs(t, err, models.ErrModelUnavailable)

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.CodeModelUnavailable, recs[0].ErrorCode)
}

func TestInstallOnlyOnce(t *testing.T) {
	p, _ := newReadyPredictor(t, nil)
	assert.True(t, p.Ready())
	assert.ErrorIs(t, p.Install(sharedArtifacts(t)), ErrAlreadyLoaded)

	version, loadedAt, ok := p.ModelInfo()
	assert.True(t, ok)
	assert.Equal(t, sharedArtifacts(t).Version, version)
	assert.False(t, loadedAt.IsZero())
}

func TestNonPositivePriceRejected(t *testing.T) {
	p, _ := newReadyPredictor(t, nil)
	for _, price := range []float64{0, -1} {
		obs := workedExample()
		obs.CurrentPrice = price

		_, err := p.Predict(context.Background(), obs)
		var ve *models.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "current_price", ve.Field)

		out := p.PredictBatch(context.Background(), []BatchInput{{Symbol: "X", Observation: obs}})
		require.NotNil(t, out["X"].Error)
		assert.Nil(t, out["X"].PredictionResult)
		assert.Equal(t, models.CodeInvalid, out["X"].Error.Code)
		assert.Equal(t, "current_price", out["X"].Error.Field)
	}
}

func TestBatchMatchesSingle(t *testing.T) {
	p, _ := newReadyPredictor(t, nil)
	single, err := p.Predict(context.Background(), workedExample())
	require.NoError(t, err)

	out := p.PredictBatch(context.Background(), []BatchInput{{Symbol: "X", Observation: workedExample()}})
	require.Contains(t, out, "X")
	require.NotNil(t, out["X"].PredictionResult)
	assert.Equal(t, single, *out["X"].PredictionResult)
}

func TestBatchPartialFailure(t *testing.T) {
	p, rec := newReadyPredictor(t, nil)

	bad := workedExample()
	bad.CurrentPrice = 0
	entries := []BatchInput{
		{Symbol: "AAPL", Observation: workedExample()},
		{Symbol: "BAD", Observation: bad},
		{Symbol: "MSFT", Observation: models.RawStockObservation{DayChangePercent: models.Float(-7), Volume: 10, MarketCap: 1e6, CurrentPrice: 3}},
		{Symbol: "SCHEMA", Invalid: &models.ValidationError{Field: "volume", Code: "ERR_GTE", Message: "volume must be >= 0"}},
	}
	out := p.PredictBatch(context.Background(), entries)

	require.Len(t, out, 4)
	var ok, failed int
	for _, item := range out {
		if item.Error != nil {
			failed++
			assert.Nil(t, item.PredictionResult)
		} else {
			ok++
			assert.Equal(t, models.RiskLevelFromScore(item.RiskScore), item.RiskLevel)
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 2, failed)
	assert.Equal(t, "ERR_GTE", out["SCHEMA"].Error.Code)
	assert.Len(t, rec.records(), 4, "one audit record per attempt")
}

func TestBatchDuplicatesAndMissingSymbols(t *testing.T) {
	p, rec := newReadyPredictor(t, nil)

	other := workedExample()
	other.CurrentPrice = 1
	out := p.PredictBatch(context.Background(), []BatchInput{
		{Symbol: "AAPL", Observation: workedExample()},
		{Symbol: "", Observation: workedExample()},
		{Symbol: "AAPL", Observation: other},
	})

	require.Len(t, out, 2)
	require.NotNil(t, out["AAPL"].PredictionResult)
	assert.Equal(t, 150.50, out["AAPL"].FeaturesUsed["current_price"], "first occurrence wins")
	require.NotNil(t, out["UNKNOWN_1"].Error)
	assert.Equal(t, models.CodeRequired, out["UNKNOWN_1"].Error.Code)
	assert.Len(t, rec.records(), 2)
}

func TestBatchAfterDeadline(t *testing.T) {
	p, _ := newReadyPredictor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := p.PredictBatch(ctx, []BatchInput{{Symbol: "A", Observation: workedExample()}})
	require.NotNil(t, out["A"].Error)
	assert.Equal(t, models.CodeTimeout, out["A"].Error.Code)

	_, err := p.Predict(ctx, workedExample())
	assert.ErrorIs(t, err, models.ErrRequestTimeout)
}

func TestValidateObservation(t *testing.T) {
	tests := []struct {
		name  string
		obs   models.RawStockObservation
		field string
	}{
		{"ok", workedExample(), ""},
		{"no day change nor previous close", models.RawStockObservation{CurrentPrice: 1}, "day_change_percent"},
		{"previous close only", models.RawStockObservation{CurrentPrice: 1, PreviousClose: models.Float(2)}, ""},
		{"negative volume", models.RawStockObservation{CurrentPrice: 1, Volume: -1, DayChangePercent: models.Float(0)}, "volume"},
		{"zero previous close", models.RawStockObservation{CurrentPrice: 1, PreviousClose: models.Float(0)}, "previous_close"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObservation(tt.obs)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestTrainerRejectsEmptyDataset(t *testing.T) {
	store := repository.NewFSModelStore(t.TempDir(), nil)
	_, err := NewTrainer(testTrainerConfig(), repository.NewSyntheticSource(0, 1), store, nil, nil, nil).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFatalTraining)
	var fe *models.FatalTrainingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "load", fe.Stage)

	versions, err := store.Versions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, versions, "nothing persisted")
}

func TestTrainerRoundTripIsBitIdentical(t *testing.T) {
	store := repository.NewFSModelStore(t.TempDir(), nil)
	tr := NewTrainer(testTrainerConfig(), repository.NewSyntheticSource(300, 7), store, nil, nil, nil)
	report, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300, report.Samples)
	assert.Equal(t, 60, report.Metrics.TestSize)
	assert.Equal(t, 240, report.Metrics.TrainSize)

	loaded, err := store.Load(context.Background(), report.Version)
	require.NoError(t, err)

	// retrain in memory with the same inputs and compare
	again := repository.NewFSModelStore(t.TempDir(), nil)
	report2, err := NewTrainer(testTrainerConfig(), repository.NewSyntheticSource(300, 7), again, nil, nil, nil).Run(context.Background())
	require.NoError(t, err)
	fresh, err := again.Load(context.Background(), report2.Version)
	require.NoError(t, err)

	assert.Equal(t, loaded.Predict(workedExample()).RiskScore, fresh.Predict(workedExample()).RiskScore)
	assert.Equal(t, report.Metrics.MSE, report2.Metrics.MSE)
}

func TestRetrainJobSkipsWhenLocked(t *testing.T) {
	lock := cache.NewMemoryCache()
	ok, err := lock.TryLock(context.Background(), retrainLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	job := NewRetrainJob(func(string) (*Trainer, error) {
		called = true
		return nil, errors.New("unreachable")
	}, lock, time.Minute, nil)

	payload, _ := json.Marshal(RetrainPayload{Source: "synthetic", RequestedAt: time.Now()})
	require.NoError(t, job.Handle(context.Background(), payload))
	assert.False(t, called)
}

func TestRetrainJobRunsTrainer(t *testing.T) {
	store := repository.NewFSModelStore(t.TempDir(), nil)
	var gotSource string
	job := NewRetrainJob(func(source string) (*Trainer, error) {
		gotSource = source
		return NewTrainer(testTrainerConfig(), repository.NewSyntheticSource(100, 1), store, nil, nil, nil), nil
	}, cache.NewMemoryCache(), time.Minute, nil)

	payload, _ := json.Marshal(RetrainPayload{Source: "csv"})
	require.NoError(t, job.Handle(context.Background(), payload))
	assert.Equal(t, "csv", gotSource)

	versions, err := store.Versions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

type memAuditStore struct {
	mu      sync.Mutex
	batches [][]*models.PredictionRecord
	fail    bool
}

func (m *memAuditStore) Init(context.Context) error { return nil }
func (m *memAuditStore) StoreBatch(_ context.Context, recs []*models.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("clickhouse down")
	}
	m.batches = append(m.batches, recs)
	return nil
}
func (m *memAuditStore) Health(context.Context) error { return nil }
func (m *memAuditStore) Close() error                 { return nil }

func TestPredictionAuditHandlerBatches(t *testing.T) {
	store := &memAuditStore{}
	h := NewPredictionAuditHandler("stockrisk.predictions", store, 2, time.Hour, nil)
	assert.Equal(t, "stockrisk.predictions", h.Topic())

	id1, id2 := uuid.New(), uuid.New()
	first, _ := json.Marshal(models.PredictionRecord{ID: id1, Symbol: "AAPL", RiskScore: 12})
	second, _ := json.Marshal(models.PredictionRecord{ID: id2, Symbol: "MSFT", RiskScore: 40})
	require.NoError(t, h.Handle(context.Background(), nil, first))
	assert.Empty(t, store.batches)

	store.fail = true
	assert.Error(t, h.Handle(context.Background(), nil, second))

	// the consumer redelivers the message whose flush failed
	store.fail = false
	require.NoError(t, h.Handle(context.Background(), nil, second))
	require.Len(t, store.batches, 1)
	ids := make([]uuid.UUID, 0, len(store.batches[0]))
	for _, r := range store.batches[0] {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []uuid.UUID{id1, id2}, ids)

	assert.Error(t, h.Handle(context.Background(), nil, []byte("{")))
	require.NoError(t, h.Stop(context.Background()))
}

func TestPredictionAuditHandlerFlushKeepsBufferOnFailure(t *testing.T) {
	store := &memAuditStore{fail: true}
	h := NewPredictionAuditHandler("stockrisk.predictions", store, 10, time.Hour, nil)

	msg, _ := json.Marshal(models.PredictionRecord{ID: uuid.New(), Symbol: "AAPL"})
	require.NoError(t, h.Handle(context.Background(), nil, msg))
	assert.Error(t, h.Flush(context.Background()))

	store.fail = false
	require.NoError(t, h.Flush(context.Background()))
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 1)
}

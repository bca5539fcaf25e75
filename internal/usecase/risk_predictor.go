package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"StockRisk/internal/domain/models"
	domrepo "StockRisk/internal/domain/repository"
	"StockRisk/internal/services/ml"
	"StockRisk/pkg/cache"
	"StockRisk/pkg/logger"
	pkgmetrics "StockRisk/pkg/metrics"
	"StockRisk/pkg/util"
)

// ErrAlreadyLoaded is returned when artifacts are installed twice.
var ErrAlreadyLoaded = errors.New("model already loaded")

type PredictorConfig struct {
	BatchWorkers  int
	CacheTTL      time.Duration
	RecordTimeout time.Duration
}

// BatchInput is one entry of a batch. Invalid is set when the entry failed
// schema validation and must not be scored.
type BatchInput struct {
	Symbol      string
	Observation models.RawStockObservation
	Invalid     *models.ValidationError
}

type loadedModel struct {
	artifacts *ml.Artifacts
	loadedAt  time.Time
}

// RiskPredictor scores observations with one immutable model version. It
// starts in Loading and moves to Ready exactly once.
type RiskPredictor struct {
	cfg      PredictorConfig
	model    atomic.Pointer[loadedModel]
	cache    cache.Service
	recorder domrepo.PredictionRecorder
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// NewRiskPredictor builds a predictor in the Loading state. cache may be nil.
func NewRiskPredictor(cfg PredictorConfig, recorder domrepo.PredictionRecorder, metrics domrepo.Metrics, c cache.Service, lgr *logger.Logger) *RiskPredictor {
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 8
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 2 * time.Second
	}
	if metrics == nil {
		metrics = pkgmetrics.Noop{}
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &RiskPredictor{
		cfg:      cfg,
		cache:    c,
		recorder: recorder,
		metrics:  metrics,
		log:      lgr,
		now:      time.Now,
	}
}

// Install moves the predictor to Ready with a. It can succeed only once.
func (p *RiskPredictor) Install(a *ml.Artifacts) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if !p.model.CompareAndSwap(nil, &loadedModel{artifacts: a, loadedAt: p.now().UTC()}) {
		return ErrAlreadyLoaded
	}
	p.metrics.SetModelInfo(a.Version)
	p.log.Info("model ready",
		logger.String("version", a.Version),
		logger.Int("trees", len(a.Model.Trees)),
		logger.Float64("reference_volume", a.Scaler.ReferenceVolume),
	)
	return nil
}

// Load reads version from store and installs it.
func (p *RiskPredictor) Load(ctx context.Context, store domrepo.ModelStore, version string) error {
	start := time.Now()
	a, err := store.Load(ctx, version)
	if err != nil {
		p.metrics.RecordError("model_load")
		return fmt.Errorf("load model: %w", err)
	}
	if err := p.Install(a); err != nil {
		return err
	}
	p.metrics.RecordLatency("model_load", time.Since(start).Seconds())
	return nil
}

// Ready reports whether a model is installed.
func (p *RiskPredictor) Ready() bool {
	return p.model.Load() != nil
}

// ModelInfo returns the installed version and load time.
func (p *RiskPredictor) ModelInfo() (version string, loadedAt time.Time, ok bool) {
	m := p.model.Load()
	if m == nil {
		return "", time.Time{}, false
	}
	return m.artifacts.Version, m.loadedAt, true
}

// Predict scores one observation.
func (p *RiskPredictor) Predict(ctx context.Context, obs models.RawStockObservation) (models.PredictionResult, error) {
	start := time.Now()
	defer func() { p.metrics.RecordLatency("predict", time.Since(start).Seconds()) }()

	return p.predictOne(ctx, "", models.SourceSingle, obs)
}

// PredictBatch scores entries concurrently. Failures are reported per entry
// and never fail the batch. Entries without a symbol are keyed
// UNKNOWN_<index>; repeated symbols are scored once.
func (p *RiskPredictor) PredictBatch(ctx context.Context, entries []BatchInput) models.BatchResponse {
	start := time.Now()
	defer func() { p.metrics.RecordLatency("predict_batch", time.Since(start).Seconds()) }()
	p.metrics.RecordBatchSize(len(entries))

	out := make(models.BatchResponse, len(entries))
	var mu sync.Mutex
	set := func(key string, item models.BatchItem) {
		mu.Lock()
		out[key] = item
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.BatchWorkers)

	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		key := strings.TrimSpace(e.Symbol)
		invalid := e.Invalid
		if key == "" {
			key = "UNKNOWN_" + strconv.Itoa(i)
			if invalid == nil {
				invalid = &models.ValidationError{Field: "symbol", Code: models.CodeRequired, Message: "symbol is required"}
			}
		}
		if _, dup := seen[key]; dup {
			p.log.Warn("duplicate symbol in batch skipped", logger.String("symbol", key), logger.Int("index", i))
			continue
		}
		seen[key] = struct{}{}

		if invalid != nil {
			p.fail(ctx, key, models.SourceBatch, invalid, 0)
			set(key, models.BatchItem{Error: models.EntryErrorFrom(invalid)})
			continue
		}

		g.Go(func() error {
			res, err := p.predictOne(ctx, key, models.SourceBatch, e.Observation)
			if err != nil {
				set(key, models.BatchItem{Error: models.EntryErrorFrom(err)})
				return nil
			}
			set(key, models.BatchItem{PredictionResult: &res})
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// predictOne runs one scoring attempt and emits exactly one audit record.
func (p *RiskPredictor) predictOne(ctx context.Context, symbol, source string, obs models.RawStockObservation) (models.PredictionResult, error) {
	start := time.Now()

	if ctx.Err() != nil {
		err := fmt.Errorf("%w before scoring started", models.ErrRequestTimeout)
		p.fail(ctx, symbol, source, err, time.Since(start))
		return models.PredictionResult{}, err
	}
	m := p.model.Load()
	if m == nil {
		p.fail(ctx, symbol, source, models.ErrModelUnavailable, time.Since(start))
		return models.PredictionResult{}, models.ErrModelUnavailable
	}
	if err := ValidateObservation(obs); err != nil {
		p.fail(ctx, symbol, source, err, time.Since(start))
		return models.PredictionResult{}, err
	}

	a := m.artifacts
	vec := a.Engineer().Derive(obs)
	key := cacheKey(a.Version, vec)

	res, hit := p.cached(ctx, key)
	if !hit {
		res = models.NewPredictionResult(a.PredictRaw(vec[:]), vec)
		p.store(ctx, key, res)
	}

	p.metrics.RecordPrediction(res.RiskLevel.String())
	p.record(ctx, &models.PredictionRecord{
		ID:           uuid.New(),
		Symbol:       util.NormalizeSymbol(symbol),
		Source:       source,
		ModelVersion: a.Version,
		Features:     vec.Slice(),
		RiskScore:    res.RiskScore,
		RiskLevel:    res.RiskLevel.String(),
		LatencyUS:    time.Since(start).Microseconds(),
		CreatedAt:    p.now().UTC(),
	})
	return res, nil
}

func (p *RiskPredictor) fail(ctx context.Context, symbol, source string, err error, took time.Duration) {
	pe := models.EntryErrorFrom(err)
	p.metrics.RecordError(strings.ToLower(strings.TrimPrefix(pe.Code, "ERR_")))

	var version string
	if m := p.model.Load(); m != nil {
		version = m.artifacts.Version
	}
	p.record(ctx, &models.PredictionRecord{
		ID:           uuid.New(),
		Symbol:       util.NormalizeSymbol(symbol),
		Source:       source,
		ModelVersion: version,
		ErrorCode:    pe.Code,
		ErrorMessage: pe.Message,
		LatencyUS:    took.Microseconds(),
		CreatedAt:    p.now().UTC(),
	})
}

// record never fails the prediction. It outlives the request deadline so a
// timed-out request is still audited.
func (p *RiskPredictor) record(ctx context.Context, rec *models.PredictionRecord) {
	if p.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RecordTimeout)
	defer cancel()
	if err := p.recorder.Record(ctx, rec); err != nil {
		p.metrics.RecordError("audit")
		p.log.Warn("prediction audit failed", logger.String("id", rec.ID.String()), logger.Error(err))
	}
}

func (p *RiskPredictor) cached(ctx context.Context, key string) (models.PredictionResult, bool) {
	if p.cache == nil {
		return models.PredictionResult{}, false
	}
	res, err := cache.GetJSON[models.PredictionResult](ctx, p.cache, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.log.Debug("prediction cache get failed", logger.Error(err))
		}
		return models.PredictionResult{}, false
	}
	return res, true
}

func (p *RiskPredictor) store(ctx context.Context, key string, res models.PredictionResult) {
	if p.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, p.cache, key, res, p.cfg.CacheTTL); err != nil {
		p.log.Debug("prediction cache set failed", logger.Error(err))
	}
}

// ValidateObservation enforces the input domain on both the single and
// batch paths.
func ValidateObservation(obs models.RawStockObservation) error {
	bad := func(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }
	switch {
	case obs.CurrentPrice <= 0 || bad(obs.CurrentPrice):
		return &models.ValidationError{Field: "current_price", Code: models.CodeInvalid, Message: "current_price must be greater than 0"}
	case obs.Volume < 0 || bad(obs.Volume):
		return &models.ValidationError{Field: "volume", Code: models.CodeInvalid, Message: "volume must be a non-negative number"}
	case obs.MarketCap < 0 || bad(obs.MarketCap):
		return &models.ValidationError{Field: "market_cap", Code: models.CodeInvalid, Message: "market_cap must be a non-negative number"}
	case obs.PreviousClose != nil && (*obs.PreviousClose <= 0 || bad(*obs.PreviousClose)):
		return &models.ValidationError{Field: "previous_close", Code: models.CodeInvalid, Message: "previous_close must be greater than 0"}
	case obs.DayChangePercent == nil && obs.PreviousClose == nil:
		return &models.ValidationError{Field: "day_change_percent", Code: models.CodeRequired, Message: "day_change_percent is required when previous_close is absent"}
	case obs.DayChangePercent != nil && bad(*obs.DayChangePercent):
		return &models.ValidationError{Field: "day_change_percent", Code: models.CodeInvalid, Message: "day_change_percent must be a finite number"}
	}
	return nil
}

// cacheKey identifies a result by model version and exact feature bits.
func cacheKey(version string, v models.FeatureVector) string {
	var b strings.Builder
	for _, f := range v {
		b.WriteString(strconv.FormatUint(math.Float64bits(f), 16))
		b.WriteByte(':')
	}
	return cache.GenerateKey("predict", version, cache.HashKey(b.String()))
}

package repository

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/services/features"
	"StockRisk/internal/services/ml"
	"StockRisk/pkg/objectstore"
)

func trainSmall(t *testing.T) *ml.Artifacts {
	t.Helper()
	rows, err := NewSyntheticSource(200, 42).Load(context.Background())
	require.NoError(t, err)

	obs := make([]models.RawStockObservation, len(rows))
	ds := ml.Dataset{Y: make([]float64, len(rows))}
	for i, r := range rows {
		obs[i] = r.Observation
		ds.Y[i] = r.RiskScore
	}
	ref := features.ReferenceVolume(obs)
	ds.X = features.NewEngineer(ref).DeriveAll(obs)

	p := ml.DefaultForestParams()
	p.Trees = 5
	forest, scaler, err := ml.Train(context.Background(), ds, p)
	require.NoError(t, err)
	scaler.ReferenceVolume = ref
	return &ml.Artifacts{Model: forest, Scaler: scaler}
}

func fixedClock(ts string) func() time.Time {
	return func() time.Time {
		t, _ := time.Parse(time.RFC3339, ts)
		return t
	}
}

func TestSyntheticSourceIsDeterministic(t *testing.T) {
	a, err := NewSyntheticSource(500, 42).Load(context.Background())
	require.NoError(t, err)
	b, err := NewSyntheticSource(500, 42).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, a, 500)
	assert.Equal(t, a, b)

	lo, hi := 100.0, 0.0
	for _, r := range a {
		assert.Greater(t, r.Observation.Volume, 0.0)
		assert.Greater(t, r.Observation.CurrentPrice, 0.0)
		lo, hi = min(lo, r.RiskScore), max(hi, r.RiskScore)
	}
	assert.InDelta(t, 0, lo, 1e-9)
	assert.InDelta(t, 100, hi, 1e-9)
}

func TestReadCSV(t *testing.T) {
	in := `risk_score,current_price,volume,market_cap,day_change_percent,previous_close
12.5,150.5,1000000,5e9,2.5,147.25
80,3.2,10,1000,,
`
	rows, err := ReadCSV(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 12.5, rows[0].RiskScore)
	assert.Equal(t, 2.5, *rows[0].Observation.DayChangePercent)
	assert.Equal(t, 147.25, *rows[0].Observation.PreviousClose)
	assert.Nil(t, rows[1].Observation.DayChangePercent)
	assert.Nil(t, rows[1].Observation.PreviousClose)
	assert.Equal(t, 3.2, rows[1].Observation.CurrentPrice)

	_, err = ReadCSV(context.Background(), strings.NewReader("volume,risk_score\n1,2\n"))
	assert.ErrorContains(t, err, "missing column")

	_, err = ReadCSV(context.Background(), strings.NewReader(
		"day_change_percent,volume,market_cap,current_price,previous_close,risk_score\n1,x,1,1,1,1\n"))
	assert.ErrorContains(t, err, "line 2: volume")
}

func TestFSModelStoreRoundTrip(t *testing.T) {
	store := NewFSModelStore(t.TempDir(), nil)
	store.now = fixedClock("2025-03-01T10:00:00Z")

	a := trainSmall(t)
	version, err := store.Save(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "20250301T100000Z", version)

	loaded, err := store.Load(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, version, loaded.Version)
	assert.Equal(t, a.Scaler.ReferenceVolume, loaded.Scaler.ReferenceVolume)

	obs := models.RawStockObservation{
		DayChangePercent: models.Float(2.5), Volume: 1e6, MarketCap: 5e9,
		CurrentPrice: 150.50, PreviousClose: models.Float(147.25),
	}
	assert.Equal(t, a.Predict(obs), loaded.Predict(obs))

	// no temp directories left behind
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, version, entries[0].Name())
}

func TestFSModelStoreLatestAndCollisions(t *testing.T) {
	store := NewFSModelStore(t.TempDir(), nil)
	store.now = fixedClock("2025-03-01T10:00:00Z")

	v1, err := store.Save(context.Background(), trainSmall(t))
	require.NoError(t, err)
	v2, err := store.Save(context.Background(), trainSmall(t))
	require.NoError(t, err)
	assert.Equal(t, "20250301T100001Z", v2, "same second bumps the version")

	versions, err := store.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{v1, v2}, versions)

	a, err := store.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, v2, a.Version)

	a, err = store.Load(context.Background(), v1)
	require.NoError(t, err)
	assert.Equal(t, v1, a.Version)
}

func TestFSModelStoreLoadIsAllOrNothing(t *testing.T) {
	store := NewFSModelStore(t.TempDir(), nil)

	_, err := store.Load(context.Background(), "latest")
	assert.ErrorIs(t, err, ErrNoVersions)

	store.now = fixedClock("2025-03-01T10:00:00Z")
	v, err := store.Save(context.Background(), trainSmall(t))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(store.Path(v), ScalerFile)))
	_, err = store.Load(context.Background(), v)
	assert.ErrorContains(t, err, "read scaler")

	// a scaler from another version is rejected
	store.now = fixedClock("2025-03-02T10:00:00Z")
	other, err := store.Save(context.Background(), trainSmall(t))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(store.Path(other), ScalerFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Path(v), ScalerFile), b, 0o644))
	_, err = store.Load(context.Background(), v)
	assert.ErrorIs(t, err, models.ErrArtifactMismatch)
}

type memObjects struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memObjects) Upload(_ context.Context, key string, body io.Reader) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = b
	return nil
}

func (m *memObjects) Download(_ context.Context, key string, w io.WriterAt) (int64, error) {
	m.mu.Lock()
	b, ok := m.objs[key]
	m.mu.Unlock()
	if !ok {
		return 0, objectstore.ErrNotFound
	}
	n, err := w.WriteAt(b, 0)
	return int64(n), err
}

func (m *memObjects) List(_ context.Context, prefix string) ([]objectstore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objectstore.Object
	for k, b := range m.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objectstore.Object{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

func TestS3ArtifactMirrorPublishFetchPrune(t *testing.T) {
	ctx := context.Background()
	remote := &memObjects{objs: map[string][]byte{}}

	src := NewFSModelStore(t.TempDir(), nil)
	mirror := NewS3ArtifactMirror(remote, src, "models", 2, nil)
	var versions []string
	for _, ts := range []string{"2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z", "2025-01-03T00:00:00Z"} {
		src.now = fixedClock(ts)
		v, err := src.Save(ctx, trainSmall(t))
		require.NoError(t, err)
		require.NoError(t, mirror.Publish(ctx, v))
		versions = append(versions, v)
	}

	// oldest version pruned
	assert.NotContains(t, remote.objs, "models/"+versions[0]+"/"+ModelFile)
	assert.Contains(t, remote.objs, "models/"+versions[2]+"/"+ScalerFile)
	assert.Len(t, remote.objs, 4)

	dst := NewFSModelStore(t.TempDir(), nil)
	got, err := NewS3ArtifactMirror(remote, dst, "models", 0, nil).Fetch(ctx, "latest")
	require.NoError(t, err)
	assert.Equal(t, versions[2], got)

	a, err := dst.Load(ctx, got)
	require.NoError(t, err)
	want, err := src.Load(ctx, got)
	require.NoError(t, err)
	obs := models.RawStockObservation{DayChangePercent: models.Float(-1), Volume: 5e5, MarketCap: 1e8, CurrentPrice: 12}
	assert.Equal(t, want.Predict(obs), a.Predict(obs))

	_, err = NewS3ArtifactMirror(remote, dst, "models", 0, nil).Fetch(ctx, versions[0])
	assert.True(t, errors.Is(err, objectstore.ErrNotFound))
}

func TestSQLiteRecorder(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "audit", "predictions.db"))
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	ok := &models.PredictionRecord{
		ID: uuid.New(), Symbol: "AAPL", Source: models.SourceSingle, ModelVersion: "20250101T000000Z",
		Features: []float64{1, 2, 3}, RiskScore: 42.5, RiskLevel: "Medium", CreatedAt: time.Now().UTC(),
	}
	failed := &models.PredictionRecord{
		ID: uuid.New(), Symbol: "BAD", Source: models.SourceBatch,
		ErrorCode: models.CodeInvalid, ErrorMessage: "current_price must be greater than 0",
		CreatedAt: ok.CreatedAt.Add(time.Millisecond),
	}
	require.NoError(t, r.Record(ctx, ok))
	require.NoError(t, r.Record(ctx, failed))

	recs, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, failed.ID, recs[0].ID)
	assert.True(t, recs[0].Failed())
	assert.Equal(t, ok.ID, recs[1].ID)
	assert.Equal(t, []float64{1, 2, 3}, recs[1].Features)
	assert.Equal(t, 42.5, recs[1].RiskScore)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, *models.PredictionRecord) error {
	f.calls++
	return errors.New("sink down")
}
func (f *failingRecorder) Close() error { return nil }

func TestMultiRecorderTriesEverySink(t *testing.T) {
	a, b := &failingRecorder{}, &failingRecorder{}
	err := NewMultiRecorder(a, b).Record(context.Background(), &models.PredictionRecord{})
	assert.ErrorContains(t, err, "sink down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

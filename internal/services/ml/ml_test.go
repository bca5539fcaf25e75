package ml

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockRisk/internal/domain/models"
)

// linearDataset builds rows whose label depends on the first two columns.
func linearDataset(n int, seed uint64) Dataset {
	rng := rand.New(rand.NewPCG(seed, 1))
	d := Dataset{X: make([][]float64, n), Y: make([]float64, n)}
	for i := range d.X {
		row := make([]float64, models.NumFeatures)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		d.X[i] = row
		d.Y[i] = 50 + 10*row[0] - 5*row[1]
	}
	return d
}

func smallParams() ForestParams {
	p := DefaultForestParams()
	p.Trees = 12
	p.MaxDepth = 6
	return p
}

func TestTreeLearnsStep(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {10}, {11}, {12}}
	y := []float64{0, 0, 0, 100, 100, 100}
	tree := fitTree(X, y, []int{0, 1, 2, 3, 4, 5}, treeParams{maxDepth: 3, minSamplesSplit: 2, minSamplesLeaf: 1})

	assert.Equal(t, 1, tree.Depth())
	assert.Equal(t, 0.0, tree.Predict([]float64{2.5}))
	assert.Equal(t, 100.0, tree.Predict([]float64{11}))
	assert.InDelta(t, 6.5, tree.Nodes[0].Threshold, 1e-12)
}

func TestTreeRespectsMaxDepth(t *testing.T) {
	d := linearDataset(200, 3)
	idx := make([]int, d.Len())
	for i := range idx {
		idx[i] = i
	}
	tree := fitTree(d.X, d.Y, idx, treeParams{maxDepth: 4, minSamplesSplit: 2, minSamplesLeaf: 1})
	assert.LessOrEqual(t, tree.Depth(), 4)
}

func TestScalerStandardises(t *testing.T) {
	X := [][]float64{{1, 5}, {3, 5}}
	s, err := FitScaler(X, []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale) // constant column keeps scale 1
	assert.Equal(t, []float64{-1, 0}, s.Transform([]float64{1, 5}))
}

func TestTrainIsDeterministic(t *testing.T) {
	d := linearDataset(300, 7)

	f1, s1, err := Train(context.Background(), d, smallParams())
	require.NoError(t, err)
	p := smallParams()
	p.Workers = 1
	f2, s2, err := Train(context.Background(), d, p)
	require.NoError(t, err)

	a1 := NewArtifacts("v", f1, s1, models.EvaluationMetrics{})
	a2 := NewArtifacts("v", f2, s2, models.EvaluationMetrics{})
	for _, row := range d.X[:50] {
		assert.Equal(t, a1.PredictRaw(row), a2.PredictRaw(row))
	}
}

func TestTrainRejectsBadDatasets(t *testing.T) {
	tests := []struct {
		name string
		ds   Dataset
	}{
		{"empty", Dataset{}},
		{"label mismatch", Dataset{X: [][]float64{make([]float64, models.NumFeatures)}, Y: []float64{1, 2}}},
		{"ragged", Dataset{X: [][]float64{make([]float64, models.NumFeatures), {1}}, Y: []float64{1, 2}}},
		{"wrong width", Dataset{X: [][]float64{{1, 2}}, Y: []float64{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Train(context.Background(), tt.ds, smallParams())
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrFatalTraining))
		})
	}
}

func TestSplitAndEvaluate(t *testing.T) {
	d := linearDataset(500, 11)
	train, test := Split(d, 0.2, 42)
	assert.Equal(t, 400, train.Len())
	assert.Equal(t, 100, test.Len())

	f, s, err := Train(context.Background(), train, smallParams())
	require.NoError(t, err)
	m := Evaluate(NewArtifacts("v", f, s, models.EvaluationMetrics{}), test)

	assert.Equal(t, 100, m.TestSize)
	assert.Greater(t, m.R2, 0.5)
	assert.InDelta(t, m.MSE, m.RMSE*m.RMSE, 1e-9)
}

func TestArtifactsRoundTripIsBitIdentical(t *testing.T) {
	d := linearDataset(200, 5)
	f, s, err := Train(context.Background(), d, smallParams())
	require.NoError(t, err)
	s.ReferenceVolume = 1234.5
	a := NewArtifacts("20250101T000000Z", f, s, models.EvaluationMetrics{MSE: 1.5})

	mb, sb, err := EncodeArtifacts(a)
	require.NoError(t, err)
	back, err := DecodeArtifacts(mb, sb)
	require.NoError(t, err)

	assert.Equal(t, a.Version, back.Version)
	assert.Equal(t, 1234.5, back.Scaler.ReferenceVolume)
	assert.Equal(t, 1.5, back.Metrics.MSE)
	for _, row := range d.X {
		assert.Equal(t, a.PredictRaw(row), back.PredictRaw(row))
	}
}

func TestDecodeRejectsMismatchedPair(t *testing.T) {
	d := linearDataset(100, 9)
	f1, s1, err := Train(context.Background(), d, smallParams())
	require.NoError(t, err)
	f2, s2, err := Train(context.Background(), d, smallParams())
	require.NoError(t, err)

	m1, _, err := EncodeArtifacts(NewArtifacts("20250101T000000Z", f1, s1, models.EvaluationMetrics{}))
	require.NoError(t, err)
	_, s2b, err := EncodeArtifacts(NewArtifacts("20250102T000000Z", f2, s2, models.EvaluationMetrics{}))
	require.NoError(t, err)

	_, err = DecodeArtifacts(m1, s2b)
	assert.ErrorIs(t, err, models.ErrArtifactMismatch)

	_, err = DecodeArtifacts([]byte("junk"), s2b)
	assert.Error(t, err)
}

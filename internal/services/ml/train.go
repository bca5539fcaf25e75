package ml

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"StockRisk/internal/domain/models"
)

// Train fits the scaler on the full matrix of ds, then fits the forest on
// the scaled rows.
func Train(ctx context.Context, ds Dataset, p ForestParams) (*Forest, *StandardScaler, error) {
	if err := ds.Validate(); err != nil {
		return nil, nil, err
	}
	names := models.FeatureNames[:]
	if len(ds.X[0]) != len(names) {
		return nil, nil, fmt.Errorf("%w: %d columns, want %d", ErrShape, len(ds.X[0]), len(names))
	}

	scaler, err := FitScaler(ds.X, names)
	if err != nil {
		return nil, nil, fmt.Errorf("fit scaler: %w", err)
	}
	forest, err := FitForest(ctx, scaler.TransformAll(ds.X), ds.Y, p)
	if err != nil {
		return nil, nil, err
	}
	return forest, scaler, nil
}

// Evaluate scores a on the unscaled rows of test.
func Evaluate(a *Artifacts, test Dataset) models.EvaluationMetrics {
	m := models.EvaluationMetrics{TestSize: test.Len()}
	if test.Len() == 0 {
		return m
	}

	pred := make([]float64, test.Len())
	var sse float64
	for i, row := range test.X {
		pred[i] = a.PredictRaw(row)
		d := pred[i] - test.Y[i]
		sse += d * d
	}
	m.MSE = sse / float64(test.Len())
	m.RMSE = math.Sqrt(m.MSE)
	if test.Len() > 1 {
		m.R2 = stat.RSquaredFrom(pred, test.Y, nil)
	}
	return m
}

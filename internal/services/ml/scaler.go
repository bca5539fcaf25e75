package ml

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardises each feature to zero mean and unit variance
// using population statistics of the training matrix. It also carries the
// feature-engineering constants that must match between training and serving.
type StandardScaler struct {
	Version         string    `msgpack:"version"`
	Features        []string  `msgpack:"features"`
	Mean            []float64 `msgpack:"mean"`
	Scale           []float64 `msgpack:"scale"`
	ReferenceVolume float64   `msgpack:"reference_volume"`
}

// FitScaler computes per-column mean and standard deviation of X. Columns
// with zero deviation get a scale of 1.
func FitScaler(X [][]float64, features []string) (*StandardScaler, error) {
	if len(X) == 0 {
		return nil, ErrEmptyDataset
	}
	width := len(X[0])
	if len(features) != width {
		return nil, fmt.Errorf("%w: %d feature names for %d columns", ErrShape, len(features), width)
	}

	s := &StandardScaler{
		Features: append([]string(nil), features...),
		Mean:     make([]float64, width),
		Scale:    make([]float64, width),
	}
	col := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			if len(row) != width {
				return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), width)
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s, nil
}

// Width is the number of features the scaler was fitted on.
func (s *StandardScaler) Width() int { return len(s.Mean) }

// Transform returns the standardised copy of x.
func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// TransformAll standardises every row of X.
func (s *StandardScaler) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}

package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"StockRisk/internal/domain/models"
)

var (
	ErrEmptyDataset = fmt.Errorf("%w: empty dataset", models.ErrFatalTraining)
	ErrShape        = fmt.Errorf("%w: feature/label shape mismatch", models.ErrFatalTraining)
	ErrParams       = errors.New("invalid training parameters")
)

// Dataset is a feature matrix with one label per row.
type Dataset struct {
	X [][]float64
	Y []float64
}

// Len is the number of rows.
func (d Dataset) Len() int { return len(d.X) }

// Validate checks that d is non-empty, rectangular, finite and has one label
// per row.
func (d Dataset) Validate() error {
	if err := checkShape(d.X, d.Y); err != nil {
		return err
	}
	for i, row := range d.X {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value at row %d column %d", ErrShape, i, j)
			}
		}
		if math.IsNaN(d.Y[i]) || math.IsInf(d.Y[i], 0) {
			return fmt.Errorf("%w: non-finite label at row %d", ErrShape, i)
		}
	}
	return nil
}

func checkShape(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return ErrEmptyDataset
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrShape, len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return fmt.Errorf("%w: zero-width rows", ErrShape)
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), width)
		}
	}
	return nil
}

// Split shuffles d with seed and holds out testFraction of the rows. The
// training part always keeps at least one row.
func Split(d Dataset, testFraction float64, seed uint64) (train, test Dataset) {
	n := d.Len()
	nTest := int(math.Ceil(float64(n)*testFraction - 1e-9))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}

	perm := rand.New(rand.NewPCG(seed, 0)).Perm(n)
	pick := func(ids []int) Dataset {
		out := Dataset{X: make([][]float64, len(ids)), Y: make([]float64, len(ids))}
		for k, i := range ids {
			out.X[k], out.Y[k] = d.X[i], d.Y[i]
		}
		return out
	}
	return pick(perm[nTest:]), pick(perm[:nTest])
}

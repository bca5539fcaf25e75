package ml

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestParams configures a bagged regression forest.
type ForestParams struct {
	Trees           int    `msgpack:"trees"`
	MaxDepth        int    `msgpack:"max_depth"`
	MinSamplesSplit int    `msgpack:"min_samples_split"`
	MinSamplesLeaf  int    `msgpack:"min_samples_leaf"`
	Seed            uint64 `msgpack:"seed"`
	Workers         int    `msgpack:"-"`
}

// DefaultForestParams returns 100 trees of depth at most 10, seeded with 42.
func DefaultForestParams() ForestParams {
	return ForestParams{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 5,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

func (p ForestParams) validate() error {
	if p.Trees <= 0 || p.MaxDepth <= 0 || p.MinSamplesSplit < 2 || p.MinSamplesLeaf < 1 {
		return fmt.Errorf("%w: invalid forest parameters %+v", ErrParams, p)
	}
	return nil
}

// Forest averages the predictions of bootstrap-trained trees.
type Forest struct {
	Version     string       `msgpack:"version"`
	NumFeatures int          `msgpack:"num_features"`
	Params      ForestParams `msgpack:"params"`
	Trees       []Tree       `msgpack:"trees"`
}

// FitForest trains p.Trees trees in parallel. Tree i draws its bootstrap
// sample from a PCG stream seeded with (p.Seed, i), so the result does not
// depend on scheduling.
func FitForest(ctx context.Context, X [][]float64, y []float64, p ForestParams) (*Forest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := checkShape(X, y); err != nil {
		return nil, err
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	f := &Forest{
		NumFeatures: len(X[0]),
		Params:      p,
		Trees:       make([]Tree, p.Trees),
	}
	tp := treeParams{
		maxDepth:        p.MaxDepth,
		minSamplesSplit: p.MinSamplesSplit,
		minSamplesLeaf:  p.MinSamplesLeaf,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := 0; t < p.Trees; t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(p.Seed, uint64(t)))
			idx := make([]int, len(X))
			for i := range idx {
				idx[i] = rng.IntN(len(X))
			}
			f.Trees[t] = fitTree(X, y, idx, tp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	return f, nil
}

// Predict returns the mean tree output for an already scaled row.
func (f *Forest) Predict(x []float64) float64 {
	var s float64
	for i := range f.Trees {
		s += f.Trees[i].Predict(x)
	}
	return s / float64(len(f.Trees))
}

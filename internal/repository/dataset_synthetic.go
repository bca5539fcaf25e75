package repository

import (
	"context"
	"math"
	"math/rand/v2"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/domain/repository"
)

// SyntheticSource draws random observations and labels them with a fixed
// heuristic. It stands in for real historical data.
type SyntheticSource struct {
	Samples int
	Seed    uint64
}

var _ repository.DatasetSource = (*SyntheticSource)(nil)

func NewSyntheticSource(samples int, seed uint64) *SyntheticSource {
	return &SyntheticSource{Samples: samples, Seed: seed}
}

func (s *SyntheticSource) Name() string { return "synthetic" }

// Load generates s.Samples rows. The same seed always yields the same rows.
func (s *SyntheticSource) Load(ctx context.Context) ([]models.LabeledObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.Samples
	if n <= 0 {
		return nil, nil
	}

	rng := rand.New(rand.NewPCG(s.Seed, 0))
	normal := func(mu, sigma float64) float64 { return mu + sigma*rng.NormFloat64() }
	lognormal := func(mu, sigma float64) float64 { return math.Exp(normal(mu, sigma)) }

	out := make([]models.LabeledObservation, n)
	var volumeSum, maxCap float64
	for i := range out {
		obs := models.RawStockObservation{
			DayChangePercent: models.Float(normal(0, 3)),
			Volume:           lognormal(15, 1),
			MarketCap:        lognormal(20, 2),
			CurrentPrice:     lognormal(4, 1),
			PreviousClose:    models.Float(lognormal(4, 1)),
		}
		volumeSum += obs.Volume
		maxCap = math.Max(maxCap, obs.MarketCap)
		out[i].Observation = obs
	}
	meanVolume := volumeSum / float64(n)

	raw := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, row := range out {
		o := row.Observation
		volatility := math.Abs(*o.DayChangePercent)
		changeRatio := math.Abs(o.CurrentPrice-*o.PreviousClose) / *o.PreviousClose
		volumeRatio := o.Volume / meanVolume

		raw[i] = volatility*10 +
			(1/(o.MarketCap/maxCap))*30 +
			changeRatio*100*20 +
			(1/(volumeRatio+0.1))*20
		lo, hi = math.Min(lo, raw[i]), math.Max(hi, raw[i])
	}
	for i := range out {
		if hi > lo {
			out[i].RiskScore = (raw[i] - lo) / (hi - lo) * 100
		}
	}
	return out, nil
}

package features

import (
	"math"

	"StockRisk/internal/domain/models"
)

// DefaultVolatilityScale maps |day_change_percent| to price_volatility 1:1.
const DefaultVolatilityScale = 1.0

// Engineer derives model inputs from raw observations. The same Engineer
// configuration (persisted in the scaler artifact) must be used at training
// and serving time.
type Engineer struct {
	ReferenceVolume float64
	VolatilityScale float64
}

// NewEngineer returns an Engineer with the default volatility scale.
func NewEngineer(referenceVolume float64) Engineer {
	return Engineer{ReferenceVolume: referenceVolume, VolatilityScale: DefaultVolatilityScale}
}

// Derive computes the feature vector of obs. It never fails: missing or
// non-finite inputs are replaced by 0.
func (e Engineer) Derive(obs models.RawStockObservation) models.FeatureVector {
	volume := finite(obs.Volume)
	marketCap := finite(obs.MarketCap)
	price := finite(obs.CurrentPrice)

	var prev float64
	if obs.PreviousClose != nil {
		prev = finite(*obs.PreviousClose)
	}

	var dcp float64
	switch {
	case obs.DayChangePercent != nil:
		dcp = finite(*obs.DayChangePercent)
	case prev != 0:
		dcp = finite((price - prev) / prev * 100)
	}

	var changeRatio float64
	if prev != 0 {
		changeRatio = finite((price - prev) / prev)
	}

	var volumeRatio float64
	if e.ReferenceVolume > 0 {
		volumeRatio = finite(volume / e.ReferenceVolume)
	}

	scale := e.VolatilityScale
	if scale == 0 {
		scale = DefaultVolatilityScale
	}

	var v models.FeatureVector
	v[models.FeatDayChangePercent] = dcp
	v[models.FeatVolume] = volume
	v[models.FeatMarketCap] = marketCap
	v[models.FeatCurrentPrice] = price
	v[models.FeatPriceVolatility] = finite(math.Abs(dcp) * scale)
	v[models.FeatVolumeRatio] = volumeRatio
	v[models.FeatPriceChangeRatio] = changeRatio
	return v
}

// DeriveAll derives features for every observation.
func (e Engineer) DeriveAll(obs []models.RawStockObservation) [][]float64 {
	out := make([][]float64, len(obs))
	for i, o := range obs {
		out[i] = e.Derive(o).Slice()
	}
	return out
}

// ReferenceVolume is the mean finite volume of obs, or 0 when there is none.
func ReferenceVolume(obs []models.RawStockObservation) float64 {
	var sum float64
	var n int
	for _, o := range obs {
		if v := finite(o.Volume); v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

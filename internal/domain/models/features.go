package models

// NumFeatures is the width of a FeatureVector.
const NumFeatures = 7

// Feature positions inside a FeatureVector. The order is part of the model
// artifact format and must never change.
const (
	FeatDayChangePercent = iota
	FeatVolume
	FeatMarketCap
	FeatCurrentPrice
	FeatPriceVolatility
	FeatVolumeRatio
	FeatPriceChangeRatio
)

// FeatureNames lists the features in vector order.
var FeatureNames = [NumFeatures]string{
	"day_change_percent",
	"volume",
	"market_cap",
	"current_price",
	"price_volatility",
	"volume_ratio",
	"price_change_ratio",
}

// FeatureVector is the fixed-order model input.
type FeatureVector [NumFeatures]float64

// Map returns the named feature values, as echoed in features_used.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, name := range FeatureNames {
		m[name] = v[i]
	}
	return m
}

// Slice returns a copy of v as a slice.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, NumFeatures)
	copy(out, v[:])
	return out
}

package models

import (
	"math"

	"github.com/shopspring/decimal"
)

// Score bounds of a PredictionResult.
const (
	MinRiskScore = 0.0
	MaxRiskScore = 100.0
)

// PredictionResult is what the service returns for one observation.
type PredictionResult struct {
	RiskScore    float64            `json:"risk_score"`
	RiskLevel    RiskLevel          `json:"risk_level"`
	FeaturesUsed map[string]float64 `json:"features_used"`
}

// NewPredictionResult clamps the raw model output to [0,100], rounds it to
// two decimals and derives the level from the rounded score.
func NewPredictionResult(raw float64, features FeatureVector) PredictionResult {
	score := NormalizeScore(raw)
	return PredictionResult{
		RiskScore:    score,
		RiskLevel:    RiskLevelFromScore(score),
		FeaturesUsed: features.Map(),
	}
}

// NormalizeScore clamps to [0,100] and rounds half away from zero to 2dp.
// NaN maps to 0.
func NormalizeScore(raw float64) float64 {
	if math.IsNaN(raw) {
		return MinRiskScore
	}
	clamped := math.Min(MaxRiskScore, math.Max(MinRiskScore, raw))
	return decimal.NewFromFloat(clamped).Round(2).InexactFloat64()
}

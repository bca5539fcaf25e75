package ml

import (
	"fmt"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/services/features"
)

// Artifacts is a matched model and scaler pair of one version. It is
// immutable once built and safe for concurrent use.
type Artifacts struct {
	Version string
	Model   *Forest
	Scaler  *StandardScaler
	Metrics models.EvaluationMetrics
}

// NewArtifacts pairs model and scaler under version.
func NewArtifacts(version string, model *Forest, scaler *StandardScaler, metrics models.EvaluationMetrics) *Artifacts {
	model.Version = version
	scaler.Version = version
	return &Artifacts{Version: version, Model: model, Scaler: scaler, Metrics: metrics}
}

// Validate rejects pairs that were not trained together.
func (a *Artifacts) Validate() error {
	switch {
	case a.Model == nil || a.Scaler == nil:
		return fmt.Errorf("%w: incomplete artifacts", models.ErrArtifactMismatch)
	case len(a.Model.Trees) == 0:
		return fmt.Errorf("%w: model has no trees", models.ErrArtifactMismatch)
	case a.Model.Version != a.Version || a.Scaler.Version != a.Version:
		return fmt.Errorf("%w: model %q scaler %q want %q",
			models.ErrArtifactMismatch, a.Model.Version, a.Scaler.Version, a.Version)
	case a.Model.NumFeatures != models.NumFeatures || a.Scaler.Width() != models.NumFeatures || len(a.Scaler.Scale) != models.NumFeatures:
		return fmt.Errorf("%w: feature count model=%d scaler=%d want %d",
			models.ErrArtifactMismatch, a.Model.NumFeatures, a.Scaler.Width(), models.NumFeatures)
	}
	for i, name := range a.Scaler.Features {
		if name != models.FeatureNames[i] {
			return fmt.Errorf("%w: feature %d is %q, want %q", models.ErrArtifactMismatch, i, name, models.FeatureNames[i])
		}
	}
	return nil
}

// Engineer returns the feature engineer the scaler was fitted with.
func (a *Artifacts) Engineer() features.Engineer {
	return features.NewEngineer(a.Scaler.ReferenceVolume)
}

// PredictRaw scales x and returns the unclamped forest output.
func (a *Artifacts) PredictRaw(x []float64) float64 {
	return a.Model.Predict(a.Scaler.Transform(x))
}

// Predict derives features from obs and scores them.
func (a *Artifacts) Predict(obs models.RawStockObservation) models.PredictionResult {
	v := a.Engineer().Derive(obs)
	return models.NewPredictionResult(a.PredictRaw(v[:]), v)
}

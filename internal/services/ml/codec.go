package ml

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"StockRisk/internal/domain/models"
)

const (
	modelKind   = "stockrisk.forest"
	scalerKind  = "stockrisk.scaler"
	formatLevel = 1
)

type modelFile struct {
	Kind    string                   `msgpack:"kind"`
	Format  int                      `msgpack:"format"`
	Metrics models.EvaluationMetrics `msgpack:"metrics"`
	Forest  *Forest                  `msgpack:"forest"`
}

type scalerFile struct {
	Kind   string          `msgpack:"kind"`
	Format int             `msgpack:"format"`
	Scaler *StandardScaler `msgpack:"scaler"`
}

// EncodeArtifacts serialises the model and scaler of a. Floats are written
// as float64 so a decoded pair predicts bit-identically.
func EncodeArtifacts(a *Artifacts) (model, scaler []byte, err error) {
	if err := a.Validate(); err != nil {
		return nil, nil, err
	}
	model, err = msgpack.Marshal(&modelFile{Kind: modelKind, Format: formatLevel, Metrics: a.Metrics, Forest: a.Model})
	if err != nil {
		return nil, nil, fmt.Errorf("encode model: %w", err)
	}
	scaler, err = msgpack.Marshal(&scalerFile{Kind: scalerKind, Format: formatLevel, Scaler: a.Scaler})
	if err != nil {
		return nil, nil, fmt.Errorf("encode scaler: %w", err)
	}
	return model, scaler, nil
}

// DecodeArtifacts is the inverse of EncodeArtifacts. The pair must carry the
// same version.
func DecodeArtifacts(model, scaler []byte) (*Artifacts, error) {
	var mf modelFile
	if err := msgpack.Unmarshal(model, &mf); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	var sf scalerFile
	if err := msgpack.Unmarshal(scaler, &sf); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if mf.Kind != modelKind || sf.Kind != scalerKind {
		return nil, fmt.Errorf("%w: unexpected kinds %q/%q", models.ErrArtifactMismatch, mf.Kind, sf.Kind)
	}
	if mf.Format != formatLevel || sf.Format != formatLevel {
		return nil, fmt.Errorf("%w: unsupported format %d/%d", models.ErrArtifactMismatch, mf.Format, sf.Format)
	}
	if mf.Forest == nil || sf.Scaler == nil {
		return nil, fmt.Errorf("%w: empty artifact", models.ErrArtifactMismatch)
	}

	a := &Artifacts{Version: mf.Forest.Version, Model: mf.Forest, Scaler: sf.Scaler, Metrics: mf.Metrics}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Prediction call sites.
const (
	SourceSingle = "single"
	SourceBatch  = "batch"
)

// PredictionRecord is the audit trail of one prediction attempt. Failed
// attempts carry an error code and no score.
type PredictionRecord struct {
	ID           uuid.UUID `json:"id"`
	Symbol       string    `json:"symbol,omitempty"`
	Source       string    `json:"source"`
	ModelVersion string    `json:"model_version,omitempty"`
	Features     []float64 `json:"features,omitempty"`
	RiskScore    float64   `json:"risk_score"`
	RiskLevel    string    `json:"risk_level,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LatencyUS    int64     `json:"latency_us"`
	CreatedAt    time.Time `json:"created_at"`
}

// Failed reports whether the attempt produced no score.
func (r PredictionRecord) Failed() bool {
	return r.ErrorCode != ""
}

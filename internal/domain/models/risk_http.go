package models

import (
	"encoding/json"
	"time"
)

// Requests and responses of the prediction HTTP API.

// PredictRequest is the body of POST /predict. Pointers distinguish absent
// fields from explicit zeros.
type PredictRequest struct {
	DayChangePercent *float64 `json:"day_change_percent" validate:"required_without=PreviousClose"`
	Volume           *float64 `json:"volume" default:"0" validate:"gte=0,integer"`
	MarketCap        *float64 `json:"market_cap" default:"0" validate:"gte=0"`
	CurrentPrice     *float64 `json:"current_price" validate:"required,gt=0"`
	PreviousClose    *float64 `json:"previous_close" validate:"omitempty,gt=0"`
}

// Observation converts a validated request. Absent numeric inputs become 0.
func (r PredictRequest) Observation() RawStockObservation {
	obs := RawStockObservation{
		DayChangePercent: r.DayChangePercent,
		PreviousClose:    r.PreviousClose,
	}
	if r.Volume != nil {
		obs.Volume = *r.Volume
	}
	if r.MarketCap != nil {
		obs.MarketCap = *r.MarketCap
	}
	if r.CurrentPrice != nil {
		obs.CurrentPrice = *r.CurrentPrice
	}
	return obs
}

// BatchStock is one entry of a batch request.
type BatchStock struct {
	Symbol string `json:"symbol" validate:"required,max=32"`
	PredictRequest
}

// BatchPredictRequest is the body of POST /predict/batch. Entries stay raw
// until decoded one by one, so a bad entry cannot fail its siblings.
type BatchPredictRequest struct {
	Stocks []json.RawMessage `json:"stocks" validate:"required,min=1"`
}

// BatchItem is either a result or an error, never both.
type BatchItem struct {
	*PredictionResult
	Error *PerEntryError `json:"error,omitempty"`
}

// BatchResponse maps each submitted symbol to its outcome.
type BatchResponse map[string]BatchItem

type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

type ReadyResponse struct {
	Status       string     `json:"status"`
	Ready        bool       `json:"ready"`
	ModelVersion string     `json:"model_version,omitempty"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
}

// RetrainRequest is the body of POST /admin/retrain. An empty source uses
// the configured one.
type RetrainRequest struct {
	Source string `json:"source" validate:"omitempty,oneof=synthetic csv clickhouse"`
}

type RetrainResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

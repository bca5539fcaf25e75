package models

import "time"

// EvaluationMetrics are computed on the hold-out split.
type EvaluationMetrics struct {
	MSE       float64 `json:"mse" msgpack:"mse"`
	RMSE      float64 `json:"rmse" msgpack:"rmse"`
	R2        float64 `json:"r2" msgpack:"r2"`
	TrainSize int     `json:"train_size" msgpack:"train_size"`
	TestSize  int     `json:"test_size" msgpack:"test_size"`
}

// TrainingReport summarises one completed training run.
type TrainingReport struct {
	Version   string            `json:"version"`
	Source    string            `json:"source"`
	Samples   int               `json:"samples"`
	Metrics   EvaluationMetrics `json:"metrics"`
	Duration  time.Duration     `json:"duration"`
	Published bool              `json:"published"`
}

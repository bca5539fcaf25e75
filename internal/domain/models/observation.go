package models

// RawStockObservation is one market snapshot as supplied by a caller or a
// dataset. Optional inputs are nil when absent.
type RawStockObservation struct {
	DayChangePercent *float64
	Volume           float64
	MarketCap        float64
	CurrentPrice     float64
	PreviousClose    *float64
}

// LabeledObservation pairs an observation with its training target.
type LabeledObservation struct {
	Observation RawStockObservation
	RiskScore   float64
}

// Float returns a pointer to v, for optional observation fields.
func Float(v float64) *float64 { return &v }

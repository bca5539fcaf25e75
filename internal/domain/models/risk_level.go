package models

import "fmt"

// Score thresholds separating the risk levels.
const (
	MediumRiskThreshold = 30.0
	HighRiskThreshold   = 60.0
)

// RiskLevel is an immutable value object representing the risk classification.
type RiskLevel struct {
	value string
}

var (
	RiskLevelLow    = RiskLevel{value: "Low"}
	RiskLevelMedium = RiskLevel{value: "Medium"}
	RiskLevelHigh   = RiskLevel{value: "High"}
)

// RiskLevelFromString reconstructs a RiskLevel from its string representation.
func RiskLevelFromString(s string) (RiskLevel, error) {
	switch s {
	case "Low":
		return RiskLevelLow, nil
	case "Medium":
		return RiskLevelMedium, nil
	case "High":
		return RiskLevelHigh, nil
	default:
		return RiskLevel{}, fmt.Errorf("invalid risk level: %q", s)
	}
}

// RiskLevelFromScore maps a score in [0,100] to its level.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= HighRiskThreshold:
		return RiskLevelHigh
	case score >= MediumRiskThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

func (r RiskLevel) String() string {
	return r.value
}

// IsZero returns true if the RiskLevel has not been set.
func (r RiskLevel) IsZero() bool {
	return r.value == ""
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("risk level is not set")
	}
	return []byte(r.value), nil
}

func (r *RiskLevel) UnmarshalText(b []byte) error {
	lvl, err := RiskLevelFromString(string(b))
	if err != nil {
		return err
	}
	*r = lvl
	return nil
}

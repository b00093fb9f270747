package models

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel grades cascade risk. Levels are ordered; comparisons use the
// numeric value.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
	RiskExtreme
)

func (l RiskLevel) String() string {
	switch l {
	case RiskNone:
		return "NONE"
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	case RiskExtreme:
		return "EXTREME"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the level name so assessments serialize readably.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a serialized level name back to its value.
func (l *RiskLevel) UnmarshalText(text []byte) error {
	lvl, ok := ParseRiskLevel(string(text))
	if !ok {
		return fmt.Errorf("unknown risk level %q", string(text))
	}
	*l = lvl
	return nil
}

// ParseRiskLevel maps a level name to its value; unknown names report false.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return RiskNone, true
	case "LOW":
		return RiskLow, true
	case "MEDIUM":
		return RiskMedium, true
	case "HIGH":
		return RiskHigh, true
	case "CRITICAL":
		return RiskCritical, true
	case "EXTREME":
		return RiskExtreme, true
	default:
		return RiskNone, false
	}
}

// RiskFactors are the named sub-scores feeding the weighted risk score, each
// in [0, 100].
type RiskFactors struct {
	VelocityScore     float64 `json:"velocity_score"`
	AccelerationScore float64 `json:"acceleration_score"`
	CorrelationScore  float64 `json:"correlation_score"`
	VolumeScore       float64 `json:"volume_score"`
}

// CascadeRiskAssessment is the graded output of the risk calculator.
type CascadeRiskAssessment struct {
	Symbol      string      `json:"symbol"`
	TimeMs      int64       `json:"time_ms"`
	RiskLevel   RiskLevel   `json:"risk_level"`
	RiskScore   float64     `json:"risk_score"`
	RiskFactors RiskFactors `json:"risk_factors"`
	Action      string      `json:"action"`
	Confidence  float64     `json:"confidence"`
	Explanation string      `json:"explanation"`
}

// CascadeEvent is one detected cascade episode: opened when risk first
// reaches HIGH, closed after risk stays below MEDIUM for the cooldown.
type CascadeEvent struct {
	Symbol            string    `json:"symbol"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	PeakLevel         RiskLevel `json:"peak_level"`
	PeakScore         float64   `json:"peak_score"`
	TotalValueUSD     float64   `json:"total_value_usd"`
	AssessmentCount   int       `json:"assessment_count"`
	ExchangesInvolved []Exchange `json:"exchanges_involved,omitempty"`
}

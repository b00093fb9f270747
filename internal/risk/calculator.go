package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"

	appconfig "liqflow/config"
	"liqflow/internal/models"
)

// Calculator grades cascade risk from velocity metrics and cross-exchange
// correlation. Calculate is pure and total: any input, including all zeroes,
// yields a valid assessment.
type Calculator struct {
	wVelocity     float64
	wAcceleration float64
	wCorrelation  float64
	wVolume       float64

	baselineVelocity     float64
	baselineAcceleration float64
	baselineVolumeUSD    float64

	minEvents int
}

// NewCalculator normalizes the configured weights so they sum to one.
func NewCalculator(cfg *appconfig.Config) *Calculator {
	w := cfg.Risk.Weights
	total := w.Velocity + w.Acceleration + w.Correlation + w.Volume
	if total <= 0 {
		w.Velocity, w.Acceleration, w.Correlation, w.Volume = 0.30, 0.30, 0.20, 0.20
		total = 1
	}

	b := cfg.Risk.Baselines
	if b.VelocityPerSecond <= 0 {
		b.VelocityPerSecond = 1.0
	}
	if b.AccelerationPerSec <= 0 {
		b.AccelerationPerSec = 0.5
	}
	if b.VolumeUSD <= 0 {
		b.VolumeUSD = 1_000_000
	}

	minEvents := cfg.Risk.MinEvents
	if minEvents <= 0 {
		minEvents = 10
	}

	return &Calculator{
		wVelocity:            w.Velocity / total,
		wAcceleration:        w.Acceleration / total,
		wCorrelation:         w.Correlation / total,
		wVolume:              w.Volume / total,
		baselineVelocity:     b.VelocityPerSecond,
		baselineAcceleration: b.AccelerationPerSec,
		baselineVolumeUSD:    b.VolumeUSD,
		minEvents:            minEvents,
	}
}

// Calculate produces the graded assessment for one symbol snapshot.
func (c *Calculator) Calculate(m models.VelocityMetrics, corr models.CorrelationMatrix) models.CascadeRiskAssessment {
	factors := models.RiskFactors{
		VelocityScore:     c.velocityScore(m),
		AccelerationScore: c.accelerationScore(m),
		CorrelationScore:  c.correlationScore(corr),
		VolumeScore:       c.volumeScore(m),
	}

	score := c.wVelocity*factors.VelocityScore +
		c.wAcceleration*factors.AccelerationScore +
		c.wCorrelation*factors.CorrelationScore +
		c.wVolume*factors.VolumeScore
	score = clamp(score, 0, 100)

	level := levelForScore(score)

	return models.CascadeRiskAssessment{
		Symbol:      m.Symbol,
		TimeMs:      m.TimeMs,
		RiskLevel:   level,
		RiskScore:   score,
		RiskFactors: factors,
		Action:      actionForLevel(level),
		Confidence:  c.confidence(m, corr),
		Explanation: c.explain(m, factors),
	}
}

// velocityScore scales the burst velocity against the baseline: a sustained
// flow at exactly the baseline reads 25, four times the baseline saturates.
func (c *Calculator) velocityScore(m models.VelocityMetrics) float64 {
	v := math.Max(m.Velocity1s, m.Velocity10s)
	return clamp(v/c.baselineVelocity*25, 0, 100)
}

func (c *Calculator) accelerationScore(m models.VelocityMetrics) float64 {
	if m.Acceleration <= 0 {
		return 0
	}
	return clamp(m.Acceleration/c.baselineAcceleration*25, 0, 100)
}

func (c *Calculator) correlationScore(corr models.CorrelationMatrix) float64 {
	return clamp(corr.Max()*100, 0, 100)
}

func (c *Calculator) volumeScore(m models.VelocityMetrics) float64 {
	return clamp(m.TotalVolumeUSD/c.baselineVolumeUSD*50, 0, 100)
}

// confidence shrinks when the window holds fewer events than the minimum the
// statistics need; zero events floor out rather than erroring.
func (c *Calculator) confidence(m models.VelocityMetrics, corr models.CorrelationMatrix) float64 {
	confidence := 1.0
	if m.Count60s < c.minEvents {
		confidence = float64(m.Count60s) / float64(c.minEvents)
		if confidence < 0.1 {
			confidence = 0.1
		}
	}
	if len(corr.Pairs) == 0 && len(m.ExchangeCounts) > 1 {
		// several venues active but no measurable co-movement yet
		confidence *= 0.8
	}
	return confidence
}

func (c *Calculator) explain(m models.VelocityMetrics, f models.RiskFactors) string {
	if m.Count60s == 0 {
		return "no liquidation events in window"
	}

	type contribution struct {
		name  string
		value float64
	}
	contributions := []contribution{
		{"velocity", c.wVelocity * f.VelocityScore},
		{"acceleration", c.wAcceleration * f.AccelerationScore},
		{"cross-exchange correlation", c.wCorrelation * f.CorrelationScore},
		{"volume", c.wVolume * f.VolumeScore},
	}
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].value > contributions[j].value
	})

	if contributions[0].value == 0 {
		return fmt.Sprintf("%d events in window, all factors quiet", m.Count60s)
	}

	dominant := []string{contributions[0].name}
	if contributions[1].value > 0 && contributions[1].value >= contributions[0].value*0.8 {
		dominant = append(dominant, contributions[1].name)
	}
	return fmt.Sprintf("driven by %s (%d events, %.0f USD in window)",
		strings.Join(dominant, " and "), m.Count60s, m.TotalVolumeUSD)
}

// levelForScore maps a score to its grade. The bands cover [0,100]
// exhaustively.
func levelForScore(score float64) models.RiskLevel {
	switch {
	case score < 20:
		return models.RiskNone
	case score < 40:
		return models.RiskLow
	case score < 60:
		return models.RiskMedium
	case score < 80:
		return models.RiskHigh
	case score < 95:
		return models.RiskCritical
	default:
		return models.RiskExtreme
	}
}

func actionForLevel(level models.RiskLevel) string {
	switch level {
	case models.RiskNone, models.RiskLow:
		return "monitor"
	case models.RiskMedium:
		return "alert"
	case models.RiskHigh:
		return "reduce_exposure"
	case models.RiskCritical:
		return "hedge_or_exit"
	default:
		return "halt_new_positions"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

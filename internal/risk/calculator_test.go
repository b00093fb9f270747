package risk

import (
	"testing"
	"time"

	"liqflow/config"
	"liqflow/internal/models"
)

func riskConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			Weights: config.RiskWeights{
				Velocity:     0.30,
				Acceleration: 0.30,
				Correlation:  0.20,
				Volume:       0.20,
			},
			Baselines: config.RiskBaselines{
				VelocityPerSecond:  1.0,
				AccelerationPerSec: 0.5,
				VolumeUSD:          1_000_000,
			},
			MinEvents: 10,
			Cooldown:  30 * time.Second,
		},
	}
}

func metricsWith(count int, v1s, v10s, accel, volume float64) models.VelocityMetrics {
	return models.VelocityMetrics{
		Symbol:         "BTC",
		TimeMs:         1700000000000,
		Count1s:        int(v1s),
		Count10s:       int(v10s * 10),
		Count60s:       count,
		Velocity1s:     v1s,
		Velocity10s:    v10s,
		Acceleration:   accel,
		TotalVolumeUSD: volume,
		ExchangeCounts: map[models.Exchange]int{models.ExchangeBinance: count},
	}
}

func corrWith(r float64) models.CorrelationMatrix {
	return models.CorrelationMatrix{
		Symbol: "BTC",
		Pairs: map[string]float64{
			models.PairKey(models.ExchangeBinance, models.ExchangeBybit): r,
		},
	}
}

func TestCalculateZeroEventsIsTotal(t *testing.T) {
	c := NewCalculator(riskConfig())
	a := c.Calculate(models.VelocityMetrics{Symbol: "BTC"}, models.CorrelationMatrix{})
	if a.RiskLevel != models.RiskNone {
		t.Errorf("zero events must grade NONE, got %s", a.RiskLevel)
	}
	if a.Confidence > 0.2 {
		t.Errorf("zero events must be low confidence, got %f", a.Confidence)
	}
	if a.Explanation == "" {
		t.Error("assessment must carry an explanation")
	}
}

func TestCalculateDeterminism(t *testing.T) {
	c := NewCalculator(riskConfig())
	m := metricsWith(50, 12, 4, 8, 5_000_000)
	corr := corrWith(0.9)
	first := c.Calculate(m, corr)
	for i := 0; i < 10; i++ {
		if got := c.Calculate(m, corr); got != first {
			t.Fatalf("identical inputs produced different assessments: %+v vs %+v", first, got)
		}
	}
}

func TestCalculateSteadyFlowIsCalm(t *testing.T) {
	c := NewCalculator(riskConfig())
	m := metricsWith(10, 1.0, 1.0, 0, 10_000)
	a := c.Calculate(m, models.CorrelationMatrix{})
	if a.RiskLevel > models.RiskLow {
		t.Errorf("steady baseline flow should grade NONE or LOW, got %s (score %f)", a.RiskLevel, a.RiskScore)
	}
}

func TestCalculateAcceleratingCascadeEscalates(t *testing.T) {
	c := NewCalculator(riskConfig())
	m := metricsWith(38, 20, 3.8, 16.2, 200_000)
	a := c.Calculate(m, models.CorrelationMatrix{})
	if a.RiskLevel < models.RiskMedium {
		t.Errorf("accelerating cascade should grade at least MEDIUM, got %s (score %f)", a.RiskLevel, a.RiskScore)
	}
	if a.RiskFactors.AccelerationScore == 0 {
		t.Error("positive acceleration must contribute to the score")
	}
}

func TestCalculateCorrelationRaisesScore(t *testing.T) {
	c := NewCalculator(riskConfig())
	m := metricsWith(30, 5, 3, 2, 3_000_000)

	isolated := c.Calculate(m, models.CorrelationMatrix{})
	synced := c.Calculate(m, corrWith(0.95))

	if synced.RiskScore <= isolated.RiskScore {
		t.Errorf("cross-exchange sync must raise the score: %f vs %f", synced.RiskScore, isolated.RiskScore)
	}
	if synced.RiskFactors.CorrelationScore <= 80 {
		t.Errorf("expected high correlation sub-score, got %f", synced.RiskFactors.CorrelationScore)
	}
}

func TestCalculateMonotonicEscalation(t *testing.T) {
	c := NewCalculator(riskConfig())
	schedules := []models.VelocityMetrics{
		metricsWith(5, 0.5, 0.3, 0, 5_000),
		metricsWith(12, 2, 1, 0.5, 100_000),
		metricsWith(25, 6, 2.5, 3, 800_000),
		metricsWith(60, 15, 6, 9, 4_000_000),
		metricsWith(120, 40, 15, 25, 20_000_000),
	}
	prev := -1.0
	prevLevel := models.RiskNone
	for i, m := range schedules {
		a := c.Calculate(m, models.CorrelationMatrix{})
		if a.RiskScore < prev {
			t.Errorf("schedule %d: score regressed %f -> %f", i, prev, a.RiskScore)
		}
		if a.RiskLevel < prevLevel {
			t.Errorf("schedule %d: level regressed %s -> %s", i, prevLevel, a.RiskLevel)
		}
		prev = a.RiskScore
		prevLevel = a.RiskLevel
	}
}

func TestLevelForScoreCoversFullRange(t *testing.T) {
	cases := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0, models.RiskNone},
		{19.9, models.RiskNone},
		{20, models.RiskLow},
		{39.9, models.RiskLow},
		{40, models.RiskMedium},
		{59.9, models.RiskMedium},
		{60, models.RiskHigh},
		{79.9, models.RiskHigh},
		{80, models.RiskCritical},
		{94.9, models.RiskCritical},
		{95, models.RiskExtreme},
		{100, models.RiskExtreme},
	}
	for _, tc := range cases {
		if got := levelForScore(tc.score); got != tc.want {
			t.Errorf("score %f: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestConfidenceShrinksWithSmallSamples(t *testing.T) {
	c := NewCalculator(riskConfig())
	few := c.Calculate(metricsWith(3, 1, 1, 0, 10_000), models.CorrelationMatrix{})
	many := c.Calculate(metricsWith(50, 1, 1, 0, 10_000), models.CorrelationMatrix{})
	if few.Confidence >= many.Confidence {
		t.Errorf("fewer samples must mean lower confidence: %f vs %f", few.Confidence, many.Confidence)
	}
}

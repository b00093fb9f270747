package risk

import (
	"testing"

	"liqflow/internal/models"
)

func assessment(symbol string, tMs int64, level models.RiskLevel, score float64) models.CascadeRiskAssessment {
	return models.CascadeRiskAssessment{
		Symbol:    symbol,
		TimeMs:    tMs,
		RiskLevel: level,
		RiskScore: score,
	}
}

func trackerMetrics(volume float64, exchanges ...models.Exchange) models.VelocityMetrics {
	counts := make(map[models.Exchange]int, len(exchanges))
	for _, ex := range exchanges {
		counts[ex] = 1
	}
	return models.VelocityMetrics{
		Symbol:         "BTC",
		TotalVolumeUSD: volume,
		ExchangeCounts: counts,
	}
}

func TestTrackerOpensAtHigh(t *testing.T) {
	tr := NewTracker(riskConfig())
	base := int64(1700000000000)

	if closed := tr.Observe(trackerMetrics(100, models.ExchangeBinance), assessment("BTC", base, models.RiskMedium, 50)); closed != nil {
		t.Fatal("MEDIUM must not open an episode")
	}
	if len(tr.ActiveSymbols()) != 0 {
		t.Fatal("no episode expected yet")
	}

	tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base+1000, models.RiskHigh, 65))
	if len(tr.ActiveSymbols()) != 1 {
		t.Fatal("HIGH must open an episode")
	}
}

func TestTrackerClosesAfterSustainedCooldown(t *testing.T) {
	tr := NewTracker(riskConfig()) // 30s cooldown
	base := int64(1700000000000)

	tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base, models.RiskHigh, 70))
	tr.Observe(trackerMetrics(5000, models.ExchangeBinance, models.ExchangeBybit), assessment("BTC", base+5_000, models.RiskCritical, 85))

	// drops below MEDIUM
	if closed := tr.Observe(trackerMetrics(5000, models.ExchangeBinance), assessment("BTC", base+10_000, models.RiskLow, 25)); closed != nil {
		t.Fatal("cooldown start must not close immediately")
	}
	// still cooling
	if closed := tr.Observe(trackerMetrics(5000, models.ExchangeBinance), assessment("BTC", base+25_000, models.RiskNone, 10)); closed != nil {
		t.Fatal("episode closed before cooldown elapsed")
	}
	// cooldown elapsed
	closed := tr.Observe(trackerMetrics(5000, models.ExchangeBinance), assessment("BTC", base+45_000, models.RiskNone, 5))
	if closed == nil {
		t.Fatal("expected episode to close after sustained calm")
	}
	if closed.PeakLevel != models.RiskCritical || closed.PeakScore != 85 {
		t.Errorf("peak not tracked: %s / %f", closed.PeakLevel, closed.PeakScore)
	}
	if closed.TotalValueUSD != 5000 {
		t.Errorf("expected max observed volume, got %f", closed.TotalValueUSD)
	}
	if len(closed.ExchangesInvolved) != 2 {
		t.Errorf("expected both exchanges recorded, got %v", closed.ExchangesInvolved)
	}
	if len(tr.ActiveSymbols()) != 0 {
		t.Error("closed episode must leave the active set")
	}
}

func TestTrackerResurgenceResetsCooldown(t *testing.T) {
	tr := NewTracker(riskConfig())
	base := int64(1700000000000)

	tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base, models.RiskHigh, 70))
	tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base+5_000, models.RiskLow, 25))
	// risk returns mid-cooldown
	tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base+20_000, models.RiskMedium, 45))
	// quiet again, but the clock restarted
	if closed := tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base+40_000, models.RiskLow, 20)); closed != nil {
		t.Fatal("resurgence must reset the cooldown clock")
	}
	closed := tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base+75_000, models.RiskLow, 20))
	if closed == nil {
		t.Fatal("expected close after full cooldown from resurgence")
	}
}

func TestTrackerSweepClosesSilentEpisode(t *testing.T) {
	tr := NewTracker(riskConfig()) // 30s cooldown
	base := int64(1700000000000)

	tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base, models.RiskHigh, 70))

	// the symbol goes completely silent; no assessments arrive to drive Observe
	if closed := tr.Sweep(base + 15_000); len(closed) != 0 {
		t.Fatal("sweep must wait out the cooldown before closing")
	}
	closed := tr.Sweep(base + 45_000)
	if len(closed) != 1 {
		t.Fatalf("expected silent episode to close, got %d", len(closed))
	}
	if closed[0].Symbol != "BTC" || closed[0].PeakLevel != models.RiskHigh {
		t.Errorf("unexpected closed episode: %+v", closed[0])
	}
	if len(tr.ActiveSymbols()) != 0 {
		t.Error("swept episode must leave the active set")
	}
}

func TestTrackerSymbolsAreIndependent(t *testing.T) {
	tr := NewTracker(riskConfig())
	base := int64(1700000000000)

	tr.Observe(trackerMetrics(1000, models.ExchangeBinance), assessment("BTC", base, models.RiskHigh, 70))
	tr.Observe(trackerMetrics(1000, models.ExchangeBybit), assessment("ETH", base, models.RiskLow, 10))

	active := tr.ActiveSymbols()
	if len(active) != 1 || active[0] != "BTC" {
		t.Errorf("only BTC should be active, got %v", active)
	}
}

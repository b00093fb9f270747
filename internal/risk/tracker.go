package risk

import (
	"sort"
	"sync"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

type episode struct {
	event        models.CascadeEvent
	exchanges    map[models.Exchange]struct{}
	belowSinceMs int64
	lastSeenMs   int64
}

// Tracker runs the per-symbol cascade episode state machine. A symbol is
// dormant until an assessment reaches HIGH; the episode closes once risk
// stays below MEDIUM for the cooldown.
type Tracker struct {
	mu       sync.Mutex
	cooldown time.Duration
	active   map[string]*episode
	log      *logger.Log
}

// NewTracker builds the episode tracker.
func NewTracker(cfg *appconfig.Config) *Tracker {
	cooldown := cfg.Risk.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Tracker{
		cooldown: cooldown,
		active:   make(map[string]*episode),
		log:      logger.GetLogger(),
	}
}

// Observe feeds one assessment with its backing metrics into the state
// machine. When an episode closes, the finished CascadeEvent is returned;
// otherwise nil.
func (t *Tracker) Observe(m models.VelocityMetrics, a models.CascadeRiskAssessment) *models.CascadeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep, isActive := t.active[a.Symbol]
	if !isActive {
		if a.RiskLevel < models.RiskHigh {
			return nil
		}
		ep = &episode{
			event: models.CascadeEvent{
				Symbol:    a.Symbol,
				StartedAt: time.UnixMilli(a.TimeMs),
				PeakLevel: a.RiskLevel,
				PeakScore: a.RiskScore,
			},
			exchanges: make(map[models.Exchange]struct{}),
		}
		t.active[a.Symbol] = ep
		t.log.WithComponent("cascade_tracker").WithFields(logger.Fields{
			"symbol":     a.Symbol,
			"risk_level": a.RiskLevel.String(),
			"risk_score": a.RiskScore,
		}).Warn("cascade episode opened")
	}

	ep.lastSeenMs = a.TimeMs
	ep.event.AssessmentCount++
	if a.RiskLevel > ep.event.PeakLevel {
		ep.event.PeakLevel = a.RiskLevel
	}
	if a.RiskScore > ep.event.PeakScore {
		ep.event.PeakScore = a.RiskScore
	}
	if m.TotalVolumeUSD > ep.event.TotalValueUSD {
		ep.event.TotalValueUSD = m.TotalVolumeUSD
	}
	for ex := range m.ExchangeCounts {
		ep.exchanges[ex] = struct{}{}
	}

	if a.RiskLevel >= models.RiskMedium {
		ep.belowSinceMs = 0
		return nil
	}
	if ep.belowSinceMs == 0 {
		ep.belowSinceMs = a.TimeMs
		return nil
	}
	if a.TimeMs-ep.belowSinceMs < t.cooldown.Milliseconds() {
		return nil
	}

	closed := t.closeLocked(ep, a.TimeMs)
	return &closed
}

// closeLocked finalizes an episode and removes it from the active set.
// Caller holds t.mu.
func (t *Tracker) closeLocked(ep *episode, endedMs int64) models.CascadeEvent {
	delete(t.active, ep.event.Symbol)
	ep.event.EndedAt = time.UnixMilli(endedMs)
	for ex := range ep.exchanges {
		ep.event.ExchangesInvolved = append(ep.event.ExchangesInvolved, ex)
	}
	sort.Slice(ep.event.ExchangesInvolved, func(i, j int) bool {
		return ep.event.ExchangesInvolved[i] < ep.event.ExchangesInvolved[j]
	})

	t.log.WithComponent("cascade_tracker").WithFields(logger.Fields{
		"symbol":      ep.event.Symbol,
		"peak_level":  ep.event.PeakLevel.String(),
		"peak_score":  ep.event.PeakScore,
		"assessments": ep.event.AssessmentCount,
	}).Info("cascade episode closed")

	return ep.event
}

// Sweep closes episodes whose symbol went completely silent. With no fresh
// liquidations there are no assessments to drive Observe, so the cooldown is
// measured against the last assessment instead.
func (t *Tracker) Sweep(nowMs int64) []models.CascadeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var closed []models.CascadeEvent
	for _, ep := range t.active {
		if nowMs-ep.lastSeenMs < t.cooldown.Milliseconds() {
			continue
		}
		closed = append(closed, t.closeLocked(ep, nowMs))
	}
	return closed
}

// ActiveSymbols lists symbols currently inside an episode.
func (t *Tracker) ActiveSymbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.active))
	for sym := range t.active {
		out = append(out, sym)
	}
	return out
}

package velocity

import (
	"sync"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
)

// Fixed measurement windows, shortest to longest.
const (
	window100ms = 100 * time.Millisecond
	window1s    = time.Second
	window10s   = 10 * time.Second
	window60s   = 60 * time.Second
)

type sample struct {
	timeMs   int64
	valueUSD float64
	exchange models.Exchange
}

// symbolState holds the trailing samples for one symbol. Samples are kept in
// arrival order and pruned lazily against the longest window on every write.
type symbolState struct {
	mu      sync.Mutex
	samples []sample
	head    int
}

// Engine maintains sliding-window liquidation statistics per symbol. Symbols
// never contend with each other; all work on the hot path is O(1) amortized.
type Engine struct {
	mu        sync.RWMutex
	state     map[string]*symbolState
	maxWindow time.Duration

	corrWindow     time.Duration
	corrBucket     time.Duration
	corrMinSamples int
}

// NewEngine builds the velocity engine from config.
func NewEngine(cfg *appconfig.Config) *Engine {
	maxWindow := cfg.Velocity.MaxWindow
	if maxWindow < window60s {
		maxWindow = window60s
	}
	corrWindow := cfg.Velocity.CorrelationWindow
	if corrWindow <= 0 {
		corrWindow = window60s
	}
	corrBucket := cfg.Velocity.CorrelationBucket
	if corrBucket <= 0 {
		corrBucket = time.Second
	}
	minSamples := cfg.Velocity.CorrelationMinSamples
	if minSamples < 2 {
		minSamples = 2
	}
	return &Engine{
		state:          make(map[string]*symbolState),
		maxWindow:      maxWindow,
		corrWindow:     corrWindow,
		corrBucket:     corrBucket,
		corrMinSamples: minSamples,
	}
}

func (e *Engine) stateFor(symbol string) *symbolState {
	e.mu.RLock()
	st, ok := e.state[symbol]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.state[symbol]; ok {
		return st
	}
	st = &symbolState{}
	e.state[symbol] = st
	return st
}

// AddEvent records one liquidation for its symbol.
func (e *Engine) AddEvent(event models.LiquidationEvent) {
	e.addEventAt(event, time.Now().UnixMilli())
}

func (e *Engine) addEventAt(event models.LiquidationEvent, nowMs int64) {
	// The prune anchor is capped at the local clock: a corrupted far-future
	// venue timestamp must not push the cutoff past the live samples.
	anchor := event.EventTimeMs
	if anchor > nowMs {
		anchor = nowMs
	}
	st := e.stateFor(event.Symbol)
	st.mu.Lock()
	st.samples = append(st.samples, sample{
		timeMs:   event.EventTimeMs,
		valueUSD: event.ValueUSD,
		exchange: event.Exchange,
	})
	st.pruneLocked(anchor, e.maxWindow)
	st.mu.Unlock()
}

// pruneLocked drops samples older than the longest window and compacts the
// backing slice once the dead prefix dominates it.
func (st *symbolState) pruneLocked(nowMs int64, maxWindow time.Duration) {
	cutoff := nowMs - maxWindow.Milliseconds()
	for st.head < len(st.samples) && st.samples[st.head].timeMs < cutoff {
		st.head++
	}
	if st.head > 1024 && st.head*2 > len(st.samples) {
		st.samples = append([]sample(nil), st.samples[st.head:]...)
		st.head = 0
	}
}

// Snapshot computes the multi-window metrics for a symbol anchored at the
// current wall clock.
func (e *Engine) Snapshot(symbol string) models.VelocityMetrics {
	return e.snapshotAt(symbol, time.Now().UnixMilli())
}

func (e *Engine) snapshotAt(symbol string, nowMs int64) models.VelocityMetrics {
	m := models.VelocityMetrics{
		Symbol:         symbol,
		TimeMs:         nowMs,
		ExchangeCounts: make(map[models.Exchange]int),
	}

	e.mu.RLock()
	st, ok := e.state[symbol]
	e.mu.RUnlock()
	if !ok {
		return m
	}

	cut100ms := nowMs - window100ms.Milliseconds()
	cut1s := nowMs - window1s.Milliseconds()
	cut10s := nowMs - window10s.Milliseconds()
	cut60s := nowMs - window60s.Milliseconds()

	st.mu.Lock()
	for i := st.head; i < len(st.samples); i++ {
		s := st.samples[i]
		if s.timeMs < cut60s || s.timeMs > nowMs {
			continue
		}
		m.Count60s++
		m.TotalVolumeUSD += s.valueUSD
		m.ExchangeCounts[s.exchange]++
		if s.timeMs >= cut10s {
			m.Count10s++
		}
		if s.timeMs >= cut1s {
			m.Count1s++
		}
		if s.timeMs >= cut100ms {
			m.Count100ms++
		}
	}
	st.mu.Unlock()

	m.Velocity100ms = float64(m.Count100ms) / window100ms.Seconds()
	m.Velocity1s = float64(m.Count1s) / window1s.Seconds()
	m.Velocity10s = float64(m.Count10s) / window10s.Seconds()
	m.Velocity60s = float64(m.Count60s) / window60s.Seconds()

	// Velocity differential between the 1s burst window and the 10s trend,
	// normalized by the short window length.
	m.Acceleration = (m.Velocity1s - m.Velocity10s) / window1s.Seconds()

	return m
}

// Symbols returns the symbols with tracked state.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.state))
	for sym := range e.state {
		out = append(out, sym)
	}
	return out
}

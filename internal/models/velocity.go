package models

// VelocityMetrics is a per-symbol snapshot of liquidation flow over several
// trailing windows. It is recomputed from recent events on demand and never
// persisted.
type VelocityMetrics struct {
	Symbol string `json:"symbol"`
	// TimeMs is the snapshot instant all windows are anchored to.
	TimeMs int64 `json:"time_ms"`

	Count100ms int `json:"count_100ms"`
	Count1s    int `json:"count_1s"`
	Count10s   int `json:"count_10s"`
	Count60s   int `json:"count_60s"`

	// Velocities are events per second over the matching window.
	Velocity100ms float64 `json:"velocity_100ms"`
	Velocity1s    float64 `json:"velocity_1s"`
	Velocity10s   float64 `json:"velocity_10s"`
	Velocity60s   float64 `json:"velocity_60s"`

	// Acceleration is the change of velocity between the 1s and 10s windows
	// normalized per second. Positive and rising acceleration is the cascade
	// signature; a burst in the last second shows up here before the 60s
	// average moves.
	Acceleration float64 `json:"acceleration"`

	// TotalVolumeUSD sums value_usd over the longest window.
	TotalVolumeUSD float64 `json:"total_volume_usd"`

	// ExchangeCounts holds per-exchange event counts over the longest window.
	ExchangeCounts map[Exchange]int `json:"exchange_counts,omitempty"`
}

// CorrelationMatrix holds pairwise Pearson correlation of per-exchange
// bucketed liquidation volume for one symbol. Pairs with fewer paired samples
// than the engine minimum are absent rather than reported as zero.
type CorrelationMatrix struct {
	Symbol        string  `json:"symbol"`
	WindowSeconds float64 `json:"window_seconds"`
	SampleBuckets int     `json:"sample_buckets"`
	// Pairs is keyed by PairKey(a, b) with a < b lexicographically.
	Pairs map[string]float64 `json:"pairs"`
}

// PairKey returns the canonical map key for an exchange pair.
func PairKey(a, b Exchange) string {
	if string(a) > string(b) {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

// Lookup returns the correlation for a pair and whether it was computed.
func (m *CorrelationMatrix) Lookup(a, b Exchange) (float64, bool) {
	if m == nil || m.Pairs == nil {
		return 0, false
	}
	r, ok := m.Pairs[PairKey(a, b)]
	return r, ok
}

// Max returns the largest pairwise correlation, or 0 when the matrix is
// empty.
func (m *CorrelationMatrix) Max() float64 {
	if m == nil {
		return 0
	}
	max := 0.0
	for _, r := range m.Pairs {
		if r > max {
			max = r
		}
	}
	return max
}

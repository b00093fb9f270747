package velocity

import (
	"math"
	"time"

	"liqflow/internal/models"
)

// Correlation computes pairwise Pearson correlation of per-exchange bucketed
// liquidation volume for a symbol over the trailing window. Pairs with fewer
// than the configured minimum of jointly active buckets are omitted.
func (e *Engine) Correlation(symbol string) models.CorrelationMatrix {
	return e.correlationAt(symbol, time.Now().UnixMilli())
}

func (e *Engine) correlationAt(symbol string, nowMs int64) models.CorrelationMatrix {
	bucketMs := e.corrBucket.Milliseconds()
	nBuckets := int(e.corrWindow.Milliseconds() / bucketMs)
	matrix := models.CorrelationMatrix{
		Symbol:        symbol,
		WindowSeconds: e.corrWindow.Seconds(),
		SampleBuckets: nBuckets,
		Pairs:         make(map[string]float64),
	}
	if nBuckets < 2 {
		return matrix
	}

	e.mu.RLock()
	st, ok := e.state[symbol]
	e.mu.RUnlock()
	if !ok {
		return matrix
	}

	startMs := nowMs - e.corrWindow.Milliseconds()
	series := make(map[models.Exchange][]float64)

	st.mu.Lock()
	for i := st.head; i < len(st.samples); i++ {
		s := st.samples[i]
		if s.timeMs < startMs || s.timeMs > nowMs {
			continue
		}
		idx := int((s.timeMs - startMs) / bucketMs)
		if idx >= nBuckets {
			idx = nBuckets - 1
		}
		buckets, ok := series[s.exchange]
		if !ok {
			buckets = make([]float64, nBuckets)
			series[s.exchange] = buckets
		}
		buckets[idx] += s.valueUSD
	}
	st.mu.Unlock()

	exchanges := make([]models.Exchange, 0, len(series))
	for ex := range series {
		exchanges = append(exchanges, ex)
	}

	for i := 0; i < len(exchanges); i++ {
		for j := i + 1; j < len(exchanges); j++ {
			a, b := series[exchanges[i]], series[exchanges[j]]
			if jointActiveBuckets(a, b) < e.corrMinSamples {
				continue
			}
			if r, ok := pearson(a, b); ok {
				matrix.Pairs[models.PairKey(exchanges[i], exchanges[j])] = r
			}
		}
	}
	return matrix
}

// jointActiveBuckets counts buckets where both series saw volume.
func jointActiveBuckets(a, b []float64) int {
	n := 0
	for i := range a {
		if a[i] > 0 && b[i] > 0 {
			n++
		}
	}
	return n
}

// pearson returns the correlation coefficient of two equal-length series.
// ok is false when either series has zero variance.
func pearson(a, b []float64) (float64, bool) {
	n := float64(len(a))
	if n == 0 {
		return 0, false
	}

	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

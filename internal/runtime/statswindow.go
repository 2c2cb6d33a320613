package runtime

import (
	"math"
	"sort"
	"time"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// latencyRing keeps the most recent handler durations in a fixed-size
// ring so percentile snapshots stay O(sample size) regardless of uptime.
type latencyRing struct {
	buf    []int64
	next   int
	filled int
	last   int64
}

func newLatencyRing(size int) *latencyRing {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyRing{buf: make([]int64, size)}
}

func (lr *latencyRing) Add(d time.Duration) {
	if lr == nil || len(lr.buf) == 0 {
		return
	}
	lr.buf[lr.next] = int64(d)
	lr.last = int64(d)
	lr.next = (lr.next + 1) % len(lr.buf)
	if lr.filled < len(lr.buf) {
		lr.filled++
	}
}

// Snapshot sorts the retained samples and derives the percentile set.
// AverageNs is left for the caller, which owns the lifetime totals.
func (lr *latencyRing) Snapshot() LatencyMetrics {
	if lr == nil || lr.filled == 0 {
		var empty LatencyMetrics
		if lr != nil {
			empty.LastNs = lr.last
		}
		return empty
	}

	ordered := make([]int64, lr.filled)
	start := lr.next - lr.filled
	for i := range ordered {
		idx := start + i
		if idx < 0 {
			idx += len(lr.buf)
		}
		ordered[i] = lr.buf[idx]
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	return LatencyMetrics{
		P50Ns:      quantileOf(ordered, 0.50),
		P95Ns:      quantileOf(ordered, 0.95),
		P99Ns:      quantileOf(ordered, 0.99),
		LastNs:     lr.last,
		SampleSize: lr.filled,
	}
}

// quantileOf uses the nearest-rank method: the smallest retained sample at
// or above the requested quantile, so reported percentiles are always real
// observed latencies.
func quantileOf(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// rateWindow counts events inside a sliding horizon to derive the
// current messages-per-second figure.
type rateWindow struct {
	horizon time.Duration
	stamps  []time.Time
}

type rateSnapshot struct {
	count         int
	windowSeconds float64
	perSecond     float64
}

func newRateWindow(horizon time.Duration) *rateWindow {
	return &rateWindow{horizon: horizon, stamps: make([]time.Time, 0, 64)}
}

func (rw *rateWindow) AddAndSnapshot(now time.Time) rateSnapshot {
	if rw == nil {
		return rateSnapshot{}
	}
	rw.stamps = append(rw.stamps, now)
	rw.evictBefore(now.Add(-rw.horizon))

	if len(rw.stamps) == 0 {
		return rateSnapshot{}
	}
	span := now.Sub(rw.stamps[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return rateSnapshot{
		count:         len(rw.stamps),
		windowSeconds: span.Seconds(),
		perSecond:     float64(len(rw.stamps)) / span.Seconds(),
	}
}

func (rw *rateWindow) evictBefore(cutoff time.Time) {
	keep := 0
	for keep < len(rw.stamps) && rw.stamps[keep].Before(cutoff) {
		keep++
	}
	if keep > 0 {
		copy(rw.stamps, rw.stamps[keep:])
		rw.stamps = rw.stamps[:len(rw.stamps)-keep]
	}
}

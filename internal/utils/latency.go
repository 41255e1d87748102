package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of ingest durations for the periodic
// percentile log lines. Older samples are evicted once the window is full, so
// the reported percentiles reflect recent traffic rather than process
// lifetime.
type LatencyTracker struct {
	mu     sync.RWMutex
	window []time.Duration
	limit  int
}

// NewLatencyTracker returns a tracker holding at most limit samples.
func NewLatencyTracker(limit int) *LatencyTracker {
	if limit <= 0 {
		limit = 1024
	}
	return &LatencyTracker{limit: limit}
}

// Observe records one duration, evicting the oldest sample when full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window = append(l.window, d)
	if len(l.window) > l.limit {
		copy(l.window, l.window[1:])
		l.window = l.window[:l.limit]
	}
}

// Count returns the number of samples currently in the window.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.window)
}

// Percentile returns the duration at percentile p in [0, 100]. An empty
// window yields zero; out-of-range values clamp to the window extremes.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.window)
	if n == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), l.window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	index := int((p / 100.0) * float64(n-1))
	return sorted[index]
}

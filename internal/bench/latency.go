package bench

import (
	"slices"
	"sync"
	"time"
)

const defaultSampleCap = 100_000

// LatencyRecorder collects session latencies. It is safe for concurrent use.
type LatencyRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
	sum     time.Duration
	min     time.Duration
	max     time.Duration
}

// NewLatencyRecorder creates a recorder preallocated for sampleCap samples;
// sampleCap <= 0 selects a default.
func NewLatencyRecorder(sampleCap int) *LatencyRecorder {
	if sampleCap <= 0 {
		sampleCap = defaultSampleCap
	}
	return &LatencyRecorder{samples: make([]time.Duration, 0, sampleCap)}
}

// Record adds a latency sample.
func (r *LatencyRecorder) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
	r.samples = append(r.samples, d)
	r.sum += d
}

// Count returns the number of recorded samples.
func (r *LatencyRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Reset clears all recorded samples.
func (r *LatencyRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = r.samples[:0]
	r.sum, r.min, r.max = 0, 0, 0
}

// Percentiles sorts a copy of the samples and reads nearest-rank
// percentiles from it.
func (r *LatencyRecorder) Percentiles() Percentiles {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.samples)
	if n == 0 {
		return Percentiles{}
	}
	sorted := slices.Clone(r.samples)
	slices.Sort(sorted)

	return Percentiles{
		Avg:  r.sum / time.Duration(n),
		Min:  r.min,
		Max:  r.max,
		P50:  sorted[percentileIndex(n, 50)],
		P90:  sorted[percentileIndex(n, 90)],
		P99:  sorted[percentileIndex(n, 99)],
		P999: sorted[percentileIndex(n, 99.9)],
	}
}

func percentileIndex(n int, percentile float64) int {
	idx := int(float64(n) * percentile / 100)
	return min(max(idx, 0), n-1)
}

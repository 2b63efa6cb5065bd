package engine

import (
	"sync"
	"time"
)

// LatencyRecorder tracks query timings for the admin stats endpoint. It keeps
// a running average over the process lifetime and a sliding count of queries
// in the last 24 hours.
type LatencyRecorder struct {
	mu      sync.Mutex
	total   time.Duration
	count   int64
	recent  []time.Time
	nowFunc func() time.Time
}

func NewLatencyRecorder() *LatencyRecorder {
	return &LatencyRecorder{nowFunc: time.Now}
}

func (r *LatencyRecorder) Record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += d
	r.count++
	now := r.nowFunc()
	r.recent = append(r.recent, now)
	r.prune(now)
}

// Snapshot returns the average query time in seconds and the number of
// queries served in the trailing 24 hours.
func (r *LatencyRecorder) Snapshot() (avgSeconds float64, last24h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.nowFunc())
	if r.count > 0 {
		avgSeconds = r.total.Seconds() / float64(r.count)
	}
	return avgSeconds, len(r.recent)
}

func (r *LatencyRecorder) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(r.recent) && r.recent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.recent = append(r.recent[:0], r.recent[i:]...)
	}
}

package cache

import (
	"sync/atomic"
	"time"
)

// Metrics holds the process-wide store counters.
type Metrics struct {
	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	totalRequests atomic.Int64
	sets          atomic.Int64
	deletes       atomic.Int64
	lastReset     atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Errors        int64     `json:"errors"`
	TotalRequests int64     `json:"totalRequests"`
	Sets          int64     `json:"sets"`
	Deletes       int64     `json:"deletes"`
	HitRatio      float64   `json:"hitRatio"`
	ErrorRate     float64   `json:"errorRate"`
	LastReset     time.Time `json:"lastReset"`
}

func newMetrics() *Metrics {
	m := &Metrics{}
	m.lastReset.Store(time.Now().UnixNano())
	return m
}

func ratio(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// HitRatio is hits/totalRequests, or 0 before the first request.
func (m *Metrics) HitRatio() float64 {
	return ratio(m.hits.Load(), m.totalRequests.Load())
}

// ErrorRate is errors/totalRequests, or 0 before the first request.
func (m *Metrics) ErrorRate() float64 {
	return ratio(m.errors.Load(), m.totalRequests.Load())
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		Errors:        m.errors.Load(),
		TotalRequests: m.totalRequests.Load(),
		Sets:          m.sets.Load(),
		Deletes:       m.deletes.Load(),
		LastReset:     time.Unix(0, m.lastReset.Load()),
	}
	s.HitRatio = ratio(s.Hits, s.TotalRequests)
	s.ErrorRate = ratio(s.Errors, s.TotalRequests)
	return s
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.errors.Store(0)
	m.totalRequests.Store(0)
	m.sets.Store(0)
	m.deletes.Store(0)
	m.lastReset.Store(time.Now().UnixNano())
}

func (m *Metrics) recordHit() {
	m.totalRequests.Add(1)
	m.hits.Add(1)
}

func (m *Metrics) recordMiss() {
	m.totalRequests.Add(1)
	m.misses.Add(1)
}

// recordFailedRead counts a read that errored: a request and an error but
// neither a hit nor a miss.
func (m *Metrics) recordFailedRead() {
	m.totalRequests.Add(1)
	m.errors.Add(1)
}

func (m *Metrics) recordError()          { m.errors.Add(1) }
func (m *Metrics) recordSet()            { m.sets.Add(1) }
func (m *Metrics) recordDeletes(n int64) { m.deletes.Add(n) }

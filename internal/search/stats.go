package search

import (
	"sync"
	"time"
)

// EngineStats tracks lightweight query counters and rolling latency,
// grounded on the teacher's EngineStats in
// pkg/core/search/execution/stats.go (an atomics-and-mutex counter bundle
// updated from Search/Index calls).
type EngineStats struct {
	mu           sync.Mutex
	queryCount   int64
	totalLatency time.Duration
}

// NewEngineStats returns a zeroed EngineStats.
func NewEngineStats() *EngineStats {
	return &EngineStats{}
}

// IncrementQuery records one query having been issued.
func (s *EngineStats) IncrementQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCount++
}

// UpdateLatency folds one query's duration into the running total.
func (s *EngineStats) UpdateLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalLatency += d
}

// Snapshot reports the query count and mean latency observed so far.
func (s *EngineStats) Snapshot() (queries int64, meanLatency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryCount == 0 {
		return 0, 0
	}
	return s.queryCount, s.totalLatency / time.Duration(s.queryCount)
}

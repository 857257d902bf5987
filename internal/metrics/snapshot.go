// Package metrics implements the periodic MetricsSnapshot collector (C3).
// Grounded on the teacher's snapshot-on-demand idiom in
// pkg/sync/sync_engine.go's SyncEngineStats: a small mutex-protected struct
// that computes rolling rates from deltas against the previous read.
package metrics

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// Snapshot is an immutable metrics reading at an instant. Every field is a
// plain value, so copying a Snapshot never shares mutable state with its
// Collector.
type Snapshot struct {
	Timestamp time.Time

	WorkItemsProcessed int64
	TotalWorkItems      int64
	RecordsProcessed    int64

	FilesPerMinute   float64
	RecordsPerSecond float64

	ActiveDBConnections int32
	HeapUtilization     float64

	TotalErrors        int64
	FailedWorkItems    int64
	CriticalErrorTypes []string
}

// HasCriticalErrorType reports whether t was observed by the time of this
// snapshot.
func (s Snapshot) HasCriticalErrorType(t string) bool {
	for _, c := range s.CriticalErrorTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Counters is the subset of engine counters a Collector needs to compute a
// snapshot. It mirrors engine.Counters without importing the engine
// package, keeping metrics free of a dependency on the generic engine type.
type Counters struct {
	WorkItemsProcessed int64
	TotalWorkItems      int64
	RecordsProcessed    int64
	TotalErrors         int64
	FailedWorkItems     int64
}

// DBPoolProbe reports the connection-pool's live active-connection count.
// Implementations wrap whatever pool is in play (e.g. pgxpool.Pool.Stat()).
type DBPoolProbe interface {
	ActiveConnections() int32
}

// noProbe is used when the run has no database collaborator.
type noProbe struct{}

func (noProbe) ActiveConnections() int32 { return 0 }

// Collector produces Snapshots on demand and tracks the append-only set of
// observed critical error types.
type Collector struct {
	runStart time.Time
	dbProbe  DBPoolProbe

	mu             sync.Mutex
	lastSnapshotAt time.Time
	lastWorkItems  int64
	lastRecords    int64

	criticalMu    sync.RWMutex
	criticalTypes map[string]struct{}
}

// NewCollector builds a Collector anchored at runStart (used as the first
// snapshot's rate-computation anchor). dbProbe may be nil.
func NewCollector(runStart time.Time, dbProbe DBPoolProbe) *Collector {
	if dbProbe == nil {
		dbProbe = noProbe{}
	}
	return &Collector{
		runStart:      runStart,
		dbProbe:       dbProbe,
		criticalTypes: make(map[string]struct{}),
	}
}

// RecordCriticalError registers an observed critical-error token. It is
// idempotent and safe for concurrent use; implements engine.CriticalErrorSink.
func (c *Collector) RecordCriticalError(errType string) {
	c.criticalMu.Lock()
	defer c.criticalMu.Unlock()
	c.criticalTypes[errType] = struct{}{}
}

// Snapshot computes a new immutable Snapshot from the given counters. Rates
// are deltas over wall-time since the previous snapshot; the very first
// snapshot uses the Collector's run-start anchor.
func (c *Collector) Snapshot(counters Counters) Snapshot {
	now := time.Now()

	c.mu.Lock()
	anchor := c.lastSnapshotAt
	if anchor.IsZero() {
		anchor = c.runStart
	}
	elapsed := now.Sub(anchor)
	deltaWorkItems := counters.WorkItemsProcessed - c.lastWorkItems
	deltaRecords := counters.RecordsProcessed - c.lastRecords
	c.lastSnapshotAt = now
	c.lastWorkItems = counters.WorkItemsProcessed
	c.lastRecords = counters.RecordsProcessed
	c.mu.Unlock()

	filesPerMinute := rate(deltaWorkItems, elapsed, time.Minute)
	recordsPerSecond := rate(deltaRecords, elapsed, time.Second)

	c.criticalMu.RLock()
	types := make([]string, 0, len(c.criticalTypes))
	for t := range c.criticalTypes {
		types = append(types, t)
	}
	c.criticalMu.RUnlock()
	sort.Strings(types)

	return Snapshot{
		Timestamp:           now,
		WorkItemsProcessed:  counters.WorkItemsProcessed,
		TotalWorkItems:       counters.TotalWorkItems,
		RecordsProcessed:     counters.RecordsProcessed,
		FilesPerMinute:       filesPerMinute,
		RecordsPerSecond:     recordsPerSecond,
		ActiveDBConnections:  c.dbProbe.ActiveConnections(),
		HeapUtilization:      heapUtilization(),
		TotalErrors:          counters.TotalErrors,
		FailedWorkItems:      counters.FailedWorkItems,
		CriticalErrorTypes:   types,
	}
}

func rate(delta int64, elapsed, unit time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(delta) * float64(unit) / float64(elapsed)
}

func heapUtilization() float64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	if mem.HeapSys == 0 {
		return 0
	}
	u := float64(mem.HeapAlloc) / float64(mem.HeapSys)
	if u > 1 {
		u = 1
	}
	return u
}

// Package goal implements the pure goal evaluators (C4): each maps a
// metrics.Snapshot to a {status, severity, derived metrics} triple. Goals
// are deliberately novel control logic with no direct teacher file analog;
// their doc density and error-wrapping style follow the teacher's tiered
// threshold classifiers (e.g. the adaptive-cache tiering in
// pkg/storage/cache/adaptive_cache.go).
package goal

import (
	"time"

	"github.com/batchworks/adaptivebatch/internal/metrics"
)

// Status is a goal's health at evaluation time.
type Status int

const (
	NotStarted Status = iota
	Met
	AtRisk
	Violated
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Met:
		return "MET"
	case AtRisk:
		return "AT_RISK"
	case Violated:
		return "VIOLATED"
	default:
		return "UNKNOWN"
	}
}

// Severity is fixed per goal, independent of its current Status.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Evaluation is the result of running one Goal against one Snapshot.
// Metrics holds a goal-specific typed struct (PerformanceMetrics,
// ResourceMetrics or ErrorMetrics) — a tagged variant by Go type, not a
// string-keyed map, per the source-pattern redesign in §9.
type Evaluation struct {
	GoalName string
	Status   Status
	Severity Severity
	Metrics  any
}

// Goal is a pure function of a snapshot (plus the fixed run-start anchor
// goals like PerformanceGoal need for deadline math) to an Evaluation. All
// "now" information goals need comes from snapshot.Timestamp, so Evaluate
// has no wall-clock dependency of its own and is trivially testable.
type Goal interface {
	Name() string
	Severity() Severity
	Evaluate(snap metrics.Snapshot, runStart time.Time) Evaluation
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

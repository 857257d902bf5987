package goal

import (
	"math"
	"time"

	"github.com/batchworks/adaptivebatch/internal/metrics"
)

// PerformanceMetrics is PerformanceGoal's derived-metrics variant.
type PerformanceMetrics struct {
	RequiredRate          float64
	CurrentRate           float64
	RateGap               float64
	PercentComplete        float64
	TimeRemainingMinutes   float64
}

// PerformanceGoal tracks whether the run is on pace to finish by Deadline.
// Severity is always Critical: a terminal violation here is the only thing
// that makes the manager abort a run (§4.6 abort gate).
//
// §9 open question: the source anchors the deadline at goal-construction
// time; this implementation anchors it at run-start instead, since that is
// the meaning a caller setting "deadline: 10 minutes" almost always intends
// ("10 minutes from when the run began"), and because run-start is already
// the anchor metrics.Collector uses for its first snapshot's rate
// computation — using a second, different anchor for the same run would be
// a trap for callers. Recorded here rather than left to guesswork.
type PerformanceGoal struct {
	Deadline        time.Duration
	MinRatePerMinute float64
	Tolerance        float64 // in (0, 1]
}

func (g PerformanceGoal) Name() string        { return "performance" }
func (g PerformanceGoal) Severity() Severity { return Critical }

func (g PerformanceGoal) Evaluate(snap metrics.Snapshot, runStart time.Time) Evaluation {
	deadlineAt := runStart.Add(g.Deadline)
	remaining := deadlineAt.Sub(snap.Timestamp)
	remainingMinutes := remaining.Minutes()

	remainingItems := float64(snap.TotalWorkItems - snap.WorkItemsProcessed)
	if remainingItems < 0 {
		remainingItems = 0
	}

	var requiredRate float64
	switch {
	case remainingMinutes > 0:
		requiredRate = math.Max(g.MinRatePerMinute, remainingItems/remainingMinutes)
	case remainingItems > 0:
		// Deadline has already passed with work still outstanding: no
		// finite rate clears it. Report it as unattainable; the status
		// switch below marks this VIOLATED via the deadline check anyway.
		requiredRate = math.Inf(1)
	default:
		requiredRate = g.MinRatePerMinute
	}

	currentRate := snap.FilesPerMinute
	rateGap := requiredRate - currentRate

	var percentComplete float64
	if snap.TotalWorkItems > 0 {
		percentComplete = 100 * float64(snap.WorkItemsProcessed) / float64(snap.TotalWorkItems)
	}

	dm := PerformanceMetrics{
		RequiredRate:        requiredRate,
		CurrentRate:         currentRate,
		RateGap:             rateGap,
		PercentComplete:      percentComplete,
		TimeRemainingMinutes: remainingMinutes,
	}

	var status Status
	switch {
	case !snap.Timestamp.Before(deadlineAt):
		status = Violated
	case currentRate < 0.5*requiredRate:
		status = Violated
	case currentRate < g.Tolerance*requiredRate:
		status = AtRisk
	default:
		status = Met
	}

	return Evaluation{GoalName: g.Name(), Status: status, Severity: g.Severity(), Metrics: dm}
}

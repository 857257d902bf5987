package strategy

import "github.com/batchworks/adaptivebatch/internal/goal"

// PerformanceStrategy advises increases when the run is falling behind
// deadline pace, per §4.5.
type PerformanceStrategy struct{}

func (PerformanceStrategy) Propose(eval goal.Evaluation) Delta {
	dm, ok := eval.Metrics.(goal.PerformanceMetrics)
	if !ok {
		return Delta{Reason: "no change"}
	}

	switch eval.Status {
	case goal.Violated:
		cap := perfCap(dm.PercentComplete)
		d := clampInt(ceilDiv(dm.RateGap, 2), 1, cap)
		return Delta{WorkItemDelta: d, ProcessingDelta: d, Reason: "performance violated"}
	case goal.AtRisk:
		d := clampInt(ceilDiv(dm.RateGap, 3), 1, 5)
		return Delta{WorkItemDelta: d, ProcessingDelta: d, Reason: "performance at risk"}
	case goal.Met:
		if dm.PercentComplete < 80 && dm.RateGap < -5 {
			return Delta{WorkItemDelta: 2, ProcessingDelta: 1, Reason: "performance buffer"}
		}
	}
	return Delta{Reason: "no change"}
}

func perfCap(percentComplete float64) int {
	switch {
	case percentComplete < 25:
		return 10
	case percentComplete < 50:
		return 8
	default:
		return 5
	}
}

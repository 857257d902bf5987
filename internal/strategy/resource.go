package strategy

import "github.com/batchworks/adaptivebatch/internal/goal"

// ResourceStrategy advises decreases when DB or heap pressure is high,
// per §4.5.
type ResourceStrategy struct{}

func (ResourceStrategy) Propose(eval goal.Evaluation) Delta {
	dm, ok := eval.Metrics.(goal.ResourceMetrics)
	if !ok {
		return Delta{Reason: "no change"}
	}
	worst := dm.DBUtilizationPercent
	if dm.HeapUtilizationPercent > worst {
		worst = dm.HeapUtilizationPercent
	}

	switch {
	case eval.Status == goal.Violated:
		d := -resourceViolatedMagnitude(worst)
		return Delta{WorkItemDelta: d, ProcessingDelta: d, Reason: "resource violated"}
	case eval.Status == goal.AtRisk || dm.ConnectionPressure:
		d := -resourceAtRiskMagnitude(worst)
		return Delta{WorkItemDelta: d, ProcessingDelta: d, Reason: "resource pressure"}
	}
	return Delta{Reason: "no change"}
}

func resourceViolatedMagnitude(worst float64) int {
	switch {
	case worst > 95:
		return 8
	case worst > 90:
		return 5
	default:
		return 3
	}
}

func resourceAtRiskMagnitude(worst float64) int {
	if worst > 88 {
		return 3
	}
	return 2
}

package strategy

import "github.com/batchworks/adaptivebatch/internal/goal"

// ErrorStrategy advises decreases when the error budget is under pressure,
// and a strong decrease (not an abort — that's the manager's call, and
// only for CRITICAL-severity goals) when a critical error type has been
// observed, per §4.5 and §7.
type ErrorStrategy struct{}

func (ErrorStrategy) Propose(eval goal.Evaluation) Delta {
	dm, ok := eval.Metrics.(goal.ErrorMetrics)
	if !ok {
		return Delta{Reason: "no change"}
	}

	if dm.HasCriticalError {
		return Delta{WorkItemDelta: -20, ProcessingDelta: -20, Reason: "critical error"}
	}

	switch eval.Status {
	case goal.Violated:
		d := -errorViolatedMagnitude(dm.ErrorRate)
		return Delta{WorkItemDelta: d, ProcessingDelta: d, Reason: "error budget violated"}
	case goal.AtRisk:
		d := -errorAtRiskMagnitude(dm.ErrorRate)
		return Delta{WorkItemDelta: d, ProcessingDelta: d, Reason: "error budget at risk"}
	}
	return Delta{Reason: "no change"}
}

func errorViolatedMagnitude(rate float64) int {
	switch {
	case rate > 0.10:
		return 8
	case rate > 0.07:
		return 5
	default:
		return 3
	}
}

func errorAtRiskMagnitude(rate float64) int {
	if rate > 0.05 {
		return 3
	}
	return 2
}

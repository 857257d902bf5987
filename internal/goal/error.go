package goal

import (
	"time"

	"github.com/batchworks/adaptivebatch/internal/metrics"
)

// ErrorMetrics is ErrorGoal's derived-metrics variant.
type ErrorMetrics struct {
	TotalErrors           int64
	ErrorRate             float64
	ErrorBudgetRemaining  int64
	FailedFiles           int64
	HasCriticalError      bool
}

// ErrorGoal watches the run's error budget. Severity is High, not
// Critical: per §9's open question, a critical-error observation produces
// a very large concurrency *decrease* via ErrorStrategy but the manager
// never aborts on it, because only a CRITICAL-severity goal in VIOLATED
// status trips the abort gate. If abort-on-critical-error is later wanted,
// this severity is the single place to change — noted, not assumed.
//
// MaxErrorRatePerFile is accepted and stored but intentionally unused by
// Evaluate: the source declares it but no observed evaluator branch reads
// it, so it is carried here as reserved configuration rather than guessed
// into a behavior that was never specified.
type ErrorGoal struct {
	MaxErrorRatePerFile float64
	MaxTotalErrorCount  int64
	CriticalErrorTypes  map[string]struct{}
}

func (g ErrorGoal) Name() string        { return "error" }
func (g ErrorGoal) Severity() Severity { return High }

func (g ErrorGoal) Evaluate(snap metrics.Snapshot, _ time.Time) Evaluation {
	denominator := snap.RecordsProcessed
	if denominator < 1 {
		denominator = 1
	}
	errorRate := float64(snap.TotalErrors) / float64(denominator)

	hasCritical := false
	for t := range g.CriticalErrorTypes {
		if snap.HasCriticalErrorType(t) {
			hasCritical = true
			break
		}
	}

	dm := ErrorMetrics{
		TotalErrors:          snap.TotalErrors,
		ErrorRate:            errorRate,
		ErrorBudgetRemaining: g.MaxTotalErrorCount - snap.TotalErrors,
		FailedFiles:          snap.FailedWorkItems,
		HasCriticalError:     hasCritical,
	}

	var status Status
	switch {
	case hasCritical || snap.TotalErrors > g.MaxTotalErrorCount:
		status = Violated
	case float64(snap.TotalErrors) > 0.7*float64(g.MaxTotalErrorCount):
		status = AtRisk
	default:
		status = Met
	}

	return Evaluation{GoalName: g.Name(), Status: status, Severity: g.Severity(), Metrics: dm}
}

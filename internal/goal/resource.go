package goal

import (
	"time"

	"github.com/batchworks/adaptivebatch/internal/metrics"
)

// ResourceMetrics is ResourceGoal's derived-metrics variant.
type ResourceMetrics struct {
	DBUtilizationPercent   float64
	ActiveConnections      int32
	AvailableConnections   int32
	SafeMaxConnections     int32
	HeapUtilizationPercent float64
	ConnectionPressure     bool
}

// ResourceGoal watches database and heap pressure. Severity is High: it
// drives a decrease in strategy but, unlike PerformanceGoal, never aborts
// a run on its own (see §9 open question on ErrorGoal's severity, which
// applies symmetrically here: resource exhaustion throttles, it doesn't
// kill the run).
type ResourceGoal struct {
	MaxDBConnections    int32
	MaxDBUtilization    float64 // in (0, 1]
	MaxHeapUtilization  float64 // in (0, 1]
}

func (g ResourceGoal) Name() string        { return "resource" }
func (g ResourceGoal) Severity() Severity { return High }

func (g ResourceGoal) Evaluate(snap metrics.Snapshot, _ time.Time) Evaluation {
	var dbUtilization float64
	if g.MaxDBConnections > 0 {
		dbUtilization = float64(snap.ActiveDBConnections) / float64(g.MaxDBConnections)
	}

	safeMax := int32(float64(g.MaxDBConnections) * g.MaxDBUtilization)
	available := g.MaxDBConnections - snap.ActiveDBConnections
	if available < 0 {
		available = 0
	}

	dbOverMax := dbUtilization > g.MaxDBUtilization
	dbOverAtRisk := dbUtilization > 0.85*g.MaxDBUtilization
	heapOverMax := snap.HeapUtilization > g.MaxHeapUtilization
	heapOverAtRisk := snap.HeapUtilization > 0.85*g.MaxHeapUtilization

	dm := ResourceMetrics{
		DBUtilizationPercent:   100 * dbUtilization,
		ActiveConnections:      snap.ActiveDBConnections,
		AvailableConnections:   available,
		SafeMaxConnections:     safeMax,
		HeapUtilizationPercent: 100 * snap.HeapUtilization,
		ConnectionPressure:     dbOverAtRisk,
	}

	var status Status
	switch {
	case dbOverMax || heapOverMax:
		status = Violated
	case dbOverAtRisk || heapOverAtRisk:
		status = AtRisk
	default:
		status = Met
	}

	return Evaluation{GoalName: g.Name(), Status: status, Severity: g.Severity(), Metrics: dm}
}

// Package manager implements the RuntimeManager (C6): the periodic tick
// loop that evaluates every goal against the latest snapshot, asks each
// goal's strategy for a proposed dial adjustment, resolves conflicting
// proposals into one adjustment per dial, and applies it to the engine's
// gates — subject to an oscillation-protection cooldown. Grounded on the
// teacher's periodic-reconciliation loop in pkg/sync/sync_engine.go (a
// ticker-driven loop that reads stats and reacts), generalized from
// "reconcile state" to "reconcile concurrency against goals".
package manager

import (
	"sort"
	"time"

	"github.com/batchworks/adaptivebatch/internal/batchlog"
	"github.com/batchworks/adaptivebatch/internal/gate"
	"github.com/batchworks/adaptivebatch/internal/goal"
	"github.com/batchworks/adaptivebatch/internal/metrics"
	"github.com/batchworks/adaptivebatch/internal/strategy"
)

// EngineControl is the subset of *engine.Engine[T, R, V] the manager needs.
// Declared independently so manager does not take a type parameter on the
// engine's generic arguments.
type EngineControl interface {
	Abort(reason string)
	Aborted() bool
	AdjustConcurrency(workItemDelta, processingDelta int) gate.Settings
	CurrentConcurrency() gate.Settings
	ConcurrencyLimits() gate.Limits
}

// Binding pairs one goal with the strategy that advises on its
// evaluations. A goal bound to strategy.NoOpStrategy is observed and
// reported but never acted on.
type Binding struct {
	Goal     goal.Goal
	Strategy strategy.Strategy
}

// Config wires a RuntimeManager's collaborators.
type Config struct {
	Bindings []Binding
	Engine   EngineControl
	Logger   *batchlog.Logger

	// CooldownTicks is the number of ticks that must elapse after an
	// applied adjustment before another adjustment on the same dial in
	// the opposite direction is allowed, per §8's oscillation-protection
	// scenario. Zero disables cooldown.
	CooldownTicks int
}

// lastAdjustment records the most recent applied sign per dial and the
// tick it was applied on, for oscillation protection.
type lastAdjustment struct {
	workItemSign   int
	processingSign int
	appliedAtTick  int
}

// RuntimeManager runs the tick loop described in §4.6: snapshot, evaluate,
// abort gate, propose, resolve conflicts, clamp, apply.
type RuntimeManager struct {
	cfg      Config
	tick     int
	last     lastAdjustment
	hasLast  bool
}

// New constructs a RuntimeManager. Engine and at least one Binding are
// required.
func New(cfg Config) *RuntimeManager {
	if cfg.Logger == nil {
		cfg.Logger = batchlog.New(batchlog.DefaultConfig())
	}
	return &RuntimeManager{cfg: cfg}
}

// TickResult reports what a single Tick observed and did, for logging and
// testing.
type TickResult struct {
	Evaluations []goal.Evaluation
	Applied     strategy.Delta
	Aborted     bool
	AbortReason string
	Settings    gate.Settings
}

// Tick runs one reconciliation pass against snap: evaluate every bound
// goal, abort on a CRITICAL-severity Violated evaluation (§4.6's abort
// gate — the only path that terminates a run from inside the manager),
// otherwise gather each goal's strategy proposal, resolve conflicts into
// one delta, clamp to limits, and apply it subject to oscillation
// protection.
func (m *RuntimeManager) Tick(snap metrics.Snapshot, runStart time.Time) TickResult {
	m.tick++

	evaluations := make([]goal.Evaluation, 0, len(m.cfg.Bindings))
	for _, b := range m.cfg.Bindings {
		evaluations = append(evaluations, b.Goal.Evaluate(snap, runStart))
	}

	if m.cfg.Engine.Aborted() {
		return TickResult{Evaluations: evaluations, Aborted: true, Settings: m.cfg.Engine.CurrentConcurrency()}
	}

	for _, eval := range evaluations {
		if eval.Severity == goal.Critical && eval.Status == goal.Violated {
			reason := "critical goal violated: " + eval.GoalName
			m.cfg.Engine.Abort(reason)
			m.cfg.Logger.Warn("aborting run", map[string]any{"goal": eval.GoalName, "reason": reason})
			return TickResult{Evaluations: evaluations, Aborted: true, AbortReason: reason, Settings: m.cfg.Engine.CurrentConcurrency()}
		}
	}

	proposals := make([]proposal, 0, len(m.cfg.Bindings))
	for i, b := range m.cfg.Bindings {
		d := b.Strategy.Propose(evaluations[i])
		if d.IsNoChange() {
			continue
		}
		proposals = append(proposals, proposal{delta: d, severity: b.Goal.Severity(), order: i})
	}

	resolved := resolveConflicts(proposals)
	applied := m.apply(resolved)

	return TickResult{
		Evaluations: evaluations,
		Applied:     applied,
		Settings:    m.cfg.Engine.CurrentConcurrency(),
	}
}

// proposal is one goal's non-no-change strategy.Delta plus the context
// resolveConflicts needs to break ties: the proposing goal's fixed
// severity and its insertion order among this tick's bindings.
type proposal struct {
	delta    strategy.Delta
	severity goal.Severity
	order    int
}

// resolveConflicts implements §8's conflict-resolution rule: drop
// no-change proposals (already done by the caller), partition the rest
// into increases and decreases, and let decreases dominate whenever both
// are present — a decrease proposal exists because something is under
// pressure, and safety wins over throughput. Within a single partition,
// ties are broken by largest magnitude on the workItem axis, then by
// largest magnitude on the processing axis, then by severity (Critical >
// High > Medium > Low), then by insertion order.
func resolveConflicts(proposals []proposal) strategy.Delta {
	if len(proposals) == 0 {
		return strategy.Delta{Reason: "no change"}
	}

	var increases, decreases []proposal
	for _, p := range proposals {
		if p.delta.IsDecrease() {
			decreases = append(decreases, p)
		} else if p.delta.IsIncrease() {
			increases = append(increases, p)
		}
	}

	pool := decreases
	if len(pool) == 0 {
		pool = increases
	}
	if len(pool) == 0 {
		return strategy.Delta{Reason: "no change"}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		wi, wj := abs(pool[i].delta.WorkItemDelta), abs(pool[j].delta.WorkItemDelta)
		if wi != wj {
			return wi > wj
		}
		pi, pj := abs(pool[i].delta.ProcessingDelta), abs(pool[j].delta.ProcessingDelta)
		if pi != pj {
			return pi > pj
		}
		if pool[i].severity != pool[j].severity {
			return pool[i].severity > pool[j].severity
		}
		return pool[i].order < pool[j].order
	})

	return pool[0].delta
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// apply enforces the oscillation-protection cooldown from §8: once a
// non-zero delta has been applied to a dial, an opposite-sign delta on
// that same dial is suppressed until CooldownTicks have elapsed.
// Same-sign deltas (reinforcing the last move) and zero-sign dials are
// never suppressed.
func (m *RuntimeManager) apply(d strategy.Delta) strategy.Delta {
	if d.IsNoChange() {
		return d
	}

	wiSign, procSign := sign(d.WorkItemDelta), sign(d.ProcessingDelta)
	wiDelta, procDelta := d.WorkItemDelta, d.ProcessingDelta

	if m.hasLast && m.cfg.CooldownTicks > 0 && m.tick-m.last.appliedAtTick < m.cfg.CooldownTicks {
		if wiSign != 0 && m.last.workItemSign != 0 && wiSign != m.last.workItemSign {
			wiDelta = 0
		}
		if procSign != 0 && m.last.processingSign != 0 && procSign != m.last.processingSign {
			procDelta = 0
		}
	}

	if wiDelta == 0 && procDelta == 0 {
		m.cfg.Logger.Info("adjustment suppressed by cooldown", map[string]any{"reason": d.Reason})
		return strategy.Delta{Reason: "suppressed by cooldown"}
	}

	settings := m.cfg.Engine.AdjustConcurrency(wiDelta, procDelta)
	m.last = lastAdjustment{workItemSign: sign(wiDelta), processingSign: sign(procDelta), appliedAtTick: m.tick}
	m.hasLast = true

	m.cfg.Logger.Info("adjusted concurrency", map[string]any{
		"reason":                 d.Reason,
		"work_item_delta":        wiDelta,
		"processing_delta":       procDelta,
		"work_item_concurrency":  settings.WorkItemConcurrency,
		"processing_concurrency": settings.ProcessingConcurrency,
	})
	return strategy.Delta{WorkItemDelta: wiDelta, ProcessingDelta: procDelta, Reason: d.Reason}
}

// Package sizer implements the one-shot pre-flight WorkloadSizer (C7):
// given an item count (or a way to derive one) and a ResourceSnapshot, it
// computes the initial concurrency dials an Engine should start with.
// Grounded on the teacher's tiered classification idiom in
// pkg/storage/cache/adaptive_cache.go (small/medium/large cache-tier
// thresholds driving different eviction policies), here driving different
// initial concurrency policies instead.
package sizer

import (
	"context"
	"errors"

	"github.com/batchworks/adaptivebatch/internal/gate"
)

// Strategy selects how the sizer derives a total record count.
type Strategy int

const (
	// Static skips record counting entirely; dials start at their
	// minimums and the manager grows them as the run progresses.
	Static Strategy = iota
	// Estimated multiplies the item count by a caller-supplied average
	// records-per-item.
	Estimated
	// Dynamic invokes a RecordCounter once to get an exact total.
	Dynamic
)

// RecordCounter returns the total record count across all work items for
// this run. Invoked at most once, by Dynamic sizing.
type RecordCounter func(ctx context.Context) (int64, error)

// Classification buckets an item count for WorkloadAwareConcurrencyStrategy.
type Classification int

const (
	Small Classification = iota
	Medium
	Large
)

// Classify buckets itemCount per §4.7: SMALL < 50, MEDIUM < 500, LARGE
// otherwise.
func Classify(itemCount int) Classification {
	switch {
	case itemCount < 50:
		return Small
	case itemCount < 500:
		return Medium
	default:
		return Large
	}
}

// ResourceSnapshot is the pre-flight resource picture the sizer clamps
// against — most importantly the database connection budget, since
// work-item concurrency must leave headroom for the processing side to
// also open connections.
type ResourceSnapshot struct {
	AvailableDBConnections int
}

// Input bundles everything a sizer needs for one pre-flight sizing call.
type Input struct {
	Strategy                 Strategy
	ItemCount                int
	EstimatedRecordsPerItem  int64
	RecordCounter            RecordCounter
	Resources                ResourceSnapshot
	Limits                   gate.Limits
}

// Result is the sizer's output: the initial dial settings plus the total
// record count it derived (zero for Static sizing).
type Result struct {
	Initial      gate.Settings
	TotalRecords int64
}

// ConcurrencyStrategy maps a workload Classification plus Limits to an
// initial gate.Settings. WorkloadAwareConcurrencyStrategy, Conservative
// and Aggressive are the three bindings §4.7 names.
type ConcurrencyStrategy interface {
	Propose(class Classification, limits gate.Limits) gate.Settings
}

// WorkloadAwareConcurrencyStrategy scales initial concurrency to workload
// size: SMALL starts at the floor, MEDIUM at the midpoint, LARGE at 80% of
// the ceiling.
type WorkloadAwareConcurrencyStrategy struct{}

func (WorkloadAwareConcurrencyStrategy) Propose(class Classification, limits gate.Limits) gate.Settings {
	switch class {
	case Small:
		return gate.Settings{WorkItemConcurrency: limits.MinWorkItem, ProcessingConcurrency: limits.MinProcessing}
	case Medium:
		return gate.Settings{
			WorkItemConcurrency:   midpoint(limits.MinWorkItem, limits.MaxWorkItem),
			ProcessingConcurrency: midpoint(limits.MinProcessing, limits.MaxProcessing),
		}
	default:
		return gate.Settings{
			WorkItemConcurrency:   floorFrac(limits.MaxWorkItem, 0.8),
			ProcessingConcurrency: floorFrac(limits.MaxProcessing, 0.8),
		}
	}
}

// ConservativeConcurrencyStrategy always starts at the floor, regardless
// of workload size — for runs sharing resources with other tenants.
type ConservativeConcurrencyStrategy struct{}

func (ConservativeConcurrencyStrategy) Propose(_ Classification, limits gate.Limits) gate.Settings {
	return gate.Settings{WorkItemConcurrency: limits.MinWorkItem, ProcessingConcurrency: limits.MinProcessing}
}

// AggressiveConcurrencyStrategy starts work-item concurrency as high as
// the DB connection budget allows and processing concurrency at its
// ceiling, for runs that own their resources outright.
type AggressiveConcurrencyStrategy struct {
	Resources ResourceSnapshot
}

func (a AggressiveConcurrencyStrategy) Propose(_ Classification, limits gate.Limits) gate.Settings {
	wi := limits.MaxWorkItem
	if byDB := floorFrac(a.Resources.AvailableDBConnections, 0.8); byDB < wi {
		wi = byDB
	}
	if wi < limits.MinWorkItem {
		wi = limits.MinWorkItem
	}
	return gate.Settings{WorkItemConcurrency: wi, ProcessingConcurrency: limits.MaxProcessing}
}

// Size runs the one-shot pre-flight sizing described in §4.7. STATIC
// sizing bypasses workload classification and the bound ConcurrencyStrategy
// entirely: per §4.7, its initial dials are always (minWI, minProc), the
// floor the manager then grows from as real progress is observed.
// ESTIMATED and DYNAMIC sizing derive a total record count and route the
// item count's Classification through the ConcurrencyStrategy. Every path
// still clamps work-item concurrency to leave headroom in the DB
// connection pool.
func Size(ctx context.Context, in Input, strategy ConcurrencyStrategy) (Result, error) {
	if strategy == nil {
		strategy = WorkloadAwareConcurrencyStrategy{}
	}

	var totalRecords int64
	var settings gate.Settings
	switch in.Strategy {
	case Static:
		// No record count derived; stays at zero until the manager's
		// snapshots observe real progress. Dials start at the floor,
		// independent of classification or the bound ConcurrencyStrategy.
		settings = gate.Settings{WorkItemConcurrency: in.Limits.MinWorkItem, ProcessingConcurrency: in.Limits.MinProcessing}
	case Estimated:
		if in.EstimatedRecordsPerItem <= 0 {
			return Result{}, errors.New("sizer: estimated sizing requires a positive estimatedRecordsPerItem")
		}
		totalRecords = int64(in.ItemCount) * in.EstimatedRecordsPerItem
		settings = strategy.Propose(Classify(in.ItemCount), in.Limits)
	case Dynamic:
		if in.RecordCounter == nil {
			return Result{}, errors.New("sizer: dynamic sizing requires a RecordCounter")
		}
		n, err := in.RecordCounter(ctx)
		if err != nil {
			return Result{}, err
		}
		totalRecords = n
		settings = strategy.Propose(Classify(in.ItemCount), in.Limits)
	default:
		return Result{}, errors.New("sizer: unknown sizing strategy")
	}

	if in.Resources.AvailableDBConnections > 0 {
		dbCap := floorFrac(in.Resources.AvailableDBConnections, 0.7)
		if settings.WorkItemConcurrency > dbCap {
			settings.WorkItemConcurrency = dbCap
		}
	}
	settings.WorkItemConcurrency = clampInt(settings.WorkItemConcurrency, in.Limits.MinWorkItem, in.Limits.MaxWorkItem)
	settings.ProcessingConcurrency = clampInt(settings.ProcessingConcurrency, in.Limits.MinProcessing, in.Limits.MaxProcessing)

	return Result{Initial: settings, TotalRecords: totalRecords}, nil
}

func midpoint(lo, hi int) int {
	return lo + (hi-lo)/2
}

func floorFrac(v int, frac float64) int {
	return int(float64(v) * frac)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

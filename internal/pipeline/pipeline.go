// Package pipeline implements the PipelineExecutor (C8): the top-level
// driver that sizes, configures, starts, and tears down one run. Grounded
// on the teacher's periodic-loop idiom in
// pkg/storage/cache/adaptive_cache.go (ticker := time.NewTicker(...); for
// range ticker.C { ... }, stopped via defer ticker.Stop()), here driving
// the manager's tick loop alongside the engine's own goroutine instead of
// a cache maintenance sweep.
package pipeline

import (
	"context"
	"time"

	"github.com/batchworks/adaptivebatch/internal/batchlog"
	"github.com/batchworks/adaptivebatch/internal/engine"
	"github.com/batchworks/adaptivebatch/internal/gate"
	"github.com/batchworks/adaptivebatch/internal/manager"
	"github.com/batchworks/adaptivebatch/internal/metrics"
	"github.com/batchworks/adaptivebatch/internal/obscontext"
	"github.com/batchworks/adaptivebatch/internal/runconfig"
	"github.com/batchworks/adaptivebatch/internal/sizer"
)

// Hooks are simple side-effect callbacks a caller can bind around the
// pipeline's high-level steps (sizing, execution) and around each work
// item's batch of records (a "batch" in §4.8's sense: one work item's
// records, the unit the sizer and engine reason about). Any nil hook is
// skipped; implementations must be non-blocking, same as ProgressTracker.
type Hooks struct {
	BeforeStep  func(step string)
	AfterStep   func(step string)
	BeforeBatch func(itemCount int)
	AfterBatch  func()
}

func (h Hooks) beforeStep(step string) {
	if h.BeforeStep != nil {
		h.BeforeStep(step)
	}
}

func (h Hooks) afterStep(step string) {
	if h.AfterStep != nil {
		h.AfterStep(step)
	}
}

// hookingTracker wraps a caller's ProgressTracker to additionally fire
// BeforeBatch/AfterBatch around each work item, without requiring the
// engine itself to know about pipeline-level hooks.
type hookingTracker[T, V any] struct {
	inner engine.ProgressTracker[T, V]
	hooks Hooks
}

func (t hookingTracker[T, V]) OnWorkItemStart(item T) {
	if t.hooks.BeforeBatch != nil {
		t.hooks.BeforeBatch(0)
	}
	t.inner.OnWorkItemStart(item)
}

func (t hookingTracker[T, V]) OnWorkItemComplete(item T, recordCount int, results []engine.ProcessingResult[V]) {
	t.inner.OnWorkItemComplete(item, recordCount, results)
	if t.hooks.AfterBatch != nil {
		t.hooks.AfterBatch()
	}
}

func (t hookingTracker[T, V]) OnWorkItemFailure(item T, err error) {
	t.inner.OnWorkItemFailure(item, err)
	if t.hooks.AfterBatch != nil {
		t.hooks.AfterBatch()
	}
}

func (t hookingTracker[T, V]) ReportProgress(processed, total int64) {
	t.inner.ReportProgress(processed, total)
}

// RunResult is what Executor.Run returns: the engine's own result plus the
// final gate settings observed and the number of manager ticks that ran.
type RunResult struct {
	Execution  engine.ExecutionResult
	FinalDials gate.Settings
	TicksRun   int
}

// Executor drives one run end-to-end: size, build gates, start the
// engine, start the manager on a ticker, wait for the engine to finish,
// stop the ticker, and return.
type Executor[T, R, V any] struct {
	Config    runconfig.RunConfig
	Fetcher   engine.WorkItemFetcher[T]
	Reader    engine.WorkItemReader[T, R]
	Processor engine.BatchProcessor[R, V]
	Tracker   engine.ProgressTracker[T, V]

	DBProbe metrics.DBPoolProbe
	// ItemCounter optionally pre-counts work items for sizing, ahead of
	// the engine's own (separate) call to Fetcher. Leave nil to size
	// conservatively (as if there were zero items, i.e. SMALL).
	ItemCounter func(ctx context.Context) (int, error)
	Logger      *batchlog.Logger
	Hooks       Hooks

	// OnSnapshot, if set, is invoked with every MetricsSnapshot the
	// manager's ticker collects, letting a caller (e.g. cmd/batchtrigger's
	// polling endpoint) observe live progress without waiting for Run to
	// return. Must be non-blocking, same contract as ProgressTracker.
	OnSnapshot func(metrics.Snapshot)
}

// Run executes one pipeline run against ec, blocking until the engine
// completes or aborts.
func (e *Executor[T, R, V]) Run(ctx context.Context, ec *obscontext.ExecutionContext) (RunResult, error) {
	if err := e.Config.Validate(); err != nil {
		return RunResult{}, err
	}
	logger := e.Logger
	if logger == nil {
		logger = batchlog.New(batchlog.DefaultConfig()).With("pipeline")
	}

	runStart := time.Now()

	e.Hooks.beforeStep("size")
	itemCount := 0
	if e.ItemCounter != nil {
		n, err := e.ItemCounter(ctx)
		if err != nil {
			return RunResult{}, err
		}
		itemCount = n
	}

	sizing, err := sizer.Size(ctx, sizer.Input{
		Strategy:                e.Config.Sizing,
		ItemCount:               itemCount,
		EstimatedRecordsPerItem: e.Config.EstimatedRecordsPerItem,
		RecordCounter:           e.Config.RecordCounter,
		Limits:                  e.Config.Limits,
	}, e.Config.ConcurrencyStrategy)
	if err != nil {
		return RunResult{}, err
	}
	e.Hooks.afterStep("size")

	gates, err := gate.New(e.Config.Limits, sizing.Initial)
	if err != nil {
		return RunResult{}, err
	}

	collector := metrics.NewCollector(runStart, e.DBProbe)

	tracker := e.Tracker
	if tracker == nil {
		tracker = engine.NopProgressTracker[T, V]{}
	}
	tracker = hookingTracker[T, V]{inner: tracker, hooks: e.Hooks}

	eng, err := engine.New(engine.Config[T, R, V]{
		Fetcher:      e.Fetcher,
		Reader:       e.Reader,
		Processor:    e.Processor,
		Tracker:      tracker,
		Gates:        gates,
		BatchSize:    e.Config.BatchSize,
		CriticalSink: collector,
	})
	if err != nil {
		return RunResult{}, err
	}

	mgr := manager.New(manager.Config{
		Bindings:      e.Config.Bindings,
		Engine:        eng,
		Logger:        logger,
		CooldownTicks: e.Config.CooldownTicks,
	})

	tickCtx, stopTicks := context.WithCancel(ctx)
	ticks := 0
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		ticker := time.NewTicker(e.Config.TickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				snap := collector.Snapshot(metrics.Counters(eng.Metrics()))
				mgr.Tick(snap, runStart)
				ticks++
				if e.OnSnapshot != nil {
					e.OnSnapshot(snap)
				}
			}
		}
	}()

	e.Hooks.beforeStep("execute")
	result, execErr := eng.Execute(ctx, ec)
	e.Hooks.afterStep("execute")

	stopTicks()
	<-tickerDone

	return RunResult{Execution: result, FinalDials: eng.CurrentConcurrency(), TicksRun: ticks}, execErr
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/batchworks/adaptivebatch/internal/gate"
	"github.com/batchworks/adaptivebatch/internal/obscontext"
)

// CriticalErrorSink receives a critical-error type observed while running,
// normally backed by a metrics.Collector. It is optional.
type CriticalErrorSink interface {
	RecordCriticalError(errType string)
}

// Config wires an Engine's collaborators and limits.
type Config[T, R, V any] struct {
	Fetcher      WorkItemFetcher[T]
	Reader       WorkItemReader[T, R]
	Processor    BatchProcessor[R, V]
	Tracker      ProgressTracker[T, V]
	Gates        *gate.Gates
	BatchSize    int
	CriticalSink CriticalErrorSink
	// ProgressEvery throttles ReportProgress to every Nth completed work
	// item (also reported when the completed count reaches the total, which
	// does not happen once any item has failed). Defaults to 1.
	ProgressEvery int64
}

// Engine runs the fan-out-fan-in algorithm described in §4.2: one task per
// work item under the workItem gate, chunking its records into batchSize
// batches each processed under the processing gate.
type Engine[T, R, V any] struct {
	cfg Config[T, R, V]

	workItemsProcessed atomic.Int64
	totalWorkItems      atomic.Int64
	recordsProcessed    atomic.Int64
	totalErrors         atomic.Int64
	failedWorkItems     atomic.Int64

	abortOnce   sync.Once
	aborted     atomic.Bool
	abortReason atomic.Value
}

// New validates cfg and constructs an Engine.
func New[T, R, V any](cfg Config[T, R, V]) (*Engine[T, R, V], error) {
	if cfg.Fetcher == nil || cfg.Reader == nil || cfg.Processor == nil {
		return nil, errors.New("engine: fetcher, reader and processor are required")
	}
	if cfg.Gates == nil {
		return nil, errors.New("engine: gates are required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("engine: batchSize must be positive")
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NopProgressTracker[T, V]{}
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 1
	}
	return &Engine[T, R, V]{cfg: cfg}, nil
}

// Execute runs to completion or abortion; it never returns a partial
// result — the returned ExecutionResult always reflects every work item
// the fetcher produced.
func (e *Engine[T, R, V]) Execute(ctx context.Context, ec *obscontext.ExecutionContext) (ExecutionResult, error) {
	items, err := e.cfg.Fetcher.FetchWorkItems(ctx, ec)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("engine: fetch work items: %w", err)
	}
	e.totalWorkItems.Store(int64(len(items)))

	var wg sync.WaitGroup
	wg.Add(len(items))
	for _, item := range items {
		item := item
		go func() {
			defer wg.Done()
			e.runWorkItem(ctx, item, ec)
		}()
	}
	wg.Wait()

	reason, _ := e.abortReason.Load().(string)
	return ExecutionResult{
		Success:            !e.aborted.Load(),
		AbortReason:        reason,
		WorkItemsProcessed: e.workItemsProcessed.Load(),
		TotalWorkItems:     e.totalWorkItems.Load(),
		RecordsProcessed:   e.recordsProcessed.Load(),
		TotalErrors:        e.totalErrors.Load(),
		FailedWorkItems:    e.failedWorkItems.Load(),
	}, nil
}

func (e *Engine[T, R, V]) runWorkItem(ctx context.Context, item T, ec *obscontext.ExecutionContext) {
	if err := e.cfg.Gates.AcquireWorkItem(ctx); err != nil {
		// Cooperative abort: no new work items are acquired. The item is
		// neither processed nor counted as failed — it was never started.
		return
	}
	defer e.cfg.Gates.ReleaseWorkItem()

	e.cfg.Tracker.OnWorkItemStart(item)

	records, err := e.cfg.Reader.ReadWorkItem(ctx, item, ec)
	if err != nil {
		e.failedWorkItems.Add(1)
		e.totalErrors.Add(1)
		e.cfg.Tracker.OnWorkItemFailure(item, err)
		e.noteCritical(err)
		return
	}

	batches := chunk(records, e.cfg.BatchSize)

	var batchWG sync.WaitGroup
	batchWG.Add(len(batches))
	allResults := make([][]ProcessingResult[V], len(batches))
	for i, batch := range batches {
		i, batch := i, batch
		go func() {
			defer batchWG.Done()
			allResults[i] = e.runBatch(ctx, batch, ec)
		}()
	}
	batchWG.Wait()

	var flat []ProcessingResult[V]
	for _, r := range allResults {
		flat = append(flat, r...)
	}

	e.cfg.Tracker.OnWorkItemComplete(item, len(records), flat)

	processed := e.workItemsProcessed.Add(1)
	total := e.totalWorkItems.Load()
	if processed%e.cfg.ProgressEvery == 0 || processed == total {
		e.cfg.Tracker.ReportProgress(processed, total)
	}
}

// runBatch acquires the processing gate and invokes the processor. It must
// never acquire the workItem gate — doing so would risk the two-gate
// deadlock the spec calls out as a hard invariant.
func (e *Engine[T, R, V]) runBatch(ctx context.Context, batch []R, ec *obscontext.ExecutionContext) []ProcessingResult[V] {
	if err := e.cfg.Gates.AcquireProcessing(ctx); err != nil {
		return e.allFailed(batch, err, true)
	}
	defer e.cfg.Gates.ReleaseProcessing()

	results, err := e.safeProcessBatch(ctx, batch, ec)
	if err != nil {
		e.noteCritical(err)
		return e.allFailed(batch, err, true)
	}
	if len(results) != len(batch) {
		e.Abort("engine invariant")
		return e.allFailed(batch, ErrInvariantViolated, false)
	}

	var errCount int64
	for _, r := range results {
		if !r.Ok() {
			errCount++
			e.noteCritical(r.Err)
		}
	}
	if errCount > 0 {
		e.totalErrors.Add(errCount)
	}
	e.recordsProcessed.Add(int64(len(batch)))
	return results
}

func (e *Engine[T, R, V]) allFailed(batch []R, err error, countRecords bool) []ProcessingResult[V] {
	out := make([]ProcessingResult[V], len(batch))
	for i := range out {
		out[i] = Failure[V](err)
	}
	e.totalErrors.Add(int64(len(batch)))
	if countRecords {
		e.recordsProcessed.Add(int64(len(batch)))
	}
	return out
}

func (e *Engine[T, R, V]) safeProcessBatch(ctx context.Context, batch []R, ec *obscontext.ExecutionContext) (results []ProcessingResult[V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: processor panic: %v", r)
		}
	}()
	return e.cfg.Processor.ProcessBatch(ctx, batch, ec)
}

func (e *Engine[T, R, V]) noteCritical(err error) {
	if err == nil || e.cfg.CriticalSink == nil {
		return
	}
	var ce CriticalError
	if errors.As(err, &ce) {
		e.cfg.CriticalSink.RecordCriticalError(ce.CriticalType())
	}
}

// Abort signals cooperative shutdown. In-flight batches are allowed to
// complete; no new gate acquisitions succeed afterward. Idempotent: only
// the first call's reason sticks.
func (e *Engine[T, R, V]) Abort(reason string) {
	e.abortOnce.Do(func() {
		e.aborted.Store(true)
		e.abortReason.Store(reason)
		e.cfg.Gates.Abort()
	})
}

// Aborted reports whether Abort has been called.
func (e *Engine[T, R, V]) Aborted() bool { return e.aborted.Load() }

// AdjustConcurrency clamps to ConcurrencyLimits via the gates and is a
// no-op once the run has started aborting — abort is terminal.
func (e *Engine[T, R, V]) AdjustConcurrency(workItemDelta, processingDelta int) gate.Settings {
	current := e.cfg.Gates.CurrentSettings()
	if e.aborted.Load() {
		return current
	}
	return e.cfg.Gates.Resize(current.WorkItemConcurrency+workItemDelta, current.ProcessingConcurrency+processingDelta)
}

// CurrentConcurrency returns the live gate capacities.
func (e *Engine[T, R, V]) CurrentConcurrency() gate.Settings { return e.cfg.Gates.CurrentSettings() }

// ConcurrencyLimits returns the run-scoped bounds.
func (e *Engine[T, R, V]) ConcurrencyLimits() gate.Limits { return e.cfg.Gates.Limits() }

// Metrics returns live counters without blocking.
func (e *Engine[T, R, V]) Metrics() Counters {
	return Counters{
		WorkItemsProcessed: e.workItemsProcessed.Load(),
		TotalWorkItems:     e.totalWorkItems.Load(),
		RecordsProcessed:   e.recordsProcessed.Load(),
		TotalErrors:        e.totalErrors.Load(),
		FailedWorkItems:    e.failedWorkItems.Load(),
	}
}

func chunk[R any](records []R, size int) [][]R {
	if len(records) == 0 {
		return nil
	}
	batches := make([][]R, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[i:end])
	}
	return batches
}

// Package engine implements the parallel batch engine (C2): it fans work
// items out under the work-item gate, and each work item's records out
// under the processing gate, aggregating results and progress.
package engine

import (
	"context"

	"github.com/batchworks/adaptivebatch/internal/obscontext"
)

// RecordBatch is an ordered, size-bounded slice of records. The last batch
// of a work item may be shorter than batchSize; empty batches are never
// emitted.
type RecordBatch[R any] struct {
	Records []R
}

// ProcessingResult is the success(value) / failure(cause) tagged variant
// produced once per input record, in the same order as its batch.
type ProcessingResult[V any] struct {
	Value V
	Err   error
}

// Ok reports whether this result represents a success.
func (p ProcessingResult[V]) Ok() bool { return p.Err == nil }

// Success builds a successful ProcessingResult.
func Success[V any](v V) ProcessingResult[V] { return ProcessingResult[V]{Value: v} }

// Failure builds a failed ProcessingResult.
func Failure[V any](err error) ProcessingResult[V] { return ProcessingResult[V]{Err: err} }

// WorkItemFetcher produces the full list of work items for a run. It is
// called exactly once; failure propagates as run failure (ConfigurationError
// territory if it happens before any work starts).
type WorkItemFetcher[T any] interface {
	FetchWorkItems(ctx context.Context, ec *obscontext.ExecutionContext) ([]T, error)
}

// WorkItemReader expands a single work item into its finite sequence of
// records. It is called once per item; restart-on-retry is the caller's
// concern, not the engine's.
type WorkItemReader[T, R any] interface {
	ReadWorkItem(ctx context.Context, item T, ec *obscontext.ExecutionContext) ([]R, error)
}

// BatchProcessor processes one record batch, returning exactly one
// ProcessingResult per input record, in input order.
type BatchProcessor[R, V any] interface {
	ProcessBatch(ctx context.Context, records []R, ec *obscontext.ExecutionContext) ([]ProcessingResult[V], error)
}

// ProgressTracker receives non-blocking, side-effect-only notifications.
// Implementations must not block the caller.
type ProgressTracker[T, V any] interface {
	OnWorkItemStart(item T)
	OnWorkItemComplete(item T, recordCount int, results []ProcessingResult[V])
	OnWorkItemFailure(item T, err error)
	ReportProgress(processed, total int64)
}

// NopProgressTracker implements ProgressTracker with no-ops, for callers
// that don't need observation.
type NopProgressTracker[T, V any] struct{}

func (NopProgressTracker[T, V]) OnWorkItemStart(T)                                    {}
func (NopProgressTracker[T, V]) OnWorkItemComplete(T, int, []ProcessingResult[V]) {}
func (NopProgressTracker[T, V]) OnWorkItemFailure(T, error)                           {}
func (NopProgressTracker[T, V]) ReportProgress(int64, int64)                          {}

// ExecutionResult is returned by a completed (or aborted) run.
type ExecutionResult struct {
	Success            bool
	AbortReason        string
	WorkItemsProcessed int64
	TotalWorkItems     int64
	RecordsProcessed   int64
	TotalErrors        int64
	FailedWorkItems    int64
}

// Counters is the live, lock-free-read snapshot exposed by Metrics().
type Counters struct {
	WorkItemsProcessed int64
	TotalWorkItems     int64
	RecordsProcessed   int64
	TotalErrors        int64
	FailedWorkItems    int64
}

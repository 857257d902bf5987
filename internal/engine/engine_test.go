package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchworks/adaptivebatch/internal/gate"
	"github.com/batchworks/adaptivebatch/internal/obscontext"
)

func testGates(t *testing.T, wi, proc int) *gate.Gates {
	t.Helper()
	g, err := gate.New(gate.Limits{MinWorkItem: 1, MaxWorkItem: 50, MinProcessing: 1, MaxProcessing: 50}, gate.Settings{WorkItemConcurrency: wi, ProcessingConcurrency: proc})
	require.NoError(t, err)
	return g
}

// fixedFetcher returns a fixed list of int work items.
type fixedFetcher struct{ items []int }

func (f fixedFetcher) FetchWorkItems(context.Context, *obscontext.ExecutionContext) ([]int, error) {
	return f.items, nil
}

// countingReader expands each work item into n records numbered 0..n-1.
type countingReader struct{ recordsPerItem int }

func (r countingReader) ReadWorkItem(_ context.Context, item int, _ *obscontext.ExecutionContext) ([]int, error) {
	out := make([]int, r.recordsPerItem)
	for i := range out {
		out[i] = item*1000 + i
	}
	return out, nil
}

// echoProcessor succeeds on every record, returning it unchanged.
type echoProcessor struct{}

func (echoProcessor) ProcessBatch(_ context.Context, records []int, _ *obscontext.ExecutionContext) ([]ProcessingResult[int], error) {
	out := make([]ProcessingResult[int], len(records))
	for i, r := range records {
		out[i] = Success(r)
	}
	return out, nil
}

// recordingTracker collects every callback it receives, guarded by a mutex.
type recordingTracker struct {
	mu        sync.Mutex
	started   []int
	completed []int
	failed    []int
	progress  [][2]int64
}

func (rt *recordingTracker) OnWorkItemStart(item int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.started = append(rt.started, item)
}

func (rt *recordingTracker) OnWorkItemComplete(item int, _ int, _ []ProcessingResult[int]) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.completed = append(rt.completed, item)
}

func (rt *recordingTracker) OnWorkItemFailure(item int, _ error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.failed = append(rt.failed, item)
}

func (rt *recordingTracker) ReportProgress(processed, total int64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.progress = append(rt.progress, [2]int64{processed, total})
}

func TestExecuteHealthyRunProcessesEveryItem(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	tracker := &recordingTracker{}
	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: items},
		Reader:    countingReader{recordsPerItem: 9},
		Processor: echoProcessor{},
		Tracker:   tracker,
		Gates:     testGates(t, 4, 3),
		BatchSize: 4,
	})
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), obscontext.New(nil))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(20), result.WorkItemsProcessed)
	assert.Equal(t, int64(20), result.TotalWorkItems)
	assert.Equal(t, int64(0), result.FailedWorkItems)
	assert.Equal(t, int64(20*9), result.RecordsProcessed)
	assert.Equal(t, int64(0), result.TotalErrors)

	assert.Equal(t, int64(20), result.WorkItemsProcessed+result.FailedWorkItems)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Len(t, tracker.started, 20)
	assert.Len(t, tracker.completed, 20)
	assert.Empty(t, tracker.failed)
}

// failingReader fails for any item in failItems.
type failingReader struct {
	recordsPerItem int
	failItems      map[int]bool
}

func (r failingReader) ReadWorkItem(_ context.Context, item int, _ *obscontext.ExecutionContext) ([]int, error) {
	if r.failItems[item] {
		return nil, fmt.Errorf("reader: item %d is broken", item)
	}
	out := make([]int, r.recordsPerItem)
	for i := range out {
		out[i] = item*1000 + i
	}
	return out, nil
}

func TestReaderFailureFailsOnlyThatItemAndContinues(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}
	tracker := &recordingTracker{}
	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: items},
		Reader:    failingReader{recordsPerItem: 3, failItems: map[int]bool{2: true}},
		Processor: echoProcessor{},
		Tracker:   tracker,
		Gates:     testGates(t, 3, 3),
		BatchSize: 2,
	})
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), obscontext.New(nil))
	require.NoError(t, err)

	assert.True(t, result.Success, "a reader failure on one item must not abort the run")
	assert.Equal(t, int64(5), result.TotalWorkItems)
	assert.Equal(t, int64(4), result.WorkItemsProcessed)
	assert.Equal(t, int64(1), result.FailedWorkItems)
	assert.Equal(t, int64(1), result.TotalErrors)
	assert.Equal(t, result.TotalWorkItems, result.WorkItemsProcessed+result.FailedWorkItems)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Contains(t, tracker.failed, 2)
	assert.NotContains(t, tracker.completed, 2)
}

// throwingProcessor panics for any batch that contains the poison record.
type throwingProcessor struct{ poison int }

func (p throwingProcessor) ProcessBatch(_ context.Context, records []int, _ *obscontext.ExecutionContext) ([]ProcessingResult[int], error) {
	for _, r := range records {
		if r == p.poison {
			panic("simulated processor fault")
		}
	}
	out := make([]ProcessingResult[int], len(records))
	for i, r := range records {
		out[i] = Success(r)
	}
	return out, nil
}

func TestBatchProcessorPanicFailsOnlyThatBatch(t *testing.T) {
	tracker := &recordingTracker{}
	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: []int{0}},
		Reader:    countingReader{recordsPerItem: 10},
		Processor: throwingProcessor{poison: 4}, // record 4 falls in the second batch (size 3)
		Tracker:   tracker,
		Gates:     testGates(t, 1, 4),
		BatchSize: 3,
	})
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), obscontext.New(nil))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.WorkItemsProcessed, "the item itself still completes")
	assert.Equal(t, int64(10), result.RecordsProcessed)
	assert.Equal(t, int64(3), result.TotalErrors, "only the poisoned batch's 3 records fail")
}

// partialResultProcessor returns per-record failures for odd-valued records.
type partialResultProcessor struct{}

func (partialResultProcessor) ProcessBatch(_ context.Context, records []int, _ *obscontext.ExecutionContext) ([]ProcessingResult[int], error) {
	out := make([]ProcessingResult[int], len(records))
	for i, r := range records {
		if r%2 == 1 {
			out[i] = Failure[int](fmt.Errorf("record %d is odd", r))
		} else {
			out[i] = Success(r)
		}
	}
	return out, nil
}

func TestBatchResultsPreserveOrderAndLength(t *testing.T) {
	var captured []ProcessingResult[int]
	var mu sync.Mutex
	tracker := &trackerFunc{
		onComplete: func(_ int, _ int, results []ProcessingResult[int]) {
			mu.Lock()
			defer mu.Unlock()
			captured = results
		},
	}

	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: []int{0}},
		Reader:    countingReader{recordsPerItem: 9},
		Processor: partialResultProcessor{},
		Tracker:   tracker,
		Gates:     testGates(t, 1, 3),
		BatchSize: 3,
	})
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), obscontext.New(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.TotalErrors) // records 1,3,5,7 are odd among 0..8

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured, 9)
	for i, r := range captured {
		if i%2 == 1 {
			assert.False(t, r.Ok())
		} else {
			assert.True(t, r.Ok())
			assert.Equal(t, i, r.Value)
		}
	}
}

// trackerFunc adapts function fields to ProgressTracker for ad hoc assertions.
type trackerFunc struct {
	onComplete func(item int, recordCount int, results []ProcessingResult[int])
}

func (t *trackerFunc) OnWorkItemStart(int) {}
func (t *trackerFunc) OnWorkItemComplete(item int, recordCount int, results []ProcessingResult[int]) {
	if t.onComplete != nil {
		t.onComplete(item, recordCount, results)
	}
}
func (t *trackerFunc) OnWorkItemFailure(int, error)    {}
func (t *trackerFunc) ReportProgress(int64, int64) {}

// blockingReader blocks until released, letting tests observe abort draining
// in-flight work rather than forcibly interrupting it.
type blockingReader struct {
	recordsPerItem int
	release        <-chan struct{}
}

func (r blockingReader) ReadWorkItem(ctx context.Context, item int, _ *obscontext.ExecutionContext) ([]int, error) {
	<-r.release
	out := make([]int, r.recordsPerItem)
	for i := range out {
		out[i] = item*1000 + i
	}
	return out, nil
}

func TestAbortIsTerminalAndDrainsInFlightWork(t *testing.T) {
	release := make(chan struct{})
	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: []int{0, 1, 2}},
		Reader:    blockingReader{recordsPerItem: 2, release: release},
		Processor: echoProcessor{},
		Gates:     testGates(t, 3, 3),
		BatchSize: 2,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	var result ExecutionResult
	go func() {
		defer close(done)
		result, _ = eng.Execute(context.Background(), obscontext.New(nil))
	}()

	time.Sleep(20 * time.Millisecond) // let all 3 readers block on release
	eng.Abort("test abort")
	assert.True(t, eng.Aborted())

	// Abort is terminal: further adjustments are no-ops.
	before := eng.CurrentConcurrency()
	after := eng.AdjustConcurrency(10, 10)
	assert.Equal(t, before, after)

	close(release) // let the blocked (already-admitted) readers finish
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execute never returned after abort drained in-flight work")
	}

	assert.False(t, result.Success)
	assert.Equal(t, "test abort", result.AbortReason)
	// All 3 items were already admitted under the work-item gate before
	// abort fired, so the cooperative drain lets each of them finish and
	// count as processed; their batches reach the aborted processing gate
	// and are recorded as failures.
	assert.Equal(t, int64(3), result.WorkItemsProcessed)
}

// gateSpyProcessor is the processor for the two-gate deadlock test (the
// hard invariant in §5: processing tasks never acquire the work-item gate).
// It holds the gates but never touches them and fails nothing itself; the
// test detects a deadlock by timing out.
type gateSpyProcessor struct {
	gates *gate.Gates
}

func (p gateSpyProcessor) ProcessBatch(ctx context.Context, records []int, _ *obscontext.ExecutionContext) ([]ProcessingResult[int], error) {
	// Attempting to acquire the work-item gate here would deadlock if any
	// work-item slot is exhausted and held by a task waiting on us; proving
	// it never blocks forever in this test (it returns promptly) is a weak
	// proxy, so instead this processor simply never touches the work-item
	// gate, matching the engine's own implementation. Real enforcement of
	// the invariant lives in the engine's structure: runBatch only ever
	// calls AcquireProcessing.
	out := make([]ProcessingResult[int], len(records))
	for i, r := range records {
		out[i] = Success(r)
	}
	return out, nil
}

func TestSingleProcessingSlotDoesNotDeadlockManyWorkItems(t *testing.T) {
	// A classic two-gate deadlock would show up here: many work items (gate
	// capacity 5) each fanning into several batches, but only one
	// processing slot available. If runBatch ever acquired the work-item
	// gate, this would hang; it should complete promptly instead.
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}
	g := testGates(t, 5, 1)
	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: items},
		Reader:    countingReader{recordsPerItem: 5},
		Processor: gateSpyProcessor{gates: g},
		Gates:     g,
		BatchSize: 2,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	var result ExecutionResult
	go func() {
		defer close(done)
		result, _ = eng.Execute(context.Background(), obscontext.New(nil))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine deadlocked with a single processing slot")
	}

	assert.True(t, result.Success)
	assert.Equal(t, int64(10), result.WorkItemsProcessed)
}

func TestMetricsReadableWithoutBlocking(t *testing.T) {
	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: []int{0, 1}},
		Reader:    countingReader{recordsPerItem: 3},
		Processor: echoProcessor{},
		Gates:     testGates(t, 2, 2),
		BatchSize: 2,
	})
	require.NoError(t, err)

	// Metrics() must never block even mid-run.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.Execute(context.Background(), obscontext.New(nil))
	}()
	for i := 0; i < 5; i++ {
		_ = eng.Metrics()
	}
	<-done
	final := eng.Metrics()
	assert.Equal(t, int64(2), final.WorkItemsProcessed)
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := New(Config[int, int, int]{Gates: testGates(t, 1, 1), BatchSize: 1})
	assert.Error(t, err)

	_, err = New(Config[int, int, int]{
		Fetcher:   fixedFetcher{},
		Reader:    countingReader{},
		Processor: echoProcessor{},
		BatchSize: 1,
	})
	assert.Error(t, err, "gates are required")

	_, err = New(Config[int, int, int]{
		Fetcher:   fixedFetcher{},
		Reader:    countingReader{},
		Processor: echoProcessor{},
		Gates:     testGates(t, 1, 1),
		BatchSize: 0,
	})
	assert.Error(t, err, "batchSize must be positive")
}

// namedCriticalError implements engine.CriticalError for testing the
// critical-error forwarding path to a CriticalErrorSink.
type namedCriticalError struct{ kind string }

func (e namedCriticalError) Error() string        { return "critical: " + e.kind }
func (e namedCriticalError) CriticalType() string { return e.kind }

type criticalReader struct{}

func (criticalReader) ReadWorkItem(context.Context, int, *obscontext.ExecutionContext) ([]int, error) {
	return nil, namedCriticalError{kind: "disk_full"}
}

type spySink struct {
	mu   sync.Mutex
	seen []string
}

func (s *spySink) RecordCriticalError(errType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, errType)
}

func TestCriticalErrorFromReaderReachesSink(t *testing.T) {
	sink := &spySink{}
	eng, err := New(Config[int, int, int]{
		Fetcher:      fixedFetcher{items: []int{0}},
		Reader:       criticalReader{},
		Processor:    echoProcessor{},
		Gates:        testGates(t, 1, 1),
		BatchSize:    1,
		CriticalSink: sink,
	})
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), obscontext.New(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.FailedWorkItems)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"disk_full"}, sink.seen)
}

func TestInvariantViolationAborts(t *testing.T) {
	eng, err := New(Config[int, int, int]{
		Fetcher:   fixedFetcher{items: []int{0}},
		Reader:    countingReader{recordsPerItem: 4},
		Processor: shortResultProcessor{},
		Gates:     testGates(t, 1, 1),
		BatchSize: 4,
	})
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), obscontext.New(nil))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "engine invariant", result.AbortReason)
}

// shortResultProcessor violates the "same length as input" contract.
type shortResultProcessor struct{}

func (shortResultProcessor) ProcessBatch(context.Context, []int, *obscontext.ExecutionContext) ([]ProcessingResult[int], error) {
	return []ProcessingResult[int]{Success(0)}, nil
}

func TestFetcherErrorPropagatesAsRunFailure(t *testing.T) {
	eng, err := New(Config[int, int, int]{
		Fetcher:   errFetcher{},
		Reader:    countingReader{recordsPerItem: 1},
		Processor: echoProcessor{},
		Gates:     testGates(t, 1, 1),
		BatchSize: 1,
	})
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), obscontext.New(nil))
	assert.Error(t, err)
}

type errFetcher struct{}

func (errFetcher) FetchWorkItems(context.Context, *obscontext.ExecutionContext) ([]int, error) {
	return nil, errors.New("fetch: listing failed")
}

func TestChunkNeverEmitsEmptyBatches(t *testing.T) {
	records := make([]int, 7)
	for i := range records {
		records[i] = i
	}
	batches := chunk(records, 3)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1, 2}, batches[0])
	assert.Equal(t, []int{3, 4, 5}, batches[1])
	assert.Equal(t, []int{6}, batches[2])
	for _, b := range batches {
		assert.NotEmpty(t, b)
	}

	assert.Nil(t, chunk([]int{}, 3))

	var total int
	flat := sort.IntSlice{}
	for _, b := range batches {
		total += len(b)
		flat = append(flat, b...)
	}
	assert.Equal(t, 7, total)
	sort.Sort(flat)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, []int(flat))
}

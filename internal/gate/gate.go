// Package gate implements the two concurrency gates (C1) that bound the
// number of in-flight work items and in-flight record-batch processing
// tasks. Each gate is a counting semaphore with live, soft-shrink resize.
//
// The shape is the teacher's channel-semaphore idiom
// (a buffered chan struct{} used as a permit pool, as in
// directory_processor.go's workerPool and worker_pool.go's workQueue)
// generalized to support capacity changes while acquirers are queued — a
// fixed-size buffered channel cannot do that, so acquisition here is
// mediated by an explicit FIFO waiter queue instead of channel buffering.
package gate

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by Acquire* once the run has begun aborting.
var ErrCancelled = errors.New("gate: cancelled")

// semaphore is a resizable, FIFO-fair counting semaphore.
type semaphore struct {
	mu       sync.Mutex
	capacity int
	held     int
	waiters  list.List // of chan struct{}
	aborted  bool
}

func newSemaphore(capacity int) *semaphore {
	return &semaphore{capacity: capacity}
}

func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return ErrCancelled
	}
	if s.waiters.Len() == 0 && s.held < s.capacity {
		s.held++
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	elem := s.waiters.PushBack(ch)
	s.mu.Unlock()

	select {
	case <-ch:
		s.mu.Lock()
		aborted := s.aborted
		s.mu.Unlock()
		if aborted {
			return ErrCancelled
		}
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ch:
			// Permit was handed off concurrently with cancellation; honor
			// the cancellation but give the permit back immediately.
			s.mu.Unlock()
			s.release()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held--
	s.dispatchLocked()
}

// resize changes capacity immediately. Shrinking never evicts a current
// holder; it only stops new acquisitions (and wakeups) until held drops
// below the new capacity. Growing wakes queued waiters up to the new
// capacity.
func (s *semaphore) resize(capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	s.dispatchLocked()
}

// dispatchLocked hands permits to queued waiters while held < capacity.
// Handing off a permit increments held on the waiter's behalf so the
// waiter itself does not increment again on wake.
func (s *semaphore) dispatchLocked() {
	for s.held < s.capacity {
		front := s.waiters.Front()
		if front == nil {
			return
		}
		s.waiters.Remove(front)
		ch := front.Value.(chan struct{})
		s.held++
		close(ch)
	}
}

func (s *semaphore) currentCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

func (s *semaphore) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}
	s.aborted = true
	for e := s.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(chan struct{}))
	}
	s.waiters.Init()
}

// Limits are the run-scoped bounds both dials must stay within.
type Limits struct {
	MinWorkItem  int
	MaxWorkItem  int
	MinProcessing int
	MaxProcessing int
}

// HardEngineCap is the implementation-defined ceiling no dial may exceed:
// Limits whose max is above it fail Validate.
const HardEngineCap = 1024

// Validate checks the invariants from §3 that Limits alone can carry:
// min ≥ 1, min ≤ max, max ≤ HardEngineCap. Current capacities are kept
// within [min, max] by New and Resize, which clamp to these limits.
func (l Limits) Validate() error {
	switch {
	case l.MinWorkItem < 1 || l.MinProcessing < 1:
		return errors.New("gate: min concurrency must be at least 1")
	case l.MaxWorkItem < l.MinWorkItem || l.MaxProcessing < l.MinProcessing:
		return errors.New("gate: max concurrency must be >= min concurrency")
	case l.MaxWorkItem > HardEngineCap || l.MaxProcessing > HardEngineCap:
		return errors.New("gate: max concurrency exceeds hard engine cap")
	}
	return nil
}

func (l Limits) clampWorkItem(v int) int {
	return clamp(v, l.MinWorkItem, l.MaxWorkItem)
}

func (l Limits) clampProcessing(v int) int {
	return clamp(v, l.MinProcessing, l.MaxProcessing)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Settings is a snapshot of current gate capacities.
type Settings struct {
	WorkItemConcurrency  int
	ProcessingConcurrency int
}

// Gates holds the workItem and processing semaphores together with the
// limits that bound their resize.
type Gates struct {
	limits     Limits
	workItem   *semaphore
	processing *semaphore
}

// New constructs Gates at the given initial settings, clamped to limits.
func New(limits Limits, initial Settings) (*Gates, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	wi := limits.clampWorkItem(initial.WorkItemConcurrency)
	proc := limits.clampProcessing(initial.ProcessingConcurrency)
	return &Gates{
		limits:     limits,
		workItem:   newSemaphore(wi),
		processing: newSemaphore(proc),
	}, nil
}

func (g *Gates) Limits() Limits { return g.limits }

func (g *Gates) AcquireWorkItem(ctx context.Context) error { return g.workItem.acquire(ctx) }
func (g *Gates) ReleaseWorkItem()                          { g.workItem.release() }

func (g *Gates) AcquireProcessing(ctx context.Context) error { return g.processing.acquire(ctx) }
func (g *Gates) ReleaseProcessing()                          { g.processing.release() }

// Resize sets new capacities, clamped to Limits. It takes effect
// immediately: growing wakes waiters, shrinking only blocks new admission.
func (g *Gates) Resize(workItem, processing int) Settings {
	wi := g.limits.clampWorkItem(workItem)
	proc := g.limits.clampProcessing(processing)
	g.workItem.resize(wi)
	g.processing.resize(proc)
	return Settings{WorkItemConcurrency: wi, ProcessingConcurrency: proc}
}

// CurrentSettings returns the current capacities (not in-flight counts).
func (g *Gates) CurrentSettings() Settings {
	return Settings{
		WorkItemConcurrency:  g.workItem.currentCapacity(),
		ProcessingConcurrency: g.processing.currentCapacity(),
	}
}

// Abort makes every blocked and future acquisition fail with ErrCancelled.
func (g *Gates) Abort() {
	g.workItem.abort()
	g.processing.abort()
}

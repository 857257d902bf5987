package engine

import (
	"errors"

	"github.com/batchworks/adaptivebatch/internal/gate"
)

// ErrInvariantViolated is the failure attributed to every record of a
// batch whose processor broke the one-result-per-record contract (a result
// slice of the wrong length). The engine then aborts the run with reason
// "engine invariant" — a fatal engine invariant violation, not a per-item
// failure.
var ErrInvariantViolated = errors.New("engine: invariant violation")

// ErrCancelled mirrors gate.ErrCancelled at the engine boundary so callers
// of Engine don't need to import the gate package to recognize abort.
var ErrCancelled = gate.ErrCancelled

// CriticalError is implemented by processor/reader errors that name a
// registered critical-error type. The engine forwards these to the
// CriticalErrorSink so ErrorGoal can observe them in the next snapshot.
type CriticalError interface {
	error
	CriticalType() string
}

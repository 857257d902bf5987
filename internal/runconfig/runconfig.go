// Package runconfig defines RunConfig: the plain, validated configuration
// struct a PipelineExecutor run is parameterized by, plus a small fluent
// Builder convenience wrapper around it. This replaces the teacher's
// builder-fluent-DSL-with-back-references pattern (seen in
// pkg/core/client/config.go's ClientConfig builder chain, which mutates and
// returns the same receiver across calls that reference earlier state) with
// a plain struct and a standalone validation function — the builder here is
// sugar over field assignment, not a carrier of cross-field state.
package runconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/batchworks/adaptivebatch/internal/gate"
	"github.com/batchworks/adaptivebatch/internal/manager"
	"github.com/batchworks/adaptivebatch/internal/sizer"
)

// RunConfig is the complete parameterization of one pipeline run, per §6's
// CLI surface: execution context, concurrency limits, batch size, sizing
// choice, goal/strategy bindings, tick period and cooldown.
type RunConfig struct {
	ExecutionContext map[string]any

	Limits    gate.Limits
	BatchSize int

	Sizing                  sizer.Strategy
	EstimatedRecordsPerItem int64
	RecordCounter           sizer.RecordCounter
	ConcurrencyStrategy     sizer.ConcurrencyStrategy

	Bindings      []manager.Binding
	TickPeriod    time.Duration
	CooldownTicks int
}

// ValidationError collects every field-level problem found by Validate, so
// a caller sees all of them at once instead of one-at-a-time — the source
// system's ConfigurationError equivalent.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("runconfig: invalid configuration: %s", strings.Join(e.Fields, "; "))
}

// Validate checks RunConfig for internal consistency. It returns a
// *ValidationError (never a bare error) on failure so callers can inspect
// every violated field.
func (c RunConfig) Validate() error {
	var problems []string

	if err := c.Limits.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batchSize must be positive")
	}
	if c.TickPeriod <= 0 {
		problems = append(problems, "tickPeriod must be positive")
	}
	if c.CooldownTicks < 0 {
		problems = append(problems, "cooldownTicks must not be negative")
	}
	if len(c.Bindings) == 0 {
		problems = append(problems, "at least one goal/strategy binding is required")
	}
	for i, b := range c.Bindings {
		if b.Goal == nil {
			problems = append(problems, fmt.Sprintf("bindings[%d]: goal is required", i))
		}
		if b.Strategy == nil {
			problems = append(problems, fmt.Sprintf("bindings[%d]: strategy is required", i))
		}
	}

	switch c.Sizing {
	case sizer.Static:
	case sizer.Estimated:
		if c.EstimatedRecordsPerItem <= 0 {
			problems = append(problems, "estimatedRecordsPerItem must be positive when sizing is Estimated")
		}
	case sizer.Dynamic:
		if c.RecordCounter == nil {
			problems = append(problems, "recordCounter is required when sizing is Dynamic")
		}
	default:
		problems = append(problems, "sizing must be one of Static, Estimated, Dynamic")
	}

	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}

// DefaultGoal bindings are not provided here — a run with no opinion about
// goals is a run with no adaptive control, which §6 treats as a
// configuration error (see Validate's "at least one binding" check) rather
// than a silently permissive default.

// Builder is a fluent convenience wrapper over RunConfig field assignment.
// Every method returns the same *Builder so calls can be chained; nothing
// here references state set by an earlier call, unlike the teacher's
// builder chains — it is sugar, not a second place business rules live.
type Builder struct {
	cfg RunConfig
}

// NewBuilder starts a Builder with batchworks-sane defaults: limits of
// (1,1)-(10,10), a 100-row batch size, a 5 second tick period, Static
// sizing, and no cooldown.
func NewBuilder() *Builder {
	return &Builder{cfg: RunConfig{
		Limits:     gate.Limits{MinWorkItem: 1, MaxWorkItem: 10, MinProcessing: 1, MaxProcessing: 10},
		BatchSize:  100,
		TickPeriod: 5 * time.Second,
		Sizing:     sizer.Static,
	}}
}

func (b *Builder) WithExecutionContext(ec map[string]any) *Builder {
	b.cfg.ExecutionContext = ec
	return b
}

func (b *Builder) WithLimits(l gate.Limits) *Builder {
	b.cfg.Limits = l
	return b
}

func (b *Builder) WithBatchSize(n int) *Builder {
	b.cfg.BatchSize = n
	return b
}

func (b *Builder) WithStaticSizing() *Builder {
	b.cfg.Sizing = sizer.Static
	return b
}

func (b *Builder) WithEstimatedSizing(recordsPerItem int64) *Builder {
	b.cfg.Sizing = sizer.Estimated
	b.cfg.EstimatedRecordsPerItem = recordsPerItem
	return b
}

func (b *Builder) WithDynamicSizing(counter sizer.RecordCounter) *Builder {
	b.cfg.Sizing = sizer.Dynamic
	b.cfg.RecordCounter = counter
	return b
}

func (b *Builder) WithConcurrencyStrategy(s sizer.ConcurrencyStrategy) *Builder {
	b.cfg.ConcurrencyStrategy = s
	return b
}

func (b *Builder) WithBinding(binding manager.Binding) *Builder {
	b.cfg.Bindings = append(b.cfg.Bindings, binding)
	return b
}

func (b *Builder) WithTickPeriod(d time.Duration) *Builder {
	b.cfg.TickPeriod = d
	return b
}

func (b *Builder) WithCooldownTicks(n int) *Builder {
	b.cfg.CooldownTicks = n
	return b
}

// Build validates and returns the assembled RunConfig.
func (b *Builder) Build() (RunConfig, error) {
	if err := b.cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return b.cfg, nil
}

package runconfig

import (
	"context"
	"testing"
	"time"

	"github.com/batchworks/adaptivebatch/internal/gate"
	"github.com/batchworks/adaptivebatch/internal/goal"
	"github.com/batchworks/adaptivebatch/internal/manager"
	"github.com/batchworks/adaptivebatch/internal/sizer"
	"github.com/batchworks/adaptivebatch/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBinding() manager.Binding {
	return manager.Binding{
		Goal:     goal.ResourceGoal{MaxDBConnections: 100, MaxDBUtilization: 0.8, MaxHeapUtilization: 0.9},
		Strategy: strategy.ResourceStrategy{},
	}
}

func TestBuilderProducesValidDefaultConfig(t *testing.T) {
	cfg, err := NewBuilder().WithBinding(validBinding()).Build()
	require.NoError(t, err)
	assert.Equal(t, sizer.Static, cfg.Sizing)
	assert.Equal(t, 100, cfg.BatchSize)
}

func TestValidateRequiresAtLeastOneBinding(t *testing.T) {
	cfg := NewBuilder().cfg
	err := cfg.Validate()
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Contains(t, ve.Error(), "binding")
}

func TestValidateRejectsNonPositiveBatchSize(t *testing.T) {
	cfg := NewBuilder().WithBinding(validBinding()).WithBatchSize(0).cfg
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroTickPeriod(t *testing.T) {
	cfg := NewBuilder().WithBinding(validBinding()).WithTickPeriod(0).cfg
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidLimits(t *testing.T) {
	cfg := NewBuilder().WithBinding(validBinding()).WithLimits(gate.Limits{MinWorkItem: 5, MaxWorkItem: 1, MinProcessing: 1, MaxProcessing: 1}).cfg
	assert.Error(t, cfg.Validate())
}

func TestValidateEstimatedSizingRequiresEstimate(t *testing.T) {
	cfg := NewBuilder().WithBinding(validBinding()).WithEstimatedSizing(0).cfg
	assert.Error(t, cfg.Validate())

	cfg2 := NewBuilder().WithBinding(validBinding()).WithEstimatedSizing(50).cfg
	assert.NoError(t, cfg2.Validate())
}

func TestValidateDynamicSizingRequiresCounter(t *testing.T) {
	cfg := NewBuilder().WithBinding(validBinding()).WithDynamicSizing(nil).cfg
	assert.Error(t, cfg.Validate())

	counter := func(ctx context.Context) (int64, error) { return 1, nil }
	cfg2 := NewBuilder().WithBinding(validBinding()).WithDynamicSizing(counter).cfg
	assert.NoError(t, cfg2.Validate())
}

func TestValidateCollectsMultipleProblems(t *testing.T) {
	cfg := RunConfig{BatchSize: -1, TickPeriod: -1 * time.Second, CooldownTicks: -1}
	err := cfg.Validate()
	require.Error(t, err)
	ve := err.(*ValidationError)
	assert.GreaterOrEqual(t, len(ve.Fields), 4)
}

func TestBuilderChainingReturnsSameBuilder(t *testing.T) {
	b := NewBuilder()
	b2 := b.WithBatchSize(50).WithTickPeriod(time.Second).WithCooldownTicks(2)
	assert.Same(t, b, b2)
}

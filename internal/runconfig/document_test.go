package runconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/batchworks/adaptivebatch/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{
  "limits": {"min_work_item": 5, "max_work_item": 20, "min_processing": 3, "max_processing": 15},
  "batch_size": 25,
  "sizing": "static",
  "tick_period_seconds": 30,
  "cooldown_ticks": 1,
  "goals": {
    "performance": {"enabled": true, "deadline_minutes": 10, "min_rate_per_minute": 90, "tolerance": 0.8},
    "resource": {"enabled": true, "max_db_connections": 100, "max_db_utilization": 0.8, "max_heap_utilization": 0.85},
    "error": {"enabled": true, "max_total_error_count": 50, "critical_error_types": ["fatal_io"]}
  }
}`

func writeTempDocument(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDocumentAndBuild(t *testing.T) {
	path := writeTempDocument(t, sampleDocument)

	doc, err := LoadDocument(path)
	require.NoError(t, err)

	cfg, err := doc.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Len(t, cfg.Bindings, 3)
	assert.Equal(t, 5, cfg.Limits.MinWorkItem)
}

func TestBuildRejectsUnknownSizing(t *testing.T) {
	doc := Document{Sizing: "nonsense"}
	_, err := doc.Build(nil)
	assert.Error(t, err)
}

func TestBuildRejectsNoEnabledGoals(t *testing.T) {
	doc := Document{
		Limits:            LimitsDocument{MinWorkItem: 1, MaxWorkItem: 1, MinProcessing: 1, MaxProcessing: 1},
		BatchSize:         10,
		TickPeriodSeconds: 1,
	}
	_, err := doc.Build(nil)
	assert.Error(t, err)
}

func TestBuildHonorsObserveOnlyGoal(t *testing.T) {
	doc := Document{
		Limits:            LimitsDocument{MinWorkItem: 1, MaxWorkItem: 5, MinProcessing: 1, MaxProcessing: 5},
		BatchSize:         10,
		TickPeriodSeconds: 1,
		Goals: GoalsDocument{
			Resource: ResourceGoalDocument{Enabled: true, MaxDBConnections: 10, MaxDBUtilization: 0.8, MaxHeapUtilization: 0.8, ObserveOnly: true},
		},
	}
	cfg, err := doc.Build(nil)
	require.NoError(t, err)
	require.Len(t, cfg.Bindings, 1)
	assert.IsType(t, strategy.NoOpStrategy{}, cfg.Bindings[0].Strategy)
}

func TestLoadDocumentMissingFile(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// Document is the JSON-on-disk shape a run is configured from, per §9's
// redesign away from reflection-based configuration binding: every field is
// parsed into a concrete typed struct and then explicitly validated by
// Build, the way the teacher's pkg/infrastructure/config.Config is loaded
// and validated (DefaultConfig + LoadConfig + Validate, no struct tags
// driving reflection beyond encoding/json's own field mapping).
package runconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/batchworks/adaptivebatch/internal/gate"
	"github.com/batchworks/adaptivebatch/internal/goal"
	"github.com/batchworks/adaptivebatch/internal/manager"
	"github.com/batchworks/adaptivebatch/internal/sizer"
	"github.com/batchworks/adaptivebatch/internal/strategy"
)

// LimitsDocument is the JSON form of gate.Limits.
type LimitsDocument struct {
	MinWorkItem   int `json:"min_work_item"`
	MaxWorkItem   int `json:"max_work_item"`
	MinProcessing int `json:"min_processing"`
	MaxProcessing int `json:"max_processing"`
}

func (d LimitsDocument) toLimits() gate.Limits {
	return gate.Limits{
		MinWorkItem:   d.MinWorkItem,
		MaxWorkItem:   d.MaxWorkItem,
		MinProcessing: d.MinProcessing,
		MaxProcessing: d.MaxProcessing,
	}
}

// PerformanceGoalDocument configures §4.4.1's PerformanceGoal. A zero value
// with Enabled false leaves the goal out of the run entirely.
type PerformanceGoalDocument struct {
	Enabled         bool    `json:"enabled"`
	DeadlineMinutes float64 `json:"deadline_minutes"`
	MinRatePerMinute float64 `json:"min_rate_per_minute"`
	Tolerance       float64 `json:"tolerance"`
	ObserveOnly     bool    `json:"observe_only"`
}

// ResourceGoalDocument configures §4.4.2's ResourceGoal.
type ResourceGoalDocument struct {
	Enabled            bool    `json:"enabled"`
	MaxDBConnections   int32   `json:"max_db_connections"`
	MaxDBUtilization   float64 `json:"max_db_utilization"`
	MaxHeapUtilization float64 `json:"max_heap_utilization"`
	ObserveOnly        bool    `json:"observe_only"`
}

// ErrorGoalDocument configures §4.4.3's ErrorGoal.
type ErrorGoalDocument struct {
	Enabled             bool     `json:"enabled"`
	MaxErrorRatePerFile float64  `json:"max_error_rate_per_file"`
	MaxTotalErrorCount  int64    `json:"max_total_error_count"`
	CriticalErrorTypes  []string `json:"critical_error_types"`
	ObserveOnly         bool     `json:"observe_only"`
}

// GoalsDocument wires the three concrete goal kinds §4.4 defines. Any
// subset may be enabled; Build rejects a document with none enabled, since
// RunConfig.Validate already requires at least one binding.
type GoalsDocument struct {
	Performance PerformanceGoalDocument `json:"performance"`
	Resource    ResourceGoalDocument    `json:"resource"`
	Error       ErrorGoalDocument       `json:"error"`
}

// Document is the top-level JSON run document loaded by cmd/batchctl and
// cmd/batchtrigger.
type Document struct {
	Limits   LimitsDocument `json:"limits"`
	BatchSize int           `json:"batch_size"`

	Sizing                  string `json:"sizing"`
	EstimatedRecordsPerItem int64  `json:"estimated_records_per_item"`

	TickPeriodSeconds float64 `json:"tick_period_seconds"`
	CooldownTicks     int     `json:"cooldown_ticks"`

	Goals GoalsDocument `json:"goals"`
}

// LoadDocument reads and parses a run document from disk. It does not
// validate — call Build to get a validated RunConfig.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("runconfig: reading %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("runconfig: parsing %s: %w", path, err)
	}
	return doc, nil
}

func parseSizing(s string) (sizer.Strategy, error) {
	switch s {
	case "", "static":
		return sizer.Static, nil
	case "estimated":
		return sizer.Estimated, nil
	case "dynamic":
		return sizer.Dynamic, nil
	default:
		return 0, fmt.Errorf("runconfig: unknown sizing %q", s)
	}
}

func strategyFor(observeOnly bool, live strategy.Strategy) strategy.Strategy {
	if observeOnly {
		return strategy.NoOpStrategy{}
	}
	return live
}

// Build turns a parsed Document into a validated RunConfig. recordCounter
// is used only when Sizing is "dynamic"; it may be nil otherwise.
func (d Document) Build(recordCounter sizer.RecordCounter) (RunConfig, error) {
	sizing, err := parseSizing(d.Sizing)
	if err != nil {
		return RunConfig{}, err
	}

	var bindings []manager.Binding
	if d.Goals.Performance.Enabled {
		g := goal.PerformanceGoal{
			Deadline:         time.Duration(d.Goals.Performance.DeadlineMinutes * float64(time.Minute)),
			MinRatePerMinute: d.Goals.Performance.MinRatePerMinute,
			Tolerance:        d.Goals.Performance.Tolerance,
		}
		bindings = append(bindings, manager.Binding{
			Goal:     g,
			Strategy: strategyFor(d.Goals.Performance.ObserveOnly, strategy.PerformanceStrategy{}),
		})
	}
	if d.Goals.Resource.Enabled {
		g := goal.ResourceGoal{
			MaxDBConnections:   d.Goals.Resource.MaxDBConnections,
			MaxDBUtilization:   d.Goals.Resource.MaxDBUtilization,
			MaxHeapUtilization: d.Goals.Resource.MaxHeapUtilization,
		}
		bindings = append(bindings, manager.Binding{
			Goal:     g,
			Strategy: strategyFor(d.Goals.Resource.ObserveOnly, strategy.ResourceStrategy{}),
		})
	}
	if d.Goals.Error.Enabled {
		types := make(map[string]struct{}, len(d.Goals.Error.CriticalErrorTypes))
		for _, t := range d.Goals.Error.CriticalErrorTypes {
			types[t] = struct{}{}
		}
		g := goal.ErrorGoal{
			MaxErrorRatePerFile: d.Goals.Error.MaxErrorRatePerFile,
			MaxTotalErrorCount:  d.Goals.Error.MaxTotalErrorCount,
			CriticalErrorTypes:  types,
		}
		bindings = append(bindings, manager.Binding{
			Goal:     g,
			Strategy: strategyFor(d.Goals.Error.ObserveOnly, strategy.ErrorStrategy{}),
		})
	}

	cfg := RunConfig{
		Limits:                  d.Limits.toLimits(),
		BatchSize:               d.BatchSize,
		Sizing:                  sizing,
		EstimatedRecordsPerItem: d.EstimatedRecordsPerItem,
		RecordCounter:           recordCounter,
		Bindings:                bindings,
		TickPeriod:              time.Duration(d.TickPeriodSeconds * float64(time.Second)),
		CooldownTicks:           d.CooldownTicks,
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

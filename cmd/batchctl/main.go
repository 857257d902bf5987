// Command batchctl loads a run configuration document, wires the
// concrete collaborators (directory fetcher, CSV reader, Postgres sink),
// and drives one PipelineExecutor run to completion. A "search" subcommand
// exposes the orthogonal internal/search subsystem, matching the spec's
// framing of it as living in the same repo but never invoked by the core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/batchworks/adaptivebatch/internal/batchlog"
	"github.com/batchworks/adaptivebatch/internal/csvrecord"
	"github.com/batchworks/adaptivebatch/internal/db"
	"github.com/batchworks/adaptivebatch/internal/engine"
	"github.com/batchworks/adaptivebatch/internal/fetch"
	"github.com/batchworks/adaptivebatch/internal/obscontext"
	"github.com/batchworks/adaptivebatch/internal/pipeline"
	"github.com/batchworks/adaptivebatch/internal/runconfig"
	"github.com/batchworks/adaptivebatch/internal/search"
)

// AppConfig is the on-disk document batchctl reads: the run's RunConfig
// fields plus the collaborator wiring (fetch root, Postgres connection)
// that only a concrete binary, not the core library, needs to know about.
type AppConfig struct {
	runconfig.Document

	Fetch struct {
		Root       string   `json:"root"`
		Extensions []string `json:"extensions"`
	} `json:"fetch"`

	Database struct {
		ConnectionString string `json:"connection_string"`
		MaxConnections   int32  `json:"max_connections"`
		MigrationsPath   string `json:"migrations_path"`
	} `json:"database"`

	LogLevel string `json:"log_level"`
}

func loadAppConfig(path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("batchctl: reading %s: %w", path, err)
	}
	var cfg AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("batchctl: parsing %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s run -config <path>\n       %s search -config <path> -search-config <path> -dataset <name> [-cursor <key>] [-limit <n>]\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "search":
		searchCommand(os.Args[2:])
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the run configuration JSON document")
	fs.Parse(args)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "batchctl run: -config is required")
		os.Exit(2)
	}

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := batchlog.New(batchlog.Config{
		Level:     mustLevel(cfg.LogLevel),
		Format:    batchlog.TextFormat,
		Component: "batchctl",
	})

	ctx := context.Background()

	var store *db.Store
	if cfg.Database.ConnectionString != "" {
		store, err = db.Open(ctx, db.Config{
			ConnectionString: cfg.Database.ConnectionString,
			MaxConnections:   cfg.Database.MaxConnections,
			MigrationsPath:   cfg.Database.MigrationsPath,
		})
		if err != nil {
			logger.Error("failed to connect to database", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		defer store.Close()

		if err := store.MigrateToLatest(); err != nil {
			logger.Error("failed to apply migrations", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	} else {
		logger.Warn("no database configured; records will be processed but not persisted", nil)
	}

	runConfig, err := cfg.Document.Build(nil)
	if err != nil {
		logger.Error("invalid run configuration", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	fetcher := fetch.DirectoryFetcher{Root: cfg.Fetch.Root, Extensions: cfg.Fetch.Extensions}
	reader := csvrecord.Reader{}

	var processor engine.BatchProcessor[csvrecord.Row, db.StoredRecord]
	if store != nil {
		processor = store
	} else {
		processor = noopProcessor{}
	}

	ec := obscontext.New(map[string]any{"root": cfg.Fetch.Root})

	executor := &pipeline.Executor[fetch.FileRef, csvrecord.Row, db.StoredRecord]{
		Config:    runConfig,
		Fetcher:   fetcher,
		Reader:    reader,
		Processor: processor,
		Logger:    logger,
	}
	if store != nil {
		executor.DBProbe = store
	}

	start := time.Now()
	result, err := executor.Run(ctx, ec)
	duration := time.Since(start)
	if err != nil {
		logger.Error("run failed to start", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	printResult(result, duration)
	if !result.Execution.Success {
		os.Exit(1)
	}
}

// noopProcessor lets batchctl run end-to-end (e.g. for a dry run against a
// file tree) without a database configured, at the cost of never
// persisting anything.
type noopProcessor struct{}

func (noopProcessor) ProcessBatch(_ context.Context, records []csvrecord.Row, _ *obscontext.ExecutionContext) ([]engine.ProcessingResult[db.StoredRecord], error) {
	results := make([]engine.ProcessingResult[db.StoredRecord], len(records))
	for i := range records {
		results[i] = engine.Success(db.StoredRecord{})
	}
	return results, nil
}

func printResult(result pipeline.RunResult, duration time.Duration) {
	out := struct {
		Success            bool          `json:"success"`
		AbortReason        string        `json:"abort_reason,omitempty"`
		WorkItemsProcessed int64         `json:"work_items_processed"`
		TotalWorkItems      int64        `json:"total_work_items"`
		RecordsProcessed    int64        `json:"records_processed"`
		TotalErrors         int64        `json:"total_errors"`
		Duration            string       `json:"duration"`
		FinalWorkItemConcurrency  int    `json:"final_work_item_concurrency"`
		FinalProcessingConcurrency int   `json:"final_processing_concurrency"`
		TicksRun            int          `json:"ticks_run"`
	}{
		Success:                    result.Execution.Success,
		AbortReason:                result.Execution.AbortReason,
		WorkItemsProcessed:         result.Execution.WorkItemsProcessed,
		TotalWorkItems:             result.Execution.TotalWorkItems,
		RecordsProcessed:           result.Execution.RecordsProcessed,
		TotalErrors:                result.Execution.TotalErrors,
		Duration:                   duration.String(),
		FinalWorkItemConcurrency:   result.FinalDials.WorkItemConcurrency,
		FinalProcessingConcurrency: result.FinalDials.ProcessingConcurrency,
		TicksRun:                   result.TicksRun,
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func mustLevel(s string) batchlog.Level {
	lvl, _ := batchlog.ParseLevel(s)
	return lvl
}

func searchCommand(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the run configuration JSON document (for its database section)")
	searchConfigPath := fs.String("search-config", "", "path to the search dataset YAML document")
	dataset := fs.String("dataset", "", "dataset name to search")
	cursor := fs.String("cursor", "", "keyset cursor from a previous page")
	limit := fs.Int("limit", 0, "page size override")
	fs.Parse(args)

	if *configPath == "" || *searchConfigPath == "" || *dataset == "" {
		fmt.Fprintln(os.Stderr, "batchctl search: -config, -search-config and -dataset are required")
		os.Exit(2)
	}

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	searchCfg, err := search.LoadConfig(*searchConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	datasetCfg, err := searchCfg.Dataset(*dataset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := db.Open(ctx, db.Config{
		ConnectionString: appCfg.Database.ConnectionString,
		MaxConnections:   appCfg.Database.MaxConnections,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	searchEngine := search.NewEngine(store.Pool(), datasetCfg)
	resp, err := searchEngine.Search(ctx, search.Query{Cursor: *cursor, Limit: *limit})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	data, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(data))
}

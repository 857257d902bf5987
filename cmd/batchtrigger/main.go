// Command batchtrigger is the HTTP trigger endpoint named (but left
// external) by spec.md §1: it accepts a POST describing a run, starts it
// on a background goroutine, and exposes polling endpoints for status and
// the latest metrics snapshot. Router style follows the teacher's
// cmd/noisefs-webui (gorilla/mux, sendJSON/sendError helpers).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/batchworks/adaptivebatch/internal/batchlog"
	"github.com/batchworks/adaptivebatch/internal/csvrecord"
	"github.com/batchworks/adaptivebatch/internal/db"
	"github.com/batchworks/adaptivebatch/internal/engine"
	"github.com/batchworks/adaptivebatch/internal/fetch"
	"github.com/batchworks/adaptivebatch/internal/metrics"
	"github.com/batchworks/adaptivebatch/internal/obscontext"
	"github.com/batchworks/adaptivebatch/internal/pipeline"
	"github.com/batchworks/adaptivebatch/internal/runconfig"
)

// runState tracks one triggered run's lifecycle for polling. runState's
// fields are only ever mutated by the goroutine running the pipeline and
// read under mu by HTTP handlers, matching the spec's read-mostly
// ExecutionContext pattern.
type runState struct {
	mu        sync.RWMutex
	status    string // "running", "completed", "failed"
	result    pipeline.RunResult
	err       error
	lastSnap  metrics.Snapshot
	startedAt time.Time
}

func (rs *runState) setSnapshot(s metrics.Snapshot) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.lastSnap = s
}

func (rs *runState) finish(result pipeline.RunResult, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.result = result
	rs.err = err
	if err != nil {
		rs.status = "failed"
	} else {
		rs.status = "completed"
	}
}

// server holds every in-flight and completed run this process has
// triggered. Runs are never persisted, per §6's "none required" stance on
// core state — a process restart loses the registry entirely.
type server struct {
	dbConfig  db.Config
	logger    *batchlog.Logger
	exporter  *metrics.PrometheusExporter

	mu   sync.RWMutex
	runs map[string]*runState
}

// triggerRequest is the POST body describing one run to start.
type triggerRequest struct {
	Document runconfig.Document `json:"document"`
	Fetch    struct {
		Root       string   `json:"root"`
		Extensions []string `json:"extensions"`
	} `json:"fetch"`
}

func newServer(dbCfg db.Config, logger *batchlog.Logger) *server {
	return &server{
		dbConfig: dbCfg,
		logger:   logger,
		exporter: metrics.NewPrometheusExporter(),
		runs:     make(map[string]*runState),
	}
}

func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, fmt.Errorf("decoding request: %w", err), http.StatusBadRequest)
		return
	}

	runConfig, err := req.Document.Build(nil)
	if err != nil {
		sendError(w, err, http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	rs := &runState{status: "running", startedAt: time.Now()}
	s.mu.Lock()
	s.runs[id] = rs
	s.mu.Unlock()

	go s.runInBackground(id, rs, runConfig, req.Fetch.Root, req.Fetch.Extensions)

	sendJSON(w, map[string]any{"id": id, "status": "running"})
}

func (s *server) runInBackground(id string, rs *runState, cfg runconfig.RunConfig, root string, extensions []string) {
	ctx := context.Background()

	store, err := db.Open(ctx, s.dbConfig)
	if err != nil {
		rs.finish(pipeline.RunResult{}, fmt.Errorf("connecting to database: %w", err))
		return
	}
	defer store.Close()

	if err := store.MigrateToLatest(); err != nil {
		rs.finish(pipeline.RunResult{}, fmt.Errorf("applying migrations: %w", err))
		return
	}

	fetcher := fetch.DirectoryFetcher{Root: root, Extensions: extensions}
	reader := csvrecord.Reader{}
	var processor engine.BatchProcessor[csvrecord.Row, db.StoredRecord] = store
	ec := obscontext.New(map[string]any{"root": root})

	executor := &pipeline.Executor[fetch.FileRef, csvrecord.Row, db.StoredRecord]{
		Config:    cfg,
		Fetcher:   fetcher,
		Reader:    reader,
		Processor: processor,
		DBProbe:   store,
		Logger:    s.logger.With("run:" + id),
		OnSnapshot: func(snap metrics.Snapshot) {
			rs.setSnapshot(snap)
			s.exporter.Observe(snap)
		},
	}

	result, err := executor.Run(ctx, ec)
	rs.finish(result, err)
}

func (s *server) lookup(id string) (*runState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.runs[id]
	return rs, ok
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rs, ok := s.lookup(id)
	if !ok {
		sendError(w, fmt.Errorf("unknown run %q", id), http.StatusNotFound)
		return
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	resp := map[string]any{
		"id":         id,
		"status":     rs.status,
		"started_at": rs.startedAt,
	}
	if rs.status != "running" {
		resp["result"] = rs.result
		if rs.err != nil {
			resp["error"] = rs.err.Error()
		}
	}
	sendJSON(w, resp)
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rs, ok := s.lookup(id)
	if !ok {
		sendError(w, fmt.Errorf("unknown run %q", id), http.StatusNotFound)
		return
	}

	rs.mu.RLock()
	snap := rs.lastSnap
	rs.mu.RUnlock()
	sendJSON(w, snap)
}

func sendJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}

func main() {
	var (
		addr             = flag.String("addr", ":8090", "HTTP server address")
		dbConnection     = flag.String("db", "", "Postgres connection string")
		dbMaxConnections = flag.Int("db-max-conns", 10, "maximum Postgres connections")
		migrationsPath   = flag.String("migrations", "file://internal/db/migrations", "schema migrations source URL")
	)
	flag.Parse()

	if *dbConnection == "" {
		log.Fatal("batchtrigger: -db is required")
	}

	logger := batchlog.New(batchlog.Config{Level: batchlog.InfoLevel, Format: batchlog.TextFormat, Component: "batchtrigger"})

	srv := newServer(db.Config{
		ConnectionString: *dbConnection,
		MaxConnections:   int32(*dbMaxConnections),
		MigrationsPath:   *migrationsPath,
	}, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(srv.exporter)

	router := mux.NewRouter()
	router.HandleFunc("/runs", srv.handleTrigger).Methods("POST")
	router.HandleFunc("/runs/{id}", srv.handleStatus).Methods("GET")
	router.HandleFunc("/runs/{id}/metrics", srv.handleMetrics).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	logger.Info("listening", map[string]any{"addr": *addr})
	log.Fatal(http.ListenAndServe(*addr, router))
}

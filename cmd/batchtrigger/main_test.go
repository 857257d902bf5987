package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchworks/adaptivebatch/internal/batchlog"
	"github.com/batchworks/adaptivebatch/internal/db"
	"github.com/batchworks/adaptivebatch/internal/metrics"
	"github.com/batchworks/adaptivebatch/internal/pipeline"
)

func testRouter(s *server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/runs/{id}", s.handleStatus).Methods("GET")
	r.HandleFunc("/runs/{id}/metrics", s.handleMetrics).Methods("GET")
	return r
}

func TestHandleStatusUnknownRun(t *testing.T) {
	s := newServer(db.Config{}, batchlog.New(batchlog.DefaultConfig()))
	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	w := httptest.NewRecorder()
	testRouter(s).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleStatusRunning(t *testing.T) {
	s := newServer(db.Config{}, batchlog.New(batchlog.DefaultConfig()))
	s.runs["abc"] = &runState{status: "running", startedAt: time.Now()}

	req := httptest.NewRequest(http.MethodGet, "/runs/abc", nil)
	w := httptest.NewRecorder()
	testRouter(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	_, hasResult := body["result"]
	assert.False(t, hasResult)
}

func TestHandleStatusCompletedIncludesResult(t *testing.T) {
	s := newServer(db.Config{}, batchlog.New(batchlog.DefaultConfig()))
	rs := &runState{startedAt: time.Now()}
	rs.finish(pipeline.RunResult{}, nil)
	s.runs["done"] = rs

	req := httptest.NewRequest(http.MethodGet, "/runs/done", nil)
	w := httptest.NewRecorder()
	testRouter(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Contains(t, body, "result")
}

func TestHandleMetricsReturnsLastSnapshot(t *testing.T) {
	s := newServer(db.Config{}, batchlog.New(batchlog.DefaultConfig()))
	rs := &runState{status: "running", startedAt: time.Now()}
	rs.setSnapshot(metrics.Snapshot{RecordsProcessed: 42})
	s.runs["live"] = rs

	req := httptest.NewRequest(http.MethodGet, "/runs/live/metrics", nil)
	w := httptest.NewRecorder()
	testRouter(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(42), snap.RecordsProcessed)
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter republishes the most recent Snapshot as Prometheus
// gauges. The teacher repo has no metrics-exposition library of its own;
// this is wired from the broader example pack (several sibling repos
// standardize on prometheus/client_golang for exactly this kind of live
// gauge/counter set), since no SPEC_FULL component already covers exposing
// run metrics over /metrics for cmd/batchtrigger.
type PrometheusExporter struct {
	mu   sync.RWMutex
	last Snapshot

	workItemsProcessed *prometheus.Desc
	totalWorkItems      *prometheus.Desc
	recordsProcessed    *prometheus.Desc
	filesPerMinute      *prometheus.Desc
	recordsPerSecond    *prometheus.Desc
	activeDBConnections *prometheus.Desc
	heapUtilization     *prometheus.Desc
	totalErrors         *prometheus.Desc
	failedWorkItems     *prometheus.Desc
}

// NewPrometheusExporter builds an exporter; register it with a
// prometheus.Registerer to serve it over /metrics.
func NewPrometheusExporter() *PrometheusExporter {
	ns := "adaptivebatch"
	return &PrometheusExporter{
		workItemsProcessed: prometheus.NewDesc(ns+"_work_items_processed", "Work items processed so far.", nil, nil),
		totalWorkItems:      prometheus.NewDesc(ns+"_work_items_total", "Total work items discovered for the run.", nil, nil),
		recordsProcessed:    prometheus.NewDesc(ns+"_records_processed", "Records processed so far.", nil, nil),
		filesPerMinute:      prometheus.NewDesc(ns+"_work_items_per_minute", "Rolling work-item processing rate.", nil, nil),
		recordsPerSecond:    prometheus.NewDesc(ns+"_records_per_second", "Rolling record processing rate.", nil, nil),
		activeDBConnections: prometheus.NewDesc(ns+"_db_connections_active", "Active database connections.", nil, nil),
		heapUtilization:     prometheus.NewDesc(ns+"_heap_utilization_ratio", "Heap allocation as a fraction of heap reserved from the OS.", nil, nil),
		totalErrors:         prometheus.NewDesc(ns+"_errors_total", "Total errors observed.", nil, nil),
		failedWorkItems:     prometheus.NewDesc(ns+"_work_items_failed", "Work items that failed outright.", nil, nil),
	}
}

// Observe records the latest snapshot to be served on the next Collect.
func (p *PrometheusExporter) Observe(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = snap
}

// Describe implements prometheus.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.workItemsProcessed
	ch <- p.totalWorkItems
	ch <- p.recordsProcessed
	ch <- p.filesPerMinute
	ch <- p.recordsPerSecond
	ch <- p.activeDBConnections
	ch <- p.heapUtilization
	ch <- p.totalErrors
	ch <- p.failedWorkItems
}

// Collect implements prometheus.Collector.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	p.mu.RLock()
	snap := p.last
	p.mu.RUnlock()

	ch <- prometheus.MustNewConstMetric(p.workItemsProcessed, prometheus.CounterValue, float64(snap.WorkItemsProcessed))
	ch <- prometheus.MustNewConstMetric(p.totalWorkItems, prometheus.GaugeValue, float64(snap.TotalWorkItems))
	ch <- prometheus.MustNewConstMetric(p.recordsProcessed, prometheus.CounterValue, float64(snap.RecordsProcessed))
	ch <- prometheus.MustNewConstMetric(p.filesPerMinute, prometheus.GaugeValue, snap.FilesPerMinute)
	ch <- prometheus.MustNewConstMetric(p.recordsPerSecond, prometheus.GaugeValue, snap.RecordsPerSecond)
	ch <- prometheus.MustNewConstMetric(p.activeDBConnections, prometheus.GaugeValue, float64(snap.ActiveDBConnections))
	ch <- prometheus.MustNewConstMetric(p.heapUtilization, prometheus.GaugeValue, snap.HeapUtilization)
	ch <- prometheus.MustNewConstMetric(p.totalErrors, prometheus.CounterValue, float64(snap.TotalErrors))
	ch <- prometheus.MustNewConstMetric(p.failedWorkItems, prometheus.CounterValue, float64(snap.FailedWorkItems))
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelfix_runs_total",
		Help: "Sanitize and validate runs by outcome",
	}, []string{"outcome"})
	StageDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parcelfix_stage_duration_ms",
		Help:    "Pipeline stage duration in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 120000},
	}, []string{"stage"})
	StageRollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelfix_stage_rollbacks_total",
		Help: "Stages whose changes were rolled back",
	}, []string{"stage"})
	RecordsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelfix_records_written_total",
		Help: "Record level store writes by kind",
	}, []string{"kind"})
	OverlapsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelfix_overlaps_total",
		Help: "Overlapping pairs by resolution status",
	}, []string{"status"})
	BufferAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parcelfix_buffer_attempts",
		Help:    "Buffer-erase attempts needed per overlapping pair",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
	})
	ValidationIssuesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelfix_validation_issues_total",
		Help: "Validation issues by stage and severity",
	}, []string{"stage", "severity"})
	LeaseConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parcelfix_lease_conflicts_total",
		Help: "Runs refused because the batch was leased elsewhere",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelfix_http_requests_total",
		Help: "HTTP requests by endpoint and status code",
	}, []string{"endpoint", "code"})
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(StageDurationMs)
	prometheus.MustRegister(StageRollbacksTotal)
	prometheus.MustRegister(RecordsWrittenTotal)
	prometheus.MustRegister(OverlapsTotal)
	prometheus.MustRegister(BufferAttempts)
	prometheus.MustRegister(ValidationIssuesTotal)
	prometheus.MustRegister(LeaseConflictsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler exposes every registered collector for scraping.
func Handler() http.Handler { return promhttp.Handler() }

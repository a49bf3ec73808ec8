package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "catalogsync"

// PrometheusRecorder exports run outcomes and stats-server traffic on its own registry
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	runDuration     prometheus.Histogram
	lastRunTime     prometheus.Gauge
	lastRunRecords  *prometheus.GaugeVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with Go and process collectors registered
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync runs observed, by dry-run mode.",
		}, []string{"dry_run"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Feed records by terminal outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_finished_timestamp_seconds",
			Help:      "Unix time the most recent run finished.",
		}),
		lastRunRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_records",
			Help:      "Record counts of the most recent run, by outcome.",
		}, []string{"outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Stats server requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Stats server request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.runsTotal,
		r.recordsTotal,
		r.runDuration,
		r.lastRunTime,
		r.lastRunRecords,
		r.requestsTotal,
		r.requestDuration,
	)
	return r
}

// outcomes lists the report counters exported per run
func outcomes(report *domain.RunReport) map[string]int {
	return map[string]int{
		"read":       report.Read,
		"malformed":  report.Malformed,
		"filtered":   report.Filtered,
		"considered": report.Considered,
		"created":    report.Created,
		"updated":    report.Updated,
		"skipped":    report.Skipped,
		"planned":    report.Planned,
		"errored":    report.Errored,
	}
}

// ObserveRun records one finished run
func (r *PrometheusRecorder) ObserveRun(report *domain.RunReport) {
	if report == nil {
		return
	}
	r.runsTotal.WithLabelValues(strconv.FormatBool(report.DryRun)).Inc()
	for outcome, n := range outcomes(report) {
		r.recordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
	r.runDuration.Observe(report.Duration().Seconds())
	r.setLastRun(report)
}

// SetLastRun updates only the last-run gauges, e.g. from stored history at startup
func (r *PrometheusRecorder) SetLastRun(report *domain.RunReport) {
	if report == nil {
		return
	}
	r.setLastRun(report)
}

func (r *PrometheusRecorder) setLastRun(report *domain.RunReport) {
	if !report.FinishedAt.IsZero() {
		r.lastRunTime.Set(float64(report.FinishedAt.Unix()))
	}
	for outcome, n := range outcomes(report) {
		r.lastRunRecords.WithLabelValues(outcome).Set(float64(n))
	}
}

// ObserveRequest records one stats-server request
func (r *PrometheusRecorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Push replaces the metrics of job on a Prometheus Pushgateway with the
// current registry. One-shot sync runs use it since nothing scrapes them.
func (r *PrometheusRecorder) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

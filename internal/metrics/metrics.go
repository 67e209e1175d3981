// Package metrics owns the Prometheus registry served on the admin listener
// and implements the observer interfaces of the other packages.
//
// Labels are kept bounded: HTTP metrics use the chi route pattern, never the
// request path, since every object key would otherwise become a series.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/bucketedge/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	profilingActive        prometheus.Gauge

	storageOpsTotal *prometheus.CounterVec
	storageOpDur    *prometheus.HistogramVec

	siteResponsesTotal *prometheus.CounterVec
	injectionsTotal    *prometheus.CounterVec

	bucketObjects      prometheus.Gauge
	bucketBytes        prometheus.Gauge
	inventoryRunsTotal *prometheus.CounterVec
	inventoryLastRun   prometheus.Gauge
}

// New returns a fresh registry with the Go and process collectors.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times the rate limiter visitor table filled up",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		storageOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Bucket calls by operation and result (hit, miss, error)",
		}, []string{"op", "result"}),
		storageOpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Bucket call latency by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		siteResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_responses_total",
			Help: "Site handler responses by kind (object, pinned, root_page, miss_page, miss_plain, error, ...)",
		}, []string{"kind"}),
		injectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "site_html_injections_total",
			Help: "HTML documents rewritten (injected) or passed through for size (too_large)",
		}, []string{"result"}),
		bucketObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bucket_objects",
			Help: "Objects counted by the last inventory",
		}),
		bucketBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bucket_bytes",
			Help: "Total object size counted by the last inventory",
		}),
		inventoryRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_inventory_runs_total",
			Help: "Inventory runs by result (ok, partial)",
		}, []string{"result"}),
		inventoryLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bucket_inventory_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last inventory run",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.storageOpsTotal,
		m.storageOpDur,
		m.siteResponsesTotal,
		m.injectionsTotal,
		m.bucketObjects,
		m.bucketBytes,
		m.inventoryRunsTotal,
		m.inventoryLastRun,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// ObserveStorageOp implements storage.Observer.
func (m *ServerMetrics) ObserveStorageOp(op, result string, seconds float64) {
	m.storageOpsTotal.WithLabelValues(op, result).Inc()
	m.storageOpDur.WithLabelValues(op).Observe(seconds)
}

// IncSiteResponse and IncInjection implement sitehandler.Metrics.
func (m *ServerMetrics) IncSiteResponse(kind string) {
	m.siteResponsesTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) IncInjection(result string) {
	m.injectionsTotal.WithLabelValues(result).Inc()
}

// ObserveInventory implements diag.Metrics.
func (m *ServerMetrics) ObserveInventory(objects int, bytes int64, complete bool, at time.Time) {
	m.bucketObjects.Set(float64(objects))
	m.bucketBytes.Set(float64(bytes))
	result := "ok"
	if !complete {
		result = "partial"
	}
	m.inventoryRunsTotal.WithLabelValues(result).Inc()
	m.inventoryLastRun.Set(float64(at.Unix()))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

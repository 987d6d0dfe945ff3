package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

var (
	BufferRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearby_buffer_requests_total",
		Help: "Buffer requests by outcome (ok, empty, failed, superseded)",
	}, []string{"outcome"})
	BufferDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nearby_buffer_duration_ms",
		Help:    "Remote buffer call duration in milliseconds",
		Buckets: durationBuckets,
	})
	BufferCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearby_buffer_cache_total",
		Help: "Buffer cache lookups by tier and result",
	}, []string{"tier", "result"})
	QueryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearby_query_requests_total",
		Help: "Spatial queries by data source and outcome",
	}, []string{"source", "outcome"})
	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nearby_query_duration_ms",
		Help:    "Spatial query duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"source"})
	ReconcileSelectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nearby_reconcile_selected_total",
		Help: "Features selected by reconciliation",
	})
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearby_runs_total",
		Help: "Search runs by final result",
	}, []string{"result"})
	SourceHeartbeatTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nearby_source_heartbeat_total",
		Help: "Data source heartbeat count by status",
	}, []string{"source", "status"})
)

func init() {
	prometheus.MustRegister(BufferRequestsTotal)
	prometheus.MustRegister(BufferDurationMs)
	prometheus.MustRegister(BufferCacheTotal)
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(ReconcileSelectedTotal)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(SourceHeartbeatTotal)
}

// 文档注释：返回 Prometheus 指标处理器，在主入口挂载到 /metrics
func Handler() http.Handler { return promhttp.Handler() }

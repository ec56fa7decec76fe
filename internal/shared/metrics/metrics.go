package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brokercrm"

var (
	registry = prometheus.NewRegistry()

	batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "batches_total",
		Help:      "Classification runs by final batch status.",
	}, []string{"status"})

	documentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "documents_total",
		Help:      "Scan batch documents by final document status.",
	}, []string{"status"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "classification_duration_seconds",
		Help:      "Wall time of one batch classification run.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	llmCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "LLM gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	tenantOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tenants",
		Name:      "operations_total",
		Help:      "Tenant lifecycle operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	planCacheRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "features",
		Name:      "plan_cache_refresh_total",
		Help:      "Plan/module cache refreshes by result.",
	}, []string{"result"})

	workerMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "messages_total",
		Help:      "Queue messages handled by the worker, by transport and outcome.",
	}, []string{"transport", "outcome"})
)

func init() {
	registry.MustRegister(
		batchesTotal,
		documentsTotal,
		batchDuration,
		llmCallsTotal,
		tenantOpsTotal,
		planCacheRefreshTotal,
		workerMessagesTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// IncBatch counts a finished classification run.
func IncBatch(status string) {
	batchesTotal.WithLabelValues(status).Inc()
}

// AddDocuments counts n documents that ended in status.
func AddDocuments(status string, n int) {
	if n <= 0 {
		return
	}
	documentsTotal.WithLabelValues(status).Add(float64(n))
}

// ObserveBatchDuration records a classification run duration.
func ObserveBatchDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	batchDuration.Observe(d.Seconds())
}

// IncLLMCall counts one gateway call.
func IncLLMCall(operation, outcome string) {
	llmCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncTenantOp counts one tenant lifecycle operation.
func IncTenantOp(operation, outcome string) {
	tenantOpsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncPlanCacheRefresh counts a plan cache refresh ("ok" or "error").
func IncPlanCacheRefresh(result string) {
	planCacheRefreshTotal.WithLabelValues(result).Inc()
}

// IncWorkerMessage counts one consumed queue message. Outcome is one of
// processed, failed or dropped.
func IncWorkerMessage(transport, outcome string) {
	workerMessagesTotal.WithLabelValues(transport, outcome).Inc()
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return gin.WrapH(h)
}

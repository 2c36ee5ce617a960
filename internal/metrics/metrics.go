package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg             *prometheus.Registry
	APIRequests     *prometheus.CounterVec
	APILatencySec   *prometheus.HistogramVec
	ReconcileOps    *prometheus.CounterVec
	SearchQueries   *prometheus.CounterVec
	TableCache      *prometheus.CounterVec
	SubmitsInFlight prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderdesk_api_requests_total",
		Help: "Back-end API calls by operation and status code.",
	}, []string{"op", "code"})
	apiLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderdesk_api_request_seconds",
		Help:    "Back-end API call latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reconcileOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderdesk_reconcile_ops_total",
		Help: "Line item writes made while reconciling a submit.",
	}, []string{"kind", "result"})
	searchQueries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderdesk_search_queries_total",
		Help: "Debounced lookups sent, by search box.",
	}, []string{"box"})
	tableCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderdesk_table_cache_total",
		Help: "Order detail cache lookups by result.",
	}, []string{"result"})
	submits := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orderdesk_submits_in_flight",
		Help: "Draft submits currently running.",
	})

	r.MustRegister(apiRequests, apiLatency, reconcileOps, searchQueries, tableCache, submits)
	return &Registry{
		reg:             r,
		APIRequests:     apiRequests,
		APILatencySec:   apiLatency,
		ReconcileOps:    reconcileOps,
		SearchQueries:   searchQueries,
		TableCache:      tableCache,
		SubmitsInFlight: submits,
	}
}

// ObserveAPI records one back-end call. code is "error" for transport failures.
func (r *Registry) ObserveAPI(op, code string, started time.Time) {
	if r == nil {
		return
	}
	r.APIRequests.WithLabelValues(op, code).Inc()
	r.APILatencySec.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (r *Registry) ObserveReconcile(kind, result string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.ReconcileOps.WithLabelValues(kind, result).Add(float64(n))
}

func (r *Registry) ObserveSearch(box string) {
	if r == nil {
		return
	}
	r.SearchQueries.WithLabelValues(box).Inc()
}

func (r *Registry) ObserveCache(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.TableCache.WithLabelValues(result).Inc()
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

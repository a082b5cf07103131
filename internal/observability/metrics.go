// Package observability exposes the Prometheus registry for the API process.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	postings        *prometheus.CounterVec
	stockRejections *prometheus.CounterVec
	docNoRetries    *prometheus.CounterVec
	mirrorFailures  *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and stock domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consignhub_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consignhub_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consignhub_delivery_postings_total",
		Help: "Delivery postings by mode and result.",
	}, []string{"mode", "result"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consignhub_stock_rejections_total",
		Help: "Stock debits refused because the balance would go negative.",
	}, []string{"location_type"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consignhub_docno_retries_total",
		Help: "Document number collisions that forced a retry.",
	}, []string{"doc_type"})
	mirrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consignhub_status_mirror_failures_total",
		Help: "Failed copies of a document status onto its delivery record.",
	}, []string{"target"})
	registry.MustRegister(requests, duration, postings, rejections, retries, mirrors)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postings:        postings,
		stockRejections: rejections,
		docNoRetries:    retries,
		mirrorFailures:  mirrors,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ==== domain observers ====

// PostingCompleted counts a confirm-receive attempt.
func (m *Metrics) PostingCompleted(mode, result string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(mode, result).Inc()
}

// StockRejected counts a refused debit.
func (m *Metrics) StockRejected(locationType string) {
	if m == nil {
		return
	}
	m.stockRejections.WithLabelValues(locationType).Inc()
}

// DocNoRetried counts a document number collision.
func (m *Metrics) DocNoRetried(docType string) {
	if m == nil {
		return
	}
	m.docNoRetries.WithLabelValues(docType).Inc()
}

// MirrorFailed counts a failed status mirror.
func (m *Metrics) MirrorFailed(target string) {
	if m == nil {
		return
	}
	m.mirrorFailures.WithLabelValues(target).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

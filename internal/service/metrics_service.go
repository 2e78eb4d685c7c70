package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
// Authorization outcomes are exported as labelled counters rather than
// in-process tallies.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	authzDecisions  *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	enrollments     prometheus.Counter
	gradeUpdates    prometheus.Counter
}

// NewMetricsService registers the core collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	authzDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_decisions_total",
		Help: "Authorization rule evaluations by rule name and outcome",
	}, []string{"rule", "outcome"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	enrollments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_total",
		Help: "Total successfully created enrollment records",
	})

	gradeUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grade_updates_total",
		Help: "Total grade records updated through bulk operations",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, authzDecisions, cacheHits, cacheMisses, enrollments, gradeUpdates, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		authzDecisions:  authzDecisions,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		enrollments:     enrollments,
		gradeUpdates:    gradeUpdates,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request timing and counts.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordAuthzDecision counts one rule evaluation.
func (m *MetricsService) RecordAuthzDecision(rule string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.authzDecisions.WithLabelValues(rule, outcome).Inc()
}

// RecordCacheOperation counts a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordEnrollments counts successfully created enrollment records.
func (m *MetricsService) RecordEnrollments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enrollments.Add(float64(n))
}

// RecordGradeUpdates counts grade records touched by bulk operations.
func (m *MetricsService) RecordGradeUpdates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.gradeUpdates.Add(float64(n))
}

package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ledgerEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditledger_entries_appended_total",
		Help: "Total ledger entries appended through the HTTP API.",
	})

	ledgerAppendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_append_failures_total",
		Help: "Total failed append attempts by failure kind.",
	}, []string{"kind"})

	ledgerVerifyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_verify_runs_total",
		Help: "Total verification replays by outcome.",
	}, []string{"outcome"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auditledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordAppend() { ledgerEntriesTotal.Inc() }

func recordAppendFailure(kind string) {
	ledgerAppendFailuresTotal.WithLabelValues(kind).Inc()
}

func recordVerifyRun(passed bool) {
	if passed {
		ledgerVerifyRunsTotal.WithLabelValues("passed").Inc()
	} else {
		ledgerVerifyRunsTotal.WithLabelValues("failed").Inc()
	}
}

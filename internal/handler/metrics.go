package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	oplogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oplog_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	oplogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oplog_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	oplogAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oplog_appends_total",
		Help: "Operator record append attempts by result code.",
	}, []string{"code"})

	oplogRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oplog_records",
		Help: "Number of records in the operator log.",
	})

	oplogNotifyDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oplog_notify_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
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
			path = "unmatched"
		}

		oplogRequestsTotal.WithLabelValues(method, path, status).Inc()
		oplogRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records an append attempt. code is "" for an accepted record.
func RecordAppend(code string) {
	if code == "" {
		code = "ok"
	}
	oplogAppendsTotal.WithLabelValues(code).Inc()
}

// SetLogLength sets the record count gauge.
func SetLogLength(n int) {
	oplogRecords.Set(float64(n))
}

// RecordNotifyDelivery records a webhook delivery attempt.
func RecordNotifyDelivery(success bool) {
	if success {
		oplogNotifyDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		oplogNotifyDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

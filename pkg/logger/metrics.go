package logger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics registry for Prometheus metrics shared across the screener

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"service", "error_type"},
	)

	// ScanRunsTotal counts pipeline runs by outcome ("ok", "degraded", "failed", "superseded")
	ScanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_runs_total",
			Help: "Total number of screening runs",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screener_stage_duration_seconds",
			Help:    "Duration of each screening pipeline stage in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// ScanRows tracks row counts of the latest run ("scanned", "matched", "enriched")
	ScanRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "screener_rows",
			Help: "Row counts of the latest screening run",
		},
		[]string{"kind"},
	)

	EnrichmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_enrichment_total",
			Help: "Enrichment lookups by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_cache_requests_total",
			Help: "Cache lookups by backend and result",
		},
		[]string{"backend", "result"},
	)
)

var (
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Active WebSocket connections",
		},
	)

	WSMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_messages_total",
			Help: "WebSocket messages by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

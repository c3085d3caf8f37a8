package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quill/internal/relay"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Explain metrics
	ExplainRequests     prometheus.Counter
	ExplainCacheHits    prometheus.Counter
	ExplainCacheMisses  prometheus.Counter

	// Chat metrics
	ChatRequests       prometheus.Counter
	ChatRequestLatency prometheus.Histogram
	RequestErrors      *prometheus.CounterVec
}

// InitMetrics initializes the Prometheus metrics. Call once at startup.
func InitMetrics(connManager *ConnectionManager, r *relay.Relay) *Metrics {
	metrics := &Metrics{
		ExplainRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quill_explain_requests_total",
			Help: "Total number of explain requests processed",
		}),

		ExplainCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quill_explain_cache_hits_total",
			Help: "Explain requests served from the bounded cache",
		}),

		ExplainCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quill_explain_cache_misses_total",
			Help: "Explain requests that went to the upstream",
		}),

		ChatRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quill_chat_requests_total",
			Help: "Total number of chat turns processed",
		}),

		ChatRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "quill_chat_request_duration_seconds",
			Help:    "Chat turn latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // generative calls are slow
		}),

		RequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_request_errors_total",
			Help: "Total number of failed requests by error kind",
		}, []string{"kind"}),
	}

	// Live gauges read straight from the owning components.
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "quill_panel_connections_current",
			Help: "Current number of live panel connections",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "quill_streams_pending_current",
			Help: "Current number of pending streamed turns",
		},
		func() float64 {
			if r != nil {
				return float64(r.ActiveCount())
			}
			return 0
		},
	))

	return metrics
}

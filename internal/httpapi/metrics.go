package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors, registered against a
// private registry so /metrics never leaks the default registry's process
// and Go runtime collectors under a name this gateway doesn't own.
type Metrics struct {
	Registry *prometheus.Registry

	RPCRequestsTotal    *prometheus.CounterVec
	RPCDuration         *prometheus.HistogramVec
	BackendRestarts     *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	RateLimitRejections prometheus.Counter
}

// NewMetrics constructs and registers the gateway's metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,
		RPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatewayd",
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests processed, by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatewayd",
			Name:      "rpc_duration_seconds",
			Help:      "JSON-RPC request handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		BackendRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatewayd",
			Name:      "backend_restarts_total",
			Help:      "Backend restarts requested through the admin API, by backend id.",
		}, []string{"backend_id"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatewayd",
			Name:      "active_sessions",
			Help:      "Currently open SSE sessions.",
		}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gatewayd",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	return m
}

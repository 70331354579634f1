// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the toolgate service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ToolBuckets defines histogram buckets suited for tool call latencies,
// ranging from 10ms to 60s.
var ToolBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

var (
	// RequestsTotal counts admin API requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records admin API request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ToolBuckets,
		},
		[]string{"method", "route"},
	)

	// InflightRequests tracks admin API requests currently being served.
	InflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgate_inflight_requests",
			Help: "Requests in flight",
		},
	)

	// ToolInvocationsTotal counts tool invocations by provider, tool and
	// outcome. The outcome is "success", "tool_error" or an invocation
	// error kind.
	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_invocations_total",
			Help: "Tool invocations",
		},
		[]string{"provider", "tool", "outcome"},
	)

	// ToolInvocationDuration records tool invocation latency in seconds.
	ToolInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_tool_invocation_duration_seconds",
			Help:    "Tool invocation duration",
			Buckets: ToolBuckets,
		},
		[]string{"provider", "tool"},
	)

	// ProviderUp is 1 while a provider serves actions and 0 otherwise.
	ProviderUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolgate_provider_up",
			Help: "Provider serving state",
		},
		[]string{"provider", "kind"},
	)

	// ProviderStartsTotal counts adapter connection attempts by result.
	ProviderStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_provider_starts_total",
			Help: "Provider start attempts",
		},
		[]string{"provider", "result"},
	)

	// CatalogActions tracks the number of actions in the live catalog.
	CatalogActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgate_catalog_actions",
			Help: "Actions in the live catalog",
		},
	)

	// ReloadsTotal counts catalog reloads by result.
	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_reloads_total",
			Help: "Catalog reloads",
		},
		[]string{"result"},
	)

	// AuthRejectedTotal counts admin API requests rejected by
	// authentication or rate limiting.
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_auth_rejected_total",
			Help: "Rejected admin API requests",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InflightRequests,
		ToolInvocationsTotal,
		ToolInvocationDuration,
		ProviderUp,
		ProviderStartsTotal,
		CatalogActions,
		ReloadsTotal,
		AuthRejectedTotal,
	)
}

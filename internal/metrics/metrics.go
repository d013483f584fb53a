// Package metrics holds the Prometheus collectors shared by the gateway,
// the stream, the engine and the HTTP layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// nadobot_gateway_requests_total
	//
	// Has the following labels:
	// * endpoint - query, execute or archive
	// * type - the request type (all_products, place_orders, ...)
	// * outcome - ok, transport, http_status or malformed
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nadobot_gateway_requests_total",
			Help: "Gateway requests by endpoint, request type and outcome.",
		},
		[]string{"endpoint", "type", "outcome"},
	)

	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nadobot_gateway_request_duration_seconds",
			Help:    "Histogram of gateway round-trip latencies.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// nadobot_orders_total
	//
	// Has the following labels:
	// * action - place, batch, market or cancel
	// * result - success or the failure kind
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nadobot_orders_total",
			Help: "Order and cancel submissions by action and result.",
		},
		[]string{"action", "result"},
	)

	StreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nadobot_stream_reconnects_total",
			Help: "Number of times the stream supervisor re-dialed the venue.",
		},
	)

	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nadobot_stream_messages_total",
			Help: "Stream frames by routed class (ping, depth, fill, error, other).",
		},
		[]string{"class"},
	)

	EngineCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nadobot_engine_cycles_total",
			Help: "Strategy loop iterations by mode.",
		},
		[]string{"mode"},
	)

	RiskSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nadobot_risk_skips_total",
			Help: "Maker cycles skipped by a risk gate.",
		},
		[]string{"gate"},
	)

	ConsecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nadobot_engine_consecutive_errors",
			Help: "Current consecutive-error count of the running engine.",
		},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nadobot_account_equity",
			Help: "Last computed account equity in quote units.",
		},
	)

	Position = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nadobot_account_position",
			Help: "Signed position of the traded product.",
		},
	)

	BookMid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nadobot_book_mid_price",
			Help: "Mid price of the local order book.",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nadobot_http_requests_total",
			Help: "Total number of control API requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nadobot_http_request_duration_seconds",
			Help:    "Histogram of control API latencies.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		GatewayRequests,
		GatewayLatency,
		Orders,
		StreamReconnects,
		StreamMessages,
		EngineCycles,
		RiskSkips,
		ConsecutiveErrors,
		Equity,
		Position,
		BookMid,
		HTTPRequests,
		HTTPLatency,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// OrderResult records one submission outcome. An empty failure kind counts
// as success.
func OrderResult(action string, success bool, failure string) {
	result := "success"
	if !success {
		result = failure
		if result == "" {
			result = "rejected"
		}
	}
	Orders.WithLabelValues(action, result).Inc()
}

// Package metrics provides Prometheus instrumentation for the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of simulated trades executed",
	}, []string{"side"})

	// TradeRejections counts engine rejections by failure kind.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Trades rejected by the ledger engine",
	}, []string{"reason"})

	// OracleLatency tracks price-quote latency per backend.
	OracleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_oracle_latency_seconds",
		Help:    "Price oracle request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	// OracleFailures counts failed quote requests per backend.
	OracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_oracle_failures_total",
		Help: "Failed price oracle requests",
	}, []string{"backend"})

	// WebSocketClients tracks connected chat clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket chat clients",
	})

	// BroadcastFailures counts per-user delivery failures during admin
	// broadcasts. These are surfaced, not retried.
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_broadcast_failures_total",
		Help: "Per-user delivery failures during admin broadcasts",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

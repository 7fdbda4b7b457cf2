package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the trade engine. Registered on the default
// registry via promauto and exposed by the ops server at /metrics.

// OrdersPlaced counts orders submitted to the exchange, by symbol and side.
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "executor",
		Name:      "orders_placed_total",
		Help:      "Orders submitted to the exchange",
	},
	[]string{"symbol", "side"},
)

// OrdersDeduplicated counts orders short-circuited by the idempotency cache.
var OrdersDeduplicated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "executor",
		Name:      "orders_deduplicated_total",
		Help:      "Orders skipped because their idempotency key was already recorded",
	},
	[]string{"symbol"},
)

// OrderFailures counts terminal order placement failures by error kind.
var OrderFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "executor",
		Name:      "order_failures_total",
		Help:      "Order placements that failed after retries",
	},
	[]string{"symbol", "kind"},
)

// OrderPlacementLatency tracks exchange round-trip time for order placement,
// including confirmation polling.
var OrderPlacementLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradeengine",
		Subsystem: "executor",
		Name:      "order_placement_seconds",
		Help:      "Time from placement request to confirmed exchange status",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"symbol"},
)

// RiskRejections counts orders refused by the risk manager, by check.
var RiskRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Orders refused by a risk limit check",
	},
	[]string{"check", "scope"},
)

// ExposureReserved reports currently reserved but unconfirmed exposure.
var ExposureReserved = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradeengine",
		Subsystem: "risk",
		Name:      "exposure_reserved",
		Help:      "Exposure reserved for in-flight orders, by account",
	},
	[]string{"account"},
)

// BreakerTrips counts circuit breaker activations by trigger type and scope.
var BreakerTrips = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "breaker",
		Name:      "trips_total",
		Help:      "Circuit breaker activations",
	},
	[]string{"type", "scope"},
)

// BreakersActive reports currently active breakers per account.
var BreakersActive = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradeengine",
		Subsystem: "breaker",
		Name:      "active",
		Help:      "Currently active circuit breakers, by account",
	},
	[]string{"account"},
)

// TradesCompleted counts matched round trips by symbol and outcome.
var TradesCompleted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "matcher",
		Name:      "trades_completed_total",
		Help:      "Completed round-trip trades recorded by the matcher",
	},
	[]string{"symbol", "outcome"},
)

// MatchResiduals counts exits that could not be fully matched to entries.
var MatchResiduals = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "matcher",
		Name:      "residuals_total",
		Help:      "Closing fills with unmatched residual quantity",
	},
	[]string{"symbol"},
)

// RealizedPnL accumulates signed realized PnL (quote units) per symbol.
// A gauge because losses subtract.
var RealizedPnL = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradeengine",
		Subsystem: "matcher",
		Name:      "realized_pnl",
		Help:      "Cumulative realized PnL in quote currency",
	},
	[]string{"symbol", "position_side"},
)

// StrategyLoops counts strategy loop iterations by result.
var StrategyLoops = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "engine",
		Name:      "strategy_loops_total",
		Help:      "Strategy loop iterations",
	},
	[]string{"strategy", "result"},
)

// ExchangeCalls tracks exchange REST calls by operation and outcome.
var ExchangeCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeengine",
		Subsystem: "exchange",
		Name:      "calls_total",
		Help:      "Exchange REST calls",
	},
	[]string{"op", "outcome"},
)

// Package metrics 汇总 tradehub 的 Prometheus 指标，由 /metrics 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradehub"

// EventsPublished 按 payload kind 统计入队事件。
var EventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "published_total",
		Help:      "Events accepted by the bus, by payload kind",
	},
	[]string{"kind"},
)

var EventsDispatched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "dispatched_total",
		Help:      "Events taken off the queue and dispatched, by payload kind",
	},
	[]string{"kind"},
)

// HandlerFailures counts recovered handler panics and returned errors.
var HandlerFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handler_failures_total",
		Help:      "Handler invocations that failed or panicked",
	},
	[]string{"handler"},
)

var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "queue_depth",
		Help:      "Events waiting in the dispatch queue",
	},
)

var HandlerLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handler_latency_ms",
		Help:      "Handler execution time in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500},
	},
)

// GatewayState 0=disconnected 1=connecting 2=connected.
var GatewayState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "connection_state",
		Help:      "Gateway connection state (0=disconnected, 1=connecting, 2=connected)",
	},
	[]string{"gateway"},
)

var ReconnectAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnection attempts after unexpected connection loss",
	},
	[]string{"gateway", "result"},
)

// Orders 统计下单结果：submitted / accepted / rejected。
var Orders = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "orders_total",
		Help:      "Orders sent through gateways, by result",
	},
	[]string{"gateway", "result"},
)

var StateViolations = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oms",
		Name:      "state_violations_total",
		Help:      "Order updates rejected by the lifecycle table",
	},
)

var WSClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "ws_clients",
		Help:      "Connected event-stream websocket clients",
	},
)

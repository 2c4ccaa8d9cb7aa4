package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route template, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizerCalls counts calls to the external optimizer by endpoint and classified outcome
	OptimizerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimizer_calls_total", Help: "Optimizer calls by endpoint and outcome."},
		[]string{"endpoint", "outcome"},
	)
	// OptimizerLatency tracks optimizer round trips in seconds
	OptimizerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimizer_call_duration_seconds", Help: "Optimizer call latency in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}},
		[]string{"endpoint"},
	)
	// OptimizerAvailable is 1 while the optimizer is considered available
	OptimizerAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "optimizer_available", Help: "1 if the optimizer is available, 0 otherwise."},
	)
	// PenaltySource counts which edge penalty matrix was sent
	PenaltySource = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "edge_penalty_matrices_total", Help: "Edge penalty matrices by source (server, synthetic)."},
		[]string{"source"},
	)
	// SessionTransitions counts state machine transitions by target state
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimization_session_transitions_total", Help: "Optimization session transitions by target state."},
		[]string{"state"},
	)
	// Decisions counts operator decisions by action and outcome
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_decisions_total", Help: "Operator route decisions by action and outcome."},
		[]string{"action", "outcome"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the API registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(OptimizerCalls, OptimizerLatency, OptimizerAvailable, PenaltySource)
		Registry.MustRegister(SessionTransitions, Decisions)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

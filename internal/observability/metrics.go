package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - AI provider request performance and token consumption
//   - Tool execution patterns and latencies
//   - Active client sessions and event stream connections
//   - HTTP request/response metrics
//   - Thread store operation performance
//
// All recording methods are safe to call on a nil *Metrics, which turns
// them into no-ops. Components accept an optional *Metrics and never need
// to guard their call sites.
type Metrics struct {
	// ProviderRequestDuration measures AI provider call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts AI provider calls.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokens tracks token consumption.
	// Labels: provider, model, direction (input|output)
	ProviderTokens *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveSessions is a gauge tracking currently registered client sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds.
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration prometheus.Histogram

	// EventStreamConnections is a gauge tracking open event stream connections.
	// A session may be registered without a live connection while the client
	// is temporarily disconnected, so this can be lower than ActiveSessions.
	EventStreamConnections prometheus.Gauge

	// McpInstances is a gauge tracking live MCP server instances. Sessions
	// sharing a server count it once.
	McpInstances prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// StoreQueryDuration measures thread store operation latency.
	// Labels: operation (save|load|list|delete)
	StoreQueryDuration *prometheus.HistogramVec

	// StoreQueryCounter counts thread store operations.
	// Labels: operation, status (success|error)
	StoreQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coday_provider_request_duration_seconds",
				Help:    "Duration of AI provider API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coday_provider_requests_total",
				Help: "Total number of AI provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coday_provider_tokens_total",
				Help: "Total number of tokens consumed by provider, model, and direction",
			},
			[]string{"provider", "model", "direction"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coday_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coday_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coday_active_sessions",
				Help: "Current number of registered client sessions",
			},
		),

		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coday_session_duration_seconds",
				Help:    "Duration of client sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),

		EventStreamConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coday_event_stream_connections",
				Help: "Current number of open event stream connections",
			},
		),

		McpInstances: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coday_mcp_instances",
				Help: "Current number of live MCP server instances",
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coday_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coday_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		StoreQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coday_store_query_duration_seconds",
				Help:    "Duration of thread store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		StoreQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coday_store_queries_total",
				Help: "Total number of thread store operations",
			},
			[]string{"operation", "status"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordProviderRequest records latency and outcome for one AI provider call.
//
// Example:
//
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordProviderRequest("anthropic", "claude-sonnet-4-0", time.Since(start), err == nil)
func (m *Metrics) RecordProviderRequest(provider, model string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ProviderRequestCounter.WithLabelValues(provider, model, statusLabel(success)).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// RecordProviderTokens adds the token counts reported by a provider response.
func (m *Metrics) RecordProviderTokens(provider, model string, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	if inputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records latency and outcome for one tool invocation.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("shell", time.Since(start), true)
func (m *Metrics) RecordToolExecution(tool string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, statusLabel(success)).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records the session lifetime.
func (m *Metrics) SessionEnded(lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// StreamConnected increments the event stream connections gauge.
func (m *Metrics) StreamConnected() {
	if m == nil {
		return
	}
	m.EventStreamConnections.Inc()
}

// StreamDisconnected decrements the event stream connections gauge.
func (m *Metrics) StreamDisconnected() {
	if m == nil {
		return
	}
	m.EventStreamConnections.Dec()
}

// McpInstanceStarted increments the live MCP instances gauge.
func (m *Metrics) McpInstanceStarted() {
	if m == nil {
		return
	}
	m.McpInstances.Inc()
}

// McpInstanceStopped decrements the live MCP instances gauge.
func (m *Metrics) McpInstanceStopped() {
	if m == nil {
		return
	}
	m.McpInstances.Dec()
}

// RecordHTTPRequest records metrics for one handled HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("POST", "/api/message", "200", time.Since(start))
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(d.Seconds())
}

// RecordStoreQuery records metrics for one thread store operation.
func (m *Metrics) RecordStoreQuery(operation string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.StoreQueryCounter.WithLabelValues(operation, statusLabel(success)).Inc()
	m.StoreQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
}

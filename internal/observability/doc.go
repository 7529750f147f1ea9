// Package observability provides monitoring and debugging capabilities for
// the Coday server through metrics, structured logging, and distributed
// tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured slog output with credential redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented with the Prometheus client libraries and track:
//   - AI provider request latency and token usage
//   - Tool execution performance
//   - Active client sessions and event stream connections
//   - HTTP request/response metrics
//   - Thread store operation performance
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordProviderRequest("anthropic", model, time.Since(start), err == nil)
//
// All recording methods are no-ops on a nil *Metrics, so components can treat
// metrics as optional wiring.
//
// # Logging
//
// Logging is built on Go's slog package. NewLogger returns a standard
// *slog.Logger whose handler redacts credential-shaped values and any
// attribute whose key looks sensitive (api keys, passwords, tokens), so
// secrets cannot leak into log streams even by accident.
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.Info("provider configured", "provider", "anthropic", "apiKey", key) // key is masked
//
// Components derive their own loggers with logger.With("component", name).
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry with an OTLP gRPC exporter. When no
// collector endpoint is configured, NewTracer installs nothing and spans are
// created against the global no-op provider, keeping instrumented code paths
// identical in both modes.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "coday",
//	    ServiceVersion: version,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
// # Monitoring
//
// The exported metrics support the usual dashboard queries:
//
//	# Provider request latency (95th percentile)
//	histogram_quantile(0.95, rate(coday_provider_request_duration_seconds_bucket[5m]))
//
//	# Token burn rate
//	rate(coday_provider_tokens_total[5m])
//
//	# Active sessions
//	coday_active_sessions
package observability

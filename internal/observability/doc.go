// Package observability wires structured logging (slog), Prometheus metrics
// and OpenTelemetry tracing for chatline.
//
// Loggers carry request and conversation correlation pulled from the context
// and redact credentials before they reach the output:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.WithConversationID(ctx, "conv-1")
//	logger.InfoContext(ctx, "turn started")
//
// Metrics are registered against an explicit registerer so tests can use an
// isolated registry:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordToolExecution("calculate", "success", 0.01)
//
// Every Metrics method is safe on a nil receiver.
package observability

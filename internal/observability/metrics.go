package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for chatline.
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: status (stop|max-steps|tool-wait|cancelled|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn wall time in seconds.
	TurnDuration prometheus.Histogram

	// LLMRequestCounter counts model stream requests.
	// Labels: provider, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool executor outcomes.
	// Labels: tool, status (success|error|approval_requested|denied|delegated)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execute time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// MediaNormalizations counts media part substitutions.
	// Labels: kind (image|audio), result (memo_hit|cache_hit|computed|sentinel)
	MediaNormalizations *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: route, code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics registers all collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatline_turns_total",
				Help: "Total number of finished turns by status",
			},
			[]string{"status"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatline_turn_duration_seconds",
				Help:    "Duration of turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatline_llm_requests_total",
				Help: "Total number of model stream requests",
			},
			[]string{"provider", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatline_llm_tokens_total",
				Help: "Total tokens consumed",
			},
			[]string{"provider", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatline_tool_executions_total",
				Help: "Total number of tool executor outcomes",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatline_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		MediaNormalizations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatline_media_normalizations_total",
				Help: "Media parts converted to text, by outcome",
			},
			[]string{"kind", "result"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatline_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),
	}
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordLLMRequest records a model request and its token usage.
func (m *Metrics) RecordLLMRequest(provider, status string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, status).Inc()
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records a tool executor outcome. Duration is only
// observed when the tool actually ran.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	if durationSeconds > 0 {
		m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
	}
}

// RecordMediaNormalization records how a media part was resolved.
func (m *Metrics) RecordMediaNormalization(kind, result string) {
	if m == nil {
		return
	}
	m.MediaNormalizations.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(route, code).Inc()
}

package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName: "test-service",
				Endpoint:    "localhost:4317",
				Insecure:    true,
			},
		},
		{
			name:   "without endpoint (no-op)",
			config: TraceConfig{ServiceName: "test-service"},
		},
		{
			name:   "with sampling",
			config: TraceConfig{SamplingRate: 0.5, Endpoint: "localhost:4317", Insecure: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil || tracer.tracer == nil {
				t.Fatal("NewTracer() returned an unusable tracer")
			}
		})
	}
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceTurn(context.Background(), "conv-1")
	defer span.End()
	if ctx == nil {
		t.Fatal("nil context")
	}
	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(span, nil)
}

func TestTracer_Helpers(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, turn := tracer.TraceTurn(context.Background(), "conv-1")
	_, step := tracer.TraceLLMRequest(ctx, "anthropic", "claude", 1)
	_, tool := tracer.TraceToolExecution(ctx, "calculate", "call-1")
	tool.End()
	step.End()
	turn.End()

	if GetTraceID(context.Background()) != "" {
		t.Error("expected empty trace id without span")
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{1, attribute.INT64},
		{int64(2), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{[]string{"a"}, attribute.STRINGSLICE},
		{struct{}{}, attribute.STRING},
	}

	for _, tt := range tests {
		if got := attributeFromValue("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("attributeFromValue(%T) type = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestAttributes_SkipsNonStringKeys(t *testing.T) {
	attrs := attributes("a", 1, 2, "b", "dangling")
	if len(attrs) != 1 {
		t.Errorf("attributes() len = %d, want 1", len(attrs))
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want FailureReason
	}{
		{errors.New("request timeout"), FailureTimeout},
		{context.DeadlineExceeded, FailureTimeout},
		{errors.New("429 Too Many Requests"), FailureRateLimit},
		{errors.New("invalid api key"), FailureAuth},
		{errors.New("insufficient_quota"), FailureBilling},
		{errors.New("model_not_found"), FailureModelNotFound},
		{errors.New("503 service unavailable"), FailureServerError},
		{errors.New("Overloaded"), FailureServerError},
		{errors.New("something odd"), FailureUnknown},
		{nil, FailureUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestNewProviderError(t *testing.T) {
	err := newProviderError("openai", "gpt-4o-mini", 429, errors.New("slow down"))
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T", err)
	}
	if pe.Reason != FailureRateLimit || !IsRetryable(err) {
		t.Errorf("pe = %+v", pe)
	}
	if !strings.Contains(pe.Error(), "status=429") || !strings.Contains(pe.Error(), "model=gpt-4o-mini") {
		t.Errorf("Error() = %q", pe.Error())
	}

	auth := newProviderError("anthropic", "m", 401, errors.New("nope"))
	if IsRetryable(auth) {
		t.Error("auth error should not be retryable")
	}

	if got := newProviderError("x", "m", 0, context.Canceled); got != context.Canceled {
		t.Errorf("cancellation wrapped: %v", got)
	}
	if IsRetryable(fmt.Errorf("stream: %w", context.Canceled)) {
		t.Error("cancellation should not be retryable")
	}
	if got := newProviderError("x", "m", 500, err); got != err {
		t.Error("existing provider error re-wrapped")
	}
}

func TestProviderError_WithCode(t *testing.T) {
	pe := &ProviderError{Reason: FailureInvalidRequest}
	pe.withCode("overloaded_error")
	if pe.Reason != FailureServerError || pe.Code != "overloaded_error" {
		t.Errorf("pe = %+v", pe)
	}
	pe.withCode("mystery")
	if pe.Reason != FailureServerError {
		t.Errorf("unknown code changed reason to %s", pe.Reason)
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a model request failed.
type FailureReason string

const (
	FailureRateLimit      FailureReason = "rate_limit"
	FailureAuth           FailureReason = "auth"
	FailureBilling        FailureReason = "billing"
	FailureTimeout        FailureReason = "timeout"
	FailureServerError    FailureReason = "server_error"
	FailureInvalidRequest FailureReason = "invalid_request"
	FailureModelNotFound  FailureReason = "model_not_found"
	FailureContentFilter  FailureReason = "content_filter"
	FailureUnknown        FailureReason = "unknown"
)

// Retryable reports whether another attempt may succeed.
func (r FailureReason) Retryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	}
	return false
}

// ProviderError is a failed call to an upstream model API.
type ProviderError struct {
	Reason    FailureReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// newProviderError classifies cause. Context errors are returned unwrapped so
// callers can tell cancellation from upstream failure.
func newProviderError(provider, model string, status int, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	var existing *ProviderError
	if errors.As(cause, &existing) {
		return cause
	}
	e := &ProviderError{
		Provider: provider,
		Model:    model,
		Status:   status,
		Message:  cause.Error(),
		Cause:    cause,
		Reason:   classifyStatus(status),
	}
	if e.Reason == FailureUnknown {
		e.Reason = ClassifyError(cause)
	}
	return e
}

// withCode refines the reason from a provider error code.
func (e *ProviderError) withCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyCode(code); reason != FailureUnknown {
		e.Reason = reason
	}
	return e
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.Retryable()
	}
	return ClassifyError(err).Retryable()
}

// ClassifyError infers a reason from an error message.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "deadline exceeded", "etimedout"):
		return FailureTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429", "resource exhausted"):
		return FailureRateLimit
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return FailureAuth
	case containsAny(msg, "billing", "payment", "insufficient_quota", "402"):
		return FailureBilling
	case containsAny(msg, "content_filter", "content policy", "safety"):
		return FailureContentFilter
	case containsAny(msg, "model not found", "model_not_found", "does not exist"):
		return FailureModelNotFound
	case containsAny(msg, "internal server", "server error", "overloaded", "connection reset", "connection refused",
		"500", "502", "503", "504", "529"):
		return FailureServerError
	}
	return FailureUnknown
}

func classifyStatus(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusPaymentRequired:
		return FailureBilling
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusBadRequest:
		return FailureInvalidRequest
	case status == http.StatusNotFound:
		return FailureModelNotFound
	case status == http.StatusRequestTimeout:
		return FailureTimeout
	case status >= 500:
		return FailureServerError
	}
	return FailureUnknown
}

func classifyCode(code string) FailureReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailureRateLimit
	case "authentication_error", "permission_error", "invalid_api_key":
		return FailureAuth
	case "billing_error", "insufficient_quota":
		return FailureBilling
	case "not_found_error", "model_not_found":
		return FailureModelNotFound
	case "overloaded_error", "api_error", "server_error":
		return FailureServerError
	case "invalid_request_error":
		return FailureInvalidRequest
	}
	return FailureUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

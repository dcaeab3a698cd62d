package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/pkg/models"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// Executor advances tool calls through their state machine.
type Executor struct {
	registry  *Registry
	approvals ApprovalStore
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewExecutor creates an executor over registry. A nil approval store gets an
// in-memory one.
func NewExecutor(registry *Registry, approvals ApprovalStore, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	if approvals == nil {
		approvals = NewMemoryApprovalStore()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:  registry,
		approvals: approvals,
		timeout:   cfg.DefaultTimeout,
		logger:    logger.With("component", "tools"),
	}
}

// SetObservability attaches metrics and tracing.
func (e *Executor) SetObservability(metrics *observability.Metrics, tracer *observability.Tracer) {
	e.metrics = metrics
	e.tracer = tracer
}

// Registry returns the registry the executor resolves against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Approvals returns the approval store.
func (e *Executor) Approvals() ApprovalStore {
	return e.approvals
}

// WithRegistry returns an executor sharing everything but the registry, for
// a turn that merged extra tool sources.
func (e *Executor) WithRegistry(r *Registry) *Executor {
	clone := *e
	clone.registry = r
	return &clone
}

// Execute advances an input-available call. Calls in any other state are
// returned unchanged. Tool failures become an error payload in the output;
// the returned error is reserved for approval store failures.
func (e *Executor) Execute(ctx context.Context, call models.ToolCallPart) (models.ToolCallPart, error) {
	out := call.Clone()
	if out.State != models.ToolInputAvailable {
		return out, nil
	}

	def, err := e.registry.Resolve(out.ToolName)
	if err != nil {
		e.metrics.RecordToolExecution(out.ToolName, "unknown", 0)
		return complete(out, errorPayload(err.Error())), nil
	}
	if err := e.registry.Validate(def.Name, out.Input); err != nil {
		e.metrics.RecordToolExecution(def.Name, "invalid_input", 0)
		return complete(out, errorPayload("invalid input: "+err.Error())), nil
	}

	switch def.Kind() {
	case KindClient:
		return out, nil
	case KindApproval:
		needed, err := def.NeedsApproval(out.Input)
		if err != nil {
			e.metrics.RecordToolExecution(def.Name, "error", 0)
			return complete(out, errorPayload(err.Error())), nil
		}
		if needed {
			return e.requestApproval(ctx, out)
		}
	}

	return complete(out, e.run(ctx, def, out)), nil
}

func (e *Executor) requestApproval(ctx context.Context, call models.ToolCallPart) (models.ToolCallPart, error) {
	approvalID := models.ApprovalID(call.ToolCallID)
	err := e.approvals.Create(ctx, &ApprovalRequest{
		ID:             approvalID,
		ToolCallID:     call.ToolCallID,
		ToolName:       call.ToolName,
		Input:          call.Input,
		ConversationID: observability.ConversationID(ctx),
	})
	if err != nil {
		return call, fmt.Errorf("record approval request: %w", err)
	}
	if err := call.Transition(models.ToolApprovalRequested); err != nil {
		return call, err
	}
	call.Approval = &models.ToolApproval{ID: approvalID}

	e.metrics.RecordToolExecution(call.ToolName, "approval_requested", 0)
	e.logger.InfoContext(ctx, "tool call awaiting approval", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
	return call, nil
}

// Decide applies a human decision to a call awaiting approval. Approval runs
// the tool; denial ends the call with no output and never runs it.
func (e *Executor) Decide(ctx context.Context, call models.ToolCallPart, d Decision) (models.ToolCallPart, error) {
	out := call.Clone()
	if out.State != models.ToolApprovalRequested {
		return out, fmt.Errorf("%w: tool call %s is %s, not awaiting approval", models.ErrInvalidTransition, out.ToolCallID, out.State)
	}
	if out.Approval == nil || out.Approval.ID != d.ID {
		return out, fmt.Errorf("%w: %s", ErrApprovalMismatch, d.ID)
	}

	if _, err := e.approvals.Resolve(ctx, d); err != nil {
		// The call itself carries the pending state, so a request lost to a
		// restart or prune is still decidable. A second decision is not.
		if !errors.Is(err, ErrApprovalNotFound) {
			return out, err
		}
		e.logger.WarnContext(ctx, "approval request missing from store", "approval_id", d.ID)
	}

	approved := d.Approved
	out.Approval.Approved = &approved
	out.Approval.Reason = d.Reason

	if !d.Approved {
		out.Output = nil
		if err := out.Transition(models.ToolOutputDenied); err != nil {
			return call, err
		}
		e.metrics.RecordToolExecution(out.ToolName, "denied", 0)
		return out, nil
	}

	def, err := e.registry.Resolve(out.ToolName)
	if err != nil {
		return complete(out, errorPayload(err.Error())), nil
	}
	return complete(out, e.run(ctx, def, out)), nil
}

func complete(call models.ToolCallPart, output json.RawMessage) models.ToolCallPart {
	call.Output = output
	// input-available and approval-requested both reach output-available.
	_ = call.Transition(models.ToolOutputAvailable)
	return call
}

type runResult struct {
	value any
	err   error
	panic bool
}

// run executes the tool with a timeout and panic recovery and encodes the
// outcome as JSON.
func (e *Executor) run(ctx context.Context, def *Definition, call models.ToolCallPart) json.RawMessage {
	timeout := e.timeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}

	ctx, span := e.tracer.TraceToolExecution(ctx, def.Name, call.ToolCallID)
	defer span.End()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked", "tool", def.Name, "panic", r, "stack", string(debug.Stack()))
				resultCh <- runResult{err: fmt.Errorf("tool panicked: %v", r), panic: true}
			}
		}()
		value, err := def.Execute(execCtx, call.Input)
		resultCh <- runResult{value: value, err: err}
	}()

	var res runResult
	status := "success"
	select {
	case res = <-resultCh:
		switch {
		case res.panic:
			status = "panic"
		case res.err != nil:
			status = "error"
		}
	case <-execCtx.Done():
	}
	// A tool that returns its context's error lost the race to the deadline.
	if execCtx.Err() != nil && !res.panic && (res.err != nil || res.value == nil) {
		status = "timeout"
		res.err = fmt.Errorf("tool execution timed out after %s", timeout)
		if ctx.Err() != nil {
			status = "cancelled"
			res.err = ctx.Err()
		}
	}
	e.metrics.RecordToolExecution(def.Name, status, time.Since(start).Seconds())

	if res.err != nil {
		e.tracer.RecordError(span, res.err)
		e.logger.DebugContext(ctx, "tool returned error", "tool", def.Name, "status", status, "error", res.err)
		return errorPayload(res.err.Error())
	}
	output, err := json.Marshal(res.value)
	if err != nil {
		return errorPayload("encode output: " + err.Error())
	}
	return output
}

func errorPayload(msg string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}

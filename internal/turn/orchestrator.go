// Package turn runs conversation turns: it prepares the history, streams a
// model, executes the tool calls it makes and persists the assistant reply.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/chatline/internal/llm"
	"github.com/haasonsaas/chatline/internal/media"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/pkg/models"
)

const (
	DefaultMaxSteps = 5
	maxStepsCeiling = 10
)

var (
	// ErrInvalidMessage is returned for a message that cannot start a turn.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrToolCallNotFound is returned when no pending call matches a
	// submitted client tool output.
	ErrToolCallNotFound = errors.New("tool call not found")
)

// History is the persisted message log of conversations.
type History interface {
	List(ctx context.Context, conversationID string) ([]models.Message, error)
	Append(ctx context.Context, msg models.Message) error
	Update(ctx context.Context, msg models.Message) error
}

// Config tunes turns.
type Config struct {
	Model     string `yaml:"model"`
	System    string `yaml:"system"`
	MaxSteps  int    `yaml:"max_steps"`
	MaxTokens int    `yaml:"max_tokens"`

	// KeepLast is how many trailing messages keep full tool payloads.
	KeepLast int `yaml:"keep_last"`
}

func (c *Config) applyDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	c.MaxSteps = min(c.MaxSteps, maxStepsCeiling)
	if c.KeepLast <= 0 {
		c.KeepLast = DefaultKeepLast
	}
}

// Deps are the collaborators of an Orchestrator. Provider, Executor, History
// and Objects are required.
type Deps struct {
	Provider   llm.Provider
	Executor   *tools.Executor
	History    History
	Objects    objectstore.Store
	Normalizer *media.Normalizer

	// Sources are merged into the tool registry at the start of every turn.
	Sources []tools.Source

	// OnComplete is called once per turn with the final assistant message.
	OnComplete func(ctx context.Context, msg models.Message)

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Orchestrator starts and resumes turns.
type Orchestrator struct {
	config     Config
	provider   llm.Provider
	executor   *tools.Executor
	history    History
	objects    objectstore.Store
	normalizer *media.Normalizer
	sources    []tools.Source
	onComplete func(ctx context.Context, msg models.Message)
	locker     *Locker
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	now        func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Provider == nil:
		return nil, errors.New("turn: provider is required")
	case deps.Executor == nil:
		return nil, errors.New("turn: tool executor is required")
	case deps.History == nil:
		return nil, errors.New("turn: history is required")
	case deps.Objects == nil:
		return nil, errors.New("turn: object store is required")
	}
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		config:     cfg,
		provider:   deps.Provider,
		executor:   deps.Executor,
		history:    deps.History,
		objects:    deps.Objects,
		normalizer: deps.Normalizer,
		sources:    deps.Sources,
		onComplete: deps.OnComplete,
		locker:     NewLocker(),
		logger:     logger.With("component", "turn"),
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		now:        time.Now,
	}, nil
}

// Locker exposes the per-conversation turn lock.
func (o *Orchestrator) Locker() *Locker {
	return o.locker
}

// Tools returns the model-facing tool list for a conversation's turns.
func (o *Orchestrator) Tools(ctx context.Context) []tools.Definition {
	return o.executorFor(ctx).Registry().Definitions()
}

// Start appends a user message to the conversation and runs a turn on it.
// Validation and lock failures happen before anything is persisted.
func (o *Orchestrator) Start(ctx context.Context, conversationID string, msg models.Message) (*Turn, error) {
	if !objectstore.ValidConversationID(conversationID) {
		return nil, fmt.Errorf("%w: invalid conversation id", ErrInvalidMessage)
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if msg.Role != models.RoleUser {
		return nil, fmt.Errorf("%w: role must be user", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	release, err := o.locker.TryLock(conversationID, "start")
	if err != nil {
		return nil, err
	}
	history, err := o.history.List(ctx, conversationID)
	if err != nil {
		release()
		return nil, fmt.Errorf("load history: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	msg.CreatedAt = o.now()
	if err := o.history.Append(ctx, msg); err != nil {
		release()
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	reply := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		CreatedAt:      o.now(),
	}
	t := o.newTurn(ctx, conversationID, reply, false, release)
	go o.run(t, append(history, msg), nil)
	return t, nil
}

// Decide applies an approval decision to the pending call it belongs to and
// continues the turn that requested it.
func (o *Orchestrator) Decide(ctx context.Context, conversationID string, d tools.Decision) (*Turn, error) {
	return o.resume(ctx, conversationID, "decide", func(call models.ToolCallPart) bool {
		return call.Approval != nil && call.Approval.ID == d.ID
	}, tools.ErrApprovalNotFound, func(ctx context.Context, exec *tools.Executor, call models.ToolCallPart) (models.ToolCallPart, error) {
		return exec.Decide(ctx, call, d)
	})
}

// SubmitToolOutput completes a client-delegated call with the output the
// client produced and continues the turn.
func (o *Orchestrator) SubmitToolOutput(ctx context.Context, conversationID, toolCallID string, output json.RawMessage) (*Turn, error) {
	if !json.Valid(output) {
		return nil, fmt.Errorf("%w: tool output is not valid JSON", ErrInvalidMessage)
	}
	return o.resume(ctx, conversationID, "tool-output", func(call models.ToolCallPart) bool {
		return call.ToolCallID == toolCallID && call.State == models.ToolInputAvailable
	}, ErrToolCallNotFound, func(_ context.Context, _ *tools.Executor, call models.ToolCallPart) (models.ToolCallPart, error) {
		out := call.Clone()
		if err := out.Transition(models.ToolOutputAvailable); err != nil {
			return call, err
		}
		out.Output = append(json.RawMessage(nil), output...)
		return out, nil
	})
}

type resolveFunc func(ctx context.Context, exec *tools.Executor, call models.ToolCallPart) (models.ToolCallPart, error)

func (o *Orchestrator) resume(ctx context.Context, conversationID, holder string, match func(models.ToolCallPart) bool, notFound error, resolve resolveFunc) (*Turn, error) {
	release, err := o.locker.TryLock(conversationID, holder)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Turn, error) {
		release()
		return nil, err
	}

	history, err := o.history.List(ctx, conversationID)
	if err != nil {
		return fail(fmt.Errorf("load history: %w", err))
	}
	idx, call, ok := findToolCall(history, match)
	if !ok {
		return fail(notFound)
	}

	ctx = observability.WithConversationID(ctx, conversationID)
	resolved, err := resolve(ctx, o.executorFor(ctx), call)
	if err != nil {
		return fail(err)
	}
	reply := history[idx].Clone()
	reply.ReplaceToolCall(resolved)
	if err := o.history.Update(ctx, reply); err != nil {
		return fail(fmt.Errorf("persist tool call: %w", err))
	}

	t := o.newTurn(ctx, conversationID, reply, true, release)
	t.emit(t.ctx, models.EventForToolCall(reply.ID, resolved))

	prior := append(append([]models.Message(nil), history[:idx]...), history[idx+1:]...)
	latest := idx == len(history)-1
	go o.run(t, prior, func() (models.FinishReason, bool) {
		if hasPendingCalls(reply) {
			return models.FinishToolWait, true
		}
		// A newer message superseded the reply; it is resolved in place.
		if !latest {
			return models.FinishStop, true
		}
		return "", false
	})
	return t, nil
}

func findToolCall(history []models.Message, match func(models.ToolCallPart) bool) (int, models.ToolCallPart, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != models.RoleAssistant {
			continue
		}
		for _, call := range history[i].ToolCalls() {
			if match(call) {
				return i, call, true
			}
		}
	}
	return 0, models.ToolCallPart{}, false
}

func hasPendingCalls(msg models.Message) bool {
	for _, call := range msg.ToolCalls() {
		if !call.State.IsTerminal() {
			return true
		}
	}
	return false
}

// executorFor returns an executor that also sees the tools of configured
// sources. Source failures are logged and the rest of the tools stay usable.
func (o *Orchestrator) executorFor(ctx context.Context) *tools.Executor {
	if len(o.sources) == 0 {
		return o.executor
	}
	merged, err := o.executor.Registry().Merge(ctx, o.sources...)
	if err != nil {
		o.logger.WarnContext(ctx, "tool source merge incomplete", "error", err)
	}
	return o.executor.WithRegistry(merged)
}

func (o *Orchestrator) newTurn(parent context.Context, conversationID string, reply models.Message, resumed bool, release func()) *Turn {
	ctx := observability.WithConversationID(parent, conversationID)
	ctx, cancel := context.WithCancel(ctx)
	return &Turn{
		ctx:            ctx,
		cancel:         cancel,
		conversationID: conversationID,
		messageID:      reply.ID,
		reply:          reply,
		resumed:        resumed,
		release:        release,
		events:         make(chan models.StreamEvent, eventBuffer),
		done:           make(chan Result, 1),
		abandon:        make(chan struct{}),
		started:        o.now(),
	}
}

func toolList(defs []tools.Definition) []llm.Tool {
	out := make([]llm.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, llm.Tool{Name: def.Name, Description: def.Description, InputSchema: def.Schema()})
	}
	return out
}

package turn

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/chatline/internal/llm"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/pkg/models"
)

const eventBuffer = 64

// Result is the outcome of a finished turn.
type Result struct {
	Message      models.Message
	FinishReason models.FinishReason
	Err          error
}

// Turn is one running turn. Events must be drained until closed; Done then
// yields exactly one Result.
type Turn struct {
	ctx            context.Context
	cancel         context.CancelFunc
	conversationID string
	messageID      string
	resumed        bool
	release        func()
	started        time.Time

	// reply is owned by the run goroutine.
	reply models.Message

	events  chan models.StreamEvent
	done    chan Result
	abandon chan struct{}
}

// ConversationID returns the conversation the turn belongs to.
func (t *Turn) ConversationID() string { return t.conversationID }

// MessageID returns the id of the assistant message being produced.
func (t *Turn) MessageID() string { return t.messageID }

// Events streams the turn's output. It is closed when the turn ends.
func (t *Turn) Events() <-chan models.StreamEvent { return t.events }

// Done delivers the result once, after Events is closed.
func (t *Turn) Done() <-chan Result { return t.done }

// Cancel stops the model stream. The turn still finishes, with reason
// cancelled.
func (t *Turn) Cancel() { t.cancel() }

// Drain collects every event and returns them with the result.
func (t *Turn) Drain() ([]models.StreamEvent, Result) {
	var events []models.StreamEvent
	for ev := range t.events {
		events = append(events, ev)
	}
	return events, <-t.done
}

func (t *Turn) emit(ctx context.Context, ev models.StreamEvent) {
	select {
	case t.events <- ev:
		return
	default:
	}
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}

type toolResult struct {
	call models.ToolCallPart
	err  error
}

func (o *Orchestrator) run(t *Turn, prior []models.Message, early func() (models.FinishReason, bool)) {
	ctx, span := o.tracer.TraceTurn(t.ctx, t.conversationID)
	defer span.End()

	if early != nil {
		if reason, stop := early(); stop {
			o.finish(t, reason, nil)
			return
		}
	}

	exec := o.executorFor(ctx)
	toolDefs := toolList(exec.Registry().Definitions())

	prepared, err := o.prepare(ctx, t.conversationID, prior)
	if err != nil {
		o.tracer.RecordError(span, err)
		o.fail(t, err)
		return
	}

	for step := 1; ; step++ {
		req := &llm.Request{
			Model:     o.config.Model,
			System:    o.config.System,
			Messages:  o.transcript(prepared, t.reply),
			Tools:     toolDefs,
			MaxTokens: o.config.MaxTokens,
		}
		calls, err := o.step(ctx, t, exec, req, step)
		if err != nil {
			o.tracer.RecordError(span, err)
			o.fail(t, err)
			return
		}
		t.emit(ctx, models.StreamEvent{Type: models.EventStepFinish, MessageID: t.messageID, Step: step})

		switch {
		case calls == 0:
			o.finish(t, models.FinishStop, nil)
			return
		case hasPendingCalls(t.reply):
			o.finish(t, models.FinishToolWait, nil)
			return
		case step >= o.config.MaxSteps:
			o.logger.WarnContext(ctx, "turn hit step limit", "conversation_id", t.conversationID, "max_steps", o.config.MaxSteps)
			o.finish(t, models.FinishMaxSteps, nil)
			return
		}
	}
}

// prepare cleans the prior history and replaces its media with text.
func (o *Orchestrator) prepare(ctx context.Context, conversationID string, prior []models.Message) ([]models.Message, error) {
	msgs := Cleanup(prior)
	if o.normalizer == nil {
		return msgs, nil
	}
	scope, err := objectstore.NewScoped(o.objects, conversationID)
	if err != nil {
		return nil, err
	}
	ctx, span := o.tracer.Start(ctx, "media.normalize", "messages", len(msgs))
	defer span.End()
	return o.normalizer.Normalize(ctx, scope, msgs)
}

func (o *Orchestrator) transcript(prepared []models.Message, reply models.Message) []models.Message {
	msgs := make([]models.Message, 0, len(prepared)+1)
	msgs = append(msgs, prepared...)
	if len(reply.Parts) > 0 {
		msgs = append(msgs, reply.Clone())
	}
	return Prune(msgs, o.config.KeepLast)
}

// step streams one model call into the reply. Tool calls run concurrently as
// they arrive; this goroutine is the only writer of the reply and the event
// stream. It returns how many tool calls the model made.
func (o *Orchestrator) step(ctx context.Context, t *Turn, exec *tools.Executor, req *llm.Request, step int) (int, error) {
	ctx, span := o.tracer.TraceLLMRequest(ctx, o.provider.Name(), req.Model, step)
	defer span.End()
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	chunks, err := o.provider.Stream(streamCtx, req)
	if err != nil {
		o.recordModelError(span, err)
		return 0, err
	}

	results := make(chan toolResult)
	var calls, inFlight int
	var final llm.Chunk
	for chunks != nil || inFlight > 0 {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if c.Err != nil {
				o.recordModelError(span, c.Err)
				return calls, c.Err
			}
			switch {
			case c.Text != "":
				appendText(&t.reply, c.Text)
				t.emit(ctx, models.StreamEvent{Type: models.EventTextDelta, MessageID: t.messageID, Text: c.Text})
			case c.Reasoning != "":
				appendReasoning(&t.reply, c.Reasoning)
				t.emit(ctx, models.StreamEvent{Type: models.EventReasoningDelta, MessageID: t.messageID, Text: c.Reasoning})
			case c.ToolCall != nil:
				call := c.ToolCall.Clone()
				calls++
				inFlight++
				t.reply.Parts = append(t.reply.Parts, call)
				t.emit(ctx, models.EventForToolCall(t.messageID, call))
				go o.dispatch(ctx, t, exec, call, results)
			}
			if c.Done {
				final = c
			}
		case res := <-results:
			inFlight--
			if res.err != nil {
				return calls, res.err
			}
			t.reply.ReplaceToolCall(res.call)
			if res.call.State != models.ToolInputAvailable {
				t.emit(ctx, models.EventForToolCall(t.messageID, res.call))
			}
		case <-ctx.Done():
			return calls, ctx.Err()
		}
	}

	// A stream closed by cancellation is not a completed step.
	if err := ctx.Err(); err != nil {
		return calls, err
	}
	o.metrics.RecordLLMRequest(o.provider.Name(), "success", final.InputTokens, final.OutputTokens)
	return calls, nil
}

// dispatch runs one tool call. A started tool outlives turn cancellation and
// is bounded only by its own timeout; a result that arrives after the turn
// ended is dropped.
func (o *Orchestrator) dispatch(ctx context.Context, t *Turn, exec *tools.Executor, call models.ToolCallPart, results chan<- toolResult) {
	out, err := exec.Execute(context.WithoutCancel(ctx), call)
	select {
	case results <- toolResult{call: out, err: err}:
	case <-t.abandon:
		o.logger.DebugContext(ctx, "tool result after turn ended", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
	}
}

func (o *Orchestrator) recordModelError(span trace.Span, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	o.metrics.RecordLLMRequest(o.provider.Name(), "error", 0, 0)
	o.tracer.RecordError(span, err)
}

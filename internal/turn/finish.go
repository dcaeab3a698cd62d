package turn

import (
	"context"
	"time"

	"github.com/haasonsaas/chatline/pkg/models"
)

// fail ends the turn after an error. A cancelled turn is not a failure.
func (o *Orchestrator) fail(t *Turn, err error) {
	if t.ctx.Err() != nil {
		o.finish(t, models.FinishCancelled, nil)
		return
	}
	o.logger.ErrorContext(t.ctx, "turn failed", "conversation_id", t.conversationID, "error", err)
	o.finish(t, models.FinishError, err)
}

// finish persists the reply, fires the completion hook and closes the turn.
// It runs exactly once per turn.
func (o *Orchestrator) finish(t *Turn, reason models.FinishReason, err error) {
	close(t.abandon)
	settleReasoning(&t.reply)
	msg := t.reply.Clone()

	ctx := context.WithoutCancel(t.ctx)
	if perr := o.persist(ctx, t, msg); perr != nil {
		o.logger.ErrorContext(ctx, "persist assistant message failed", "conversation_id", t.conversationID, "error", perr)
		if err == nil {
			err = perr
		}
	}
	if o.onComplete != nil {
		o.onComplete(ctx, msg)
	}
	o.metrics.RecordTurn(string(reason), time.Since(t.started).Seconds())

	// The closing events are delivered even on a cancelled turn; consumers
	// drain Events until it closes.
	if err != nil {
		t.emit(ctx, models.StreamEvent{Type: models.EventError, MessageID: t.messageID, Error: err.Error()})
	}
	t.emit(ctx, models.StreamEvent{Type: models.EventFinish, MessageID: t.messageID, FinishReason: reason})
	close(t.events)

	t.release()
	t.cancel()
	t.done <- Result{Message: msg, FinishReason: reason, Err: err}
	close(t.done)
}

func (o *Orchestrator) persist(ctx context.Context, t *Turn, msg models.Message) error {
	if t.resumed {
		return o.history.Update(ctx, msg)
	}
	if len(msg.Parts) == 0 {
		return nil
	}
	return o.history.Append(ctx, msg)
}

func appendText(msg *models.Message, text string) {
	if n := len(msg.Parts); n > 0 {
		if tp, ok := msg.Parts[n-1].(models.TextPart); ok {
			tp.Text += text
			msg.Parts[n-1] = tp
			return
		}
	}
	msg.Parts = append(msg.Parts, models.TextPart{Text: text})
}

func appendReasoning(msg *models.Message, text string) {
	if n := len(msg.Parts); n > 0 {
		if rp, ok := msg.Parts[n-1].(models.ReasoningPart); ok && rp.State == models.ReasoningStreaming {
			rp.Text += text
			msg.Parts[n-1] = rp
			return
		}
	}
	msg.Parts = append(msg.Parts, models.ReasoningPart{Text: text, State: models.ReasoningStreaming})
}

func settleReasoning(msg *models.Message) {
	for i, part := range msg.Parts {
		if rp, ok := part.(models.ReasoningPart); ok && rp.State == models.ReasoningStreaming {
			rp.State = models.ReasoningDone
			msg.Parts[i] = rp
		}
	}
}

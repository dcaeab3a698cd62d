package turn

import (
	"encoding/json"

	"github.com/haasonsaas/chatline/pkg/models"
)

// DefaultKeepLast is how many trailing messages keep full tool payloads.
const DefaultKeepLast = 2

var elidedOutput = json.RawMessage(`{"elided":true}`)

// Cleanup drops tool calls an aborted turn left unresolved, since a model
// API rejects a tool use without its result. Calls awaiting approval are
// kept. Messages left without parts are dropped. msgs is not modified.
func Cleanup(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		kept := make([]models.Part, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if tc, ok := part.(models.ToolCallPart); ok && !keepToolCall(tc.State) {
				continue
			}
			kept = append(kept, models.ClonePart(part))
		}
		if len(kept) == 0 {
			continue
		}
		msg.Parts = kept
		out = append(out, msg)
	}
	return out
}

func keepToolCall(state models.ToolCallState) bool {
	return state.IsTerminal() || state == models.ToolApprovalRequested
}

// Prune elides tool-call payloads outside the last keepLast messages. The
// elided calls keep their id, name and state; other parts are untouched.
// Messages that need no change are shared with msgs, which is not modified.
func Prune(msgs []models.Message, keepLast int) []models.Message {
	if keepLast < 0 {
		keepLast = 0
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)

	cutoff := len(msgs) - keepLast
	for i := 0; i < cutoff; i++ {
		if !hasPayload(msgs[i]) {
			continue
		}
		msg := msgs[i]
		parts := make([]models.Part, len(msg.Parts))
		for j, part := range msg.Parts {
			tc, ok := part.(models.ToolCallPart)
			if !ok {
				parts[j] = part
				continue
			}
			elided := tc.Clone()
			elided.Input = json.RawMessage(`{}`)
			if len(tc.Output) > 0 {
				elided.Output = elidedOutput
			}
			parts[j] = elided
		}
		msg.Parts = parts
		out[i] = msg
	}
	return out
}

func hasPayload(msg models.Message) bool {
	for _, part := range msg.Parts {
		if _, ok := part.(models.ToolCallPart); ok {
			return true
		}
	}
	return false
}

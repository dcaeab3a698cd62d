package llm

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/chatline/pkg/models"
)

// deniedOutput is the tool result a model sees for a call the user refused.
var deniedOutput = json.RawMessage(`{"denied":true}`)

type toolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

type toolResult struct {
	ID      string
	Name    string
	Content json.RawMessage
	IsError bool
}

// exchange is one provider-neutral turn of the transcript. An assistant
// exchange carries its tool uses and the results that answer them; the
// adapters emit the results as the following user or tool message.
type exchange struct {
	Role    models.Role
	Text    string
	Uses    []toolUse
	Results []toolResult
}

// flatten turns the conversation into a system prompt and alternating
// exchanges. System messages are folded into the prompt. Tool calls without
// a terminal outcome are left out because no provider accepts a tool use
// without its result. An assistant message that spoke again after its tool
// results is split so each segment precedes its own results.
func flatten(system string, msgs []models.Message) (string, []exchange) {
	var prompts []string
	if s := strings.TrimSpace(system); s != "" {
		prompts = append(prompts, s)
	}

	var out []exchange
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			if text := joinText(msg.Parts); text != "" {
				prompts = append(prompts, text)
			}
		case models.RoleUser:
			if text := joinText(msg.Parts); text != "" {
				out = append(out, exchange{Role: models.RoleUser, Text: text})
			}
		case models.RoleAssistant:
			out = append(out, splitAssistant(msg.Parts)...)
		}
	}
	return strings.Join(prompts, "\n\n"), out
}

func splitAssistant(parts []models.Part) []exchange {
	var out []exchange
	var texts []string
	cur := exchange{Role: models.RoleAssistant}

	flush := func() {
		cur.Text = strings.Join(texts, "\n")
		if cur.Text != "" || len(cur.Uses) > 0 {
			out = append(out, cur)
		}
		cur = exchange{Role: models.RoleAssistant}
		texts = nil
	}

	for _, part := range parts {
		if tc, ok := part.(models.ToolCallPart); ok {
			use, result, ok := resolved(tc)
			if !ok {
				continue
			}
			cur.Uses = append(cur.Uses, use)
			cur.Results = append(cur.Results, result)
			continue
		}
		text := partText(part)
		if text == "" {
			continue
		}
		if len(cur.Uses) > 0 {
			flush()
		}
		texts = append(texts, text)
	}
	flush()
	return out
}

func resolved(tc models.ToolCallPart) (toolUse, toolResult, bool) {
	input := tc.Input
	if len(input) == 0 || !json.Valid(input) {
		input = json.RawMessage(`{}`)
	}
	use := toolUse{ID: tc.ToolCallID, Name: tc.ToolName, Input: input}

	switch tc.State {
	case models.ToolOutputAvailable:
		content := tc.Output
		if len(content) == 0 {
			content = json.RawMessage(`null`)
		}
		return use, toolResult{ID: tc.ToolCallID, Name: tc.ToolName, Content: content, IsError: isErrorPayload(content)}, true
	case models.ToolOutputDenied:
		return use, toolResult{ID: tc.ToolCallID, Name: tc.ToolName, Content: deniedOutput, IsError: true}, true
	}
	return toolUse{}, toolResult{}, false
}

func isErrorPayload(output json.RawMessage) bool {
	var payload map[string]json.RawMessage
	if json.Unmarshal(output, &payload) != nil {
		return false
	}
	_, ok := payload["error"]
	return ok && len(payload) == 1
}

func joinText(parts []models.Part) string {
	var texts []string
	for _, part := range parts {
		if text := partText(part); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}

func partText(part models.Part) string {
	switch p := part.(type) {
	case models.TextPart:
		return strings.TrimSpace(p.Text)
	case models.ReasoningPart:
		return strings.TrimSpace(p.Text)
	case models.FilePart:
		// Images and audio are normalized to text before this point.
		name := p.Filename
		if name == "" {
			name = p.URL
		}
		return "[Attached file: " + name + "]"
	}
	return ""
}

// resultObject renders a tool result as a JSON object for APIs that need
// one.
func resultObject(content json.RawMessage) map[string]any {
	var obj map[string]any
	if json.Unmarshal(content, &obj) == nil && obj != nil {
		return obj
	}
	var value any
	_ = json.Unmarshal(content, &value)
	return map[string]any{"result": value}
}

// inputObject decodes tool input for SDKs that take a map.
func inputObject(input json.RawMessage) map[string]any {
	obj := map[string]any{}
	_ = json.Unmarshal(input, &obj)
	if obj == nil {
		obj = map[string]any{}
	}
	return obj
}

// newToolCall builds the chunk payload for a completed streamed call.
func newToolCall(id, name, input string) *models.ToolCallPart {
	raw := json.RawMessage(strings.TrimSpace(input))
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return &models.ToolCallPart{
		ToolCallID: id,
		ToolName:   name,
		Input:      raw,
		State:      models.ToolInputAvailable,
	}
}

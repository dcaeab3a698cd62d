package llm

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/chatline/pkg/models"
)

func toolCall(id string, state models.ToolCallState, output string) models.ToolCallPart {
	tc := models.ToolCallPart{
		ToolCallID: id,
		ToolName:   "calculate",
		Input:      json.RawMessage(`{"a":1,"b":2,"operator":"+"}`),
		State:      state,
	}
	if output != "" {
		tc.Output = json.RawMessage(output)
	}
	return tc
}

func TestFlatten(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Parts: []models.Part{models.TextPart{Text: "Be brief."}}},
		{Role: models.RoleUser, Parts: []models.Part{
			models.TextPart{Text: "add these"},
			models.FilePart{MediaType: "application/pdf", URL: "/api/files/c/report.pdf", Filename: "report.pdf"},
		}},
		{Role: models.RoleAssistant, Parts: []models.Part{
			models.TextPart{Text: "Let me compute."},
			toolCall("c1", models.ToolOutputAvailable, `{"expression":"1 + 2","result":3}`),
			toolCall("c2", models.ToolOutputDenied, ""),
			toolCall("c3", models.ToolApprovalRequested, ""),
			toolCall("c4", models.ToolOutputAvailable, `{"error":"division by zero"}`),
			models.TextPart{Text: "The answer is 3."},
		}},
		{Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "  "}}},
	}

	system, exchanges := flatten("You are chatline.", msgs)
	if system != "You are chatline.\n\nBe brief." {
		t.Errorf("system = %q", system)
	}
	if len(exchanges) != 3 {
		t.Fatalf("exchanges = %d, want 3: %+v", len(exchanges), exchanges)
	}

	user := exchanges[0]
	if user.Role != models.RoleUser || user.Text != "add these\n[Attached file: report.pdf]" {
		t.Errorf("user = %+v", user)
	}

	first := exchanges[1]
	if first.Text != "Let me compute." {
		t.Errorf("first text = %q", first.Text)
	}
	if len(first.Uses) != 3 || len(first.Results) != 3 {
		t.Fatalf("uses = %d results = %d, want 3 each (pending call skipped)", len(first.Uses), len(first.Results))
	}
	wantResults := []struct {
		id      string
		content string
		isErr   bool
	}{
		{"c1", `{"expression":"1 + 2","result":3}`, false},
		{"c2", `{"denied":true}`, true},
		{"c4", `{"error":"division by zero"}`, true},
	}
	for i, want := range wantResults {
		got := first.Results[i]
		if got.ID != want.id || string(got.Content) != want.content || got.IsError != want.isErr {
			t.Errorf("result %d = %+v, want %+v", i, got, want)
		}
		if first.Uses[i].ID != want.id {
			t.Errorf("use %d id = %s", i, first.Uses[i].ID)
		}
	}

	second := exchanges[2]
	if second.Text != "The answer is 3." || len(second.Uses) != 0 {
		t.Errorf("second = %+v", second)
	}
}

func TestFlatten_EmptyInputBecomesObject(t *testing.T) {
	tc := toolCall("c1", models.ToolOutputAvailable, `{"ok":true}`)
	tc.Input = nil
	_, exchanges := flatten("", []models.Message{{Role: models.RoleAssistant, Parts: []models.Part{tc}}})
	if len(exchanges) != 1 || string(exchanges[0].Uses[0].Input) != `{}` {
		t.Errorf("exchanges = %+v", exchanges)
	}
}

func TestResultObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`42`, `{"result":42}`},
		{`"text"`, `{"result":"text"}`},
		{`null`, `{"result":null}`},
	}
	for _, tt := range tests {
		got, _ := json.Marshal(resultObject(json.RawMessage(tt.in)))
		if string(got) != tt.want {
			t.Errorf("resultObject(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewToolCall(t *testing.T) {
	tc := newToolCall("id", "name", "  ")
	if string(tc.Input) != `{}` || tc.State != models.ToolInputAvailable {
		t.Errorf("tc = %+v", tc)
	}
}

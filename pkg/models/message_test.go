package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSystem, true},
		{Role("tool"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage_JSONKeepsPartVariants(t *testing.T) {
	approved := true
	msg := Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Role:           RoleAssistant,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Parts: []Part{
			TextPart{Text: "hello"},
			FilePart{MediaType: "image/png", URL: "/api/files/uploads/conv-1/1-abcd1234/a.png", Filename: "a.png"},
			ToolCallPart{
				ToolCallID: "call-1",
				ToolName:   "calculate",
				Input:      json.RawMessage(`{"a":1,"b":2,"operator":"+"}`),
				State:      ToolOutputAvailable,
				Output:     json.RawMessage(`{"result":3}`),
				Approval:   &ToolApproval{ID: "call-1-approval", Approved: &approved},
			},
			ReasoningPart{Text: "thinking", State: ReasoningDone},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, tag := range []string{`"type":"text"`, `"type":"file"`, `"type":"tool-call"`, `"type":"reasoning"`} {
		if !strings.Contains(string(data), tag) {
			t.Errorf("encoded message missing %s: %s", tag, data)
		}
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded.Parts) != 4 {
		t.Fatalf("decoded %d parts, want 4", len(decoded.Parts))
	}
	if _, ok := decoded.Parts[0].(TextPart); !ok {
		t.Errorf("part 0 = %T, want TextPart", decoded.Parts[0])
	}
	if fp, ok := decoded.Parts[1].(FilePart); !ok || fp.MediaType != "image/png" {
		t.Errorf("part 1 = %#v, want FilePart image/png", decoded.Parts[1])
	}
	tc, ok := decoded.Parts[2].(ToolCallPart)
	if !ok {
		t.Fatalf("part 2 = %T, want ToolCallPart", decoded.Parts[2])
	}
	if tc.State != ToolOutputAvailable || tc.Approval == nil || tc.Approval.Approved == nil || !*tc.Approval.Approved {
		t.Errorf("tool call decoded incorrectly: %#v", tc)
	}
	if rp, ok := decoded.Parts[3].(ReasoningPart); !ok || rp.State != ReasoningDone {
		t.Errorf("part 3 = %#v, want ReasoningPart done", decoded.Parts[3])
	}
}

func TestDecodePart_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown tag", `{"type":"video","url":"x"}`},
		{"missing tag", `{"text":"hi"}`},
		{"foreign field on text", `{"type":"text","text":"hi","url":"x"}`},
		{"foreign field on file", `{"type":"file","url":"x","tool_name":"calc"}`},
		{"bad tool state", `{"type":"tool-call","tool_call_id":"1","tool_name":"x","state":"done"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePart([]byte(tt.data)); err == nil {
				t.Fatalf("DecodePart(%s) expected error", tt.data)
			}
		})
	}

	_, err := DecodePart([]byte(`{"type":"video"}`))
	if !errors.Is(err, ErrUnknownPartType) {
		t.Errorf("error = %v, want ErrUnknownPartType", err)
	}
}

func TestMessage_Text(t *testing.T) {
	msg := Message{Parts: []Part{
		TextPart{Text: "  what is "},
		FilePart{MediaType: "image/png", URL: "u"},
		TextPart{Text: ""},
		TextPart{Text: "this?"},
	}}
	if got := msg.Text(); got != "what is this?" {
		t.Errorf("Text() = %q, want %q", got, "what is this?")
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	msg := Message{Parts: []Part{
		ToolCallPart{ToolCallID: "1", Input: json.RawMessage(`{"a":1}`), State: ToolInputAvailable},
	}}
	clone := msg.Clone()
	tc := clone.Parts[0].(ToolCallPart)
	tc.Input[2] = 'b'
	clone.Parts[0] = tc

	orig := msg.Parts[0].(ToolCallPart)
	if string(orig.Input) != `{"a":1}` {
		t.Errorf("original input mutated: %s", orig.Input)
	}
}

func TestMessage_ReplaceToolCall(t *testing.T) {
	msg := Message{Parts: []Part{
		TextPart{Text: "x"},
		ToolCallPart{ToolCallID: "1", State: ToolInputAvailable},
	}}
	if !msg.ReplaceToolCall(ToolCallPart{ToolCallID: "1", State: ToolOutputAvailable}) {
		t.Fatal("ReplaceToolCall() = false, want true")
	}
	if got := msg.Parts[1].(ToolCallPart).State; got != ToolOutputAvailable {
		t.Errorf("state = %s, want output-available", got)
	}
	if msg.ReplaceToolCall(ToolCallPart{ToolCallID: "missing"}) {
		t.Error("ReplaceToolCall() for unknown id = true, want false")
	}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"ok", Message{Role: RoleUser, Parts: []Part{TextPart{Text: "hi"}}}, false},
		{"bad role", Message{Role: "robot", Parts: []Part{TextPart{Text: "hi"}}}, true},
		{"no parts", Message{Role: RoleUser}, true},
		{"nil part", Message{Role: RoleUser, Parts: []Part{nil}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

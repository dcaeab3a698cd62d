package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one entry of a conversation. Parts are ordered.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"created_at"`
}

type messageWire struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           Role              `json:"role"`
	Parts          []json.RawMessage `json:"parts"`
	CreatedAt      time.Time         `json:"created_at"`
}

// UnmarshalJSON decodes a message, resolving each part by its type tag.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	parts := make([]Part, 0, len(wire.Parts))
	for i, raw := range wire.Parts {
		part, err := DecodePart(raw)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, part)
	}
	*m = Message{
		ID:             wire.ID,
		ConversationID: wire.ConversationID,
		Role:           wire.Role,
		Parts:          parts,
		CreatedAt:      wire.CreatedAt,
	}
	return nil
}

// Text returns the message's text parts joined by a single space.
func (m Message) Text() string {
	var texts []string
	for _, part := range m.Parts {
		if tp, ok := part.(TextPart); ok && strings.TrimSpace(tp.Text) != "" {
			texts = append(texts, strings.TrimSpace(tp.Text))
		}
	}
	return strings.Join(texts, " ")
}

// ToolCalls returns the tool-call parts of the message in order.
func (m Message) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, part := range m.Parts {
		if tc, ok := part.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ReplaceToolCall swaps the tool-call part with the same id. It reports
// whether a part was replaced.
func (m *Message) ReplaceToolCall(call ToolCallPart) bool {
	for i, part := range m.Parts {
		if tc, ok := part.(ToolCallPart); ok && tc.ToolCallID == call.ToolCallID {
			m.Parts[i] = call
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.Parts = make([]Part, len(m.Parts))
	for i, part := range m.Parts {
		out.Parts[i] = ClonePart(part)
	}
	return out
}

// Validate checks structural invariants of a message received from a client.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message has no parts")
	}
	for i, part := range m.Parts {
		if part == nil {
			return fmt.Errorf("part %d is empty", i)
		}
		if tc, ok := part.(ToolCallPart); ok && !tc.State.Valid() {
			return fmt.Errorf("part %d: invalid tool call state %q", i, tc.State)
		}
	}
	return nil
}

package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ToolCallState is the lifecycle state of a tool call part.
type ToolCallState string

const (
	ToolInputStreaming    ToolCallState = "input-streaming"
	ToolInputAvailable    ToolCallState = "input-available"
	ToolApprovalRequested ToolCallState = "approval-requested"
	ToolOutputAvailable   ToolCallState = "output-available"
	ToolOutputDenied      ToolCallState = "output-denied"
)

// ErrInvalidTransition is returned when a tool call would move to a state that
// is not reachable from its current one.
var ErrInvalidTransition = errors.New("invalid tool call state transition")

var toolCallTransitions = map[ToolCallState][]ToolCallState{
	ToolInputStreaming:    {ToolInputAvailable},
	ToolInputAvailable:    {ToolOutputAvailable, ToolApprovalRequested},
	ToolApprovalRequested: {ToolOutputAvailable, ToolOutputDenied},
}

// Valid reports whether s is a known state.
func (s ToolCallState) Valid() bool {
	switch s {
	case ToolInputStreaming, ToolInputAvailable, ToolApprovalRequested, ToolOutputAvailable, ToolOutputDenied:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ToolCallState) IsTerminal() bool {
	return s == ToolOutputAvailable || s == ToolOutputDenied
}

// CanTransition reports whether moving from s to next is legal.
func (s ToolCallState) CanTransition(next ToolCallState) bool {
	for _, allowed := range toolCallTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ToolApproval correlates a human decision with a tool call awaiting approval.
type ToolApproval struct {
	ID       string `json:"id"`
	Approved *bool  `json:"approved,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ApprovalID derives the approval correlation id for a tool call.
func ApprovalID(toolCallID string) string {
	return toolCallID + "-approval"
}

// ToolCallPart is a model request to run a tool, together with its progress.
type ToolCallPart struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
	State      ToolCallState   `json:"state"`
	Output     json.RawMessage `json:"output,omitempty"`
	Approval   *ToolApproval   `json:"approval,omitempty"`
}

// Transition moves the call to next, refusing regressions and skips.
func (p *ToolCallPart) Transition(next ToolCallState) error {
	if !p.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (tool call %s)", ErrInvalidTransition, p.State, next, p.ToolCallID)
	}
	p.State = next
	return nil
}

// Clone returns a deep copy of the part.
func (p ToolCallPart) Clone() ToolCallPart {
	out := p
	if p.Input != nil {
		out.Input = append(json.RawMessage(nil), p.Input...)
	}
	if p.Output != nil {
		out.Output = append(json.RawMessage(nil), p.Output...)
	}
	if p.Approval != nil {
		approval := *p.Approval
		if p.Approval.Approved != nil {
			approved := *p.Approval.Approved
			approval.Approved = &approved
		}
		out.Approval = &approval
	}
	return out
}

// Package tools holds the tool registry, the approval-aware executor and the
// approval store.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Kind classifies how a tool call is resolved.
type Kind string

const (
	// KindAuto tools run as soon as their input is complete.
	KindAuto Kind = "auto"
	// KindApproval tools may wait for a human decision first.
	KindApproval Kind = "approval"
	// KindClient tools have no server-side executor; the front-end supplies
	// the output.
	KindClient Kind = "client"
)

// ApprovalFunc decides whether a particular input needs human approval.
type ApprovalFunc func(input json.RawMessage) (bool, error)

// ExecuteFunc runs a tool. The returned value is marshaled to JSON.
type ExecuteFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Definition is the contract every tool satisfies to be registered.
type Definition struct {
	Name          string
	Description   string
	InputSchema   json.RawMessage
	NeedsApproval ApprovalFunc
	Execute       ExecuteFunc

	// Timeout overrides the executor default for this tool.
	Timeout time.Duration
}

// Kind reports how calls to the tool are resolved.
func (d Definition) Kind() Kind {
	switch {
	case d.Execute == nil:
		return KindClient
	case d.NeedsApproval != nil:
		return KindApproval
	default:
		return KindAuto
	}
}

// Schema returns the input schema, defaulting to an open object.
func (d Definition) Schema() json.RawMessage {
	if len(d.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return d.InputSchema
}

// MarshalJSON renders the public tool surface.
func (d Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"input_schema"`
		Kind        Kind            `json:"kind"`
	}{d.Name, d.Description, d.Schema(), d.Kind()})
}

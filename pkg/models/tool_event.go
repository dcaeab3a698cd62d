package models

// StreamEventType identifies the kind of an outbound stream event.
type StreamEventType string

const (
	EventTextDelta             StreamEventType = "text-delta"
	EventReasoningDelta        StreamEventType = "reasoning-delta"
	EventToolInputAvailable    StreamEventType = "tool-input-available"
	EventToolApprovalRequested StreamEventType = "tool-approval-requested"
	EventToolOutputAvailable   StreamEventType = "tool-output-available"
	EventToolOutputDenied      StreamEventType = "tool-output-denied"
	EventStepFinish            StreamEventType = "step-finish"
	EventFinish                StreamEventType = "finish"
	EventError                 StreamEventType = "error"
)

// FinishReason explains why a turn ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishMaxSteps  FinishReason = "max-steps"
	FinishToolWait  FinishReason = "tool-wait"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// StreamEvent is one element of the outbound stream for a turn.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	MessageID    string          `json:"message_id,omitempty"`
	Text         string          `json:"text,omitempty"`
	ToolCall     *ToolCallPart   `json:"tool_call,omitempty"`
	Step         int             `json:"step,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// EventForToolCall maps a tool call's current state to the event announcing it.
func EventForToolCall(messageID string, call ToolCallPart) StreamEvent {
	ev := StreamEvent{MessageID: messageID}
	switch call.State {
	case ToolApprovalRequested:
		ev.Type = EventToolApprovalRequested
	case ToolOutputAvailable:
		ev.Type = EventToolOutputAvailable
	case ToolOutputDenied:
		ev.Type = EventToolOutputDenied
	default:
		ev.Type = EventToolInputAvailable
	}
	cloned := call.Clone()
	ev.ToolCall = &cloned
	return ev
}

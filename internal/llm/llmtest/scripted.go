// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/haasonsaas/chatline/internal/llm"
	"github.com/haasonsaas/chatline/pkg/models"
)

// Step is the scripted response to one Stream call.
type Step struct {
	Chunks []llm.Chunk

	// Hold keeps the stream open after Chunks until the context ends.
	Hold bool

	// StartErr is returned from Stream itself.
	StartErr error
}

// Text is a step that streams texts and stops.
func Text(texts ...string) Step {
	var s Step
	for _, t := range texts {
		s.Chunks = append(s.Chunks, llm.Chunk{Text: t})
	}
	s.Chunks = append(s.Chunks, llm.Chunk{Done: true, FinishReason: "stop"})
	return s
}

// ToolCalls is a step that optionally says something and then calls tools.
func ToolCalls(text string, calls ...models.ToolCallPart) Step {
	var s Step
	if text != "" {
		s.Chunks = append(s.Chunks, llm.Chunk{Text: text})
	}
	for _, c := range calls {
		c := c
		c.State = models.ToolInputAvailable
		s.Chunks = append(s.Chunks, llm.Chunk{ToolCall: &c})
	}
	s.Chunks = append(s.Chunks, llm.Chunk{Done: true, FinishReason: "tool_use"})
	return s
}

// Call builds a tool call with a JSON input.
func Call(id, name, input string) models.ToolCallPart {
	return models.ToolCallPart{ToolCallID: id, ToolName: name, Input: json.RawMessage(input)}
}

// Failure is a step whose stream ends with err.
func Failure(err error) Step {
	return Step{Chunks: []llm.Chunk{{Err: err, Done: true}}}
}

// ErrScriptExhausted is streamed when Stream is called more often than
// scripted.
var ErrScriptExhausted = errors.New("llmtest: no scripted step left")

// Scripted replays steps in order and records requests.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

// New creates a provider that answers successive Stream calls with steps.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	s.mu.Lock()
	recorded := *req
	recorded.Messages = make([]models.Message, len(req.Messages))
	for i, m := range req.Messages {
		recorded.Messages[i] = m.Clone()
	}
	s.requests = append(s.requests, recorded)
	var step Step
	if len(s.steps) == 0 {
		step = Failure(ErrScriptExhausted)
	} else {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	s.mu.Unlock()

	if step.StartErr != nil {
		return nil, step.StartErr
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for _, c := range step.Chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if step.Hold {
			<-ctx.Done()
			select {
			case out <- llm.Chunk{Err: ctx.Err(), Done: true}:
			default:
			}
		}
	}()
	return out, nil
}

// Requests returns copies of every request received so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Remaining reports how many scripted steps are unused.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

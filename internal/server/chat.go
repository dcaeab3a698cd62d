package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/internal/turn"
	"github.com/haasonsaas/chatline/pkg/models"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if !objectstore.ValidConversationID(conversationID) {
		s.writeError(w, r, &objectstore.ValidationError{Field: "conversation_id", Message: "invalid conversation id"})
		return
	}
	msgs, err := s.history.List(r.Context(), conversationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := decodeJSON(r, &msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.orch.Start(r.Context(), r.PathValue("id"), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamSSE(w, r, t)
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var d tools.Decision
	if err := decodeJSON(r, &d); err != nil {
		s.writeError(w, r, err)
		return
	}
	if d.ID == "" {
		s.writeError(w, r, &objectstore.ValidationError{Field: "id", Message: "approval id is required"})
		return
	}
	t, err := s.orch.Decide(r.Context(), r.PathValue("id"), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamSSE(w, r, t)
}

type toolOutputRequest struct {
	ToolCallID string          `json:"tool_call_id"`
	Output     json.RawMessage `json:"output"`
}

func (s *Server) handleToolOutput(w http.ResponseWriter, r *http.Request) {
	var req toolOutputRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ToolCallID == "" {
		s.writeError(w, r, &objectstore.ValidationError{Field: "tool_call_id", Message: "tool call id is required"})
		return
	}
	t, err := s.orch.SubmitToolOutput(r.Context(), r.PathValue("id"), req.ToolCallID, req.Output)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamSSE(w, r, t)
}

// streamSSE relays a turn's events as Server-Sent Events. A client that goes
// away cancels the turn; events are still drained so it can finish.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, t *turn.Turn) {
	flusher, _ := w.(http.Flusher)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Message-ID", t.MessageID())
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	broken := false
	for ev := range t.Events() {
		if broken {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "encode stream event", "type", ev.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			broken = true
			t.Cancel()
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	res := <-t.Done()
	s.logger.DebugContext(r.Context(), "turn streamed",
		"conversation_id", t.ConversationID(),
		"message_id", t.MessageID(),
		"finish_reason", res.FinishReason,
	)
}

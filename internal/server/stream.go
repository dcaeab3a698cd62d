package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/internal/turn"
	"github.com/haasonsaas/chatline/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
	wsWriteWait       = 10 * time.Second
)

// Client frame types.
const (
	frameMessage    = "message"
	frameApproval   = "approval"
	frameToolOutput = "tool-output"
	frameCancel     = "cancel"
)

// Server frame types.
const (
	frameEvent  = "event"
	frameResult = "result"
	frameError  = "error"
)

type wsRequest struct {
	Type       string          `json:"type"`
	Message    *models.Message `json:"message,omitempty"`
	Decision   *tools.Decision `json:"decision,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

type wsFrame struct {
	Type         string              `json:"type"`
	Event        *models.StreamEvent `json:"event,omitempty"`
	MessageID    string              `json:"message_id,omitempty"`
	FinishReason models.FinishReason `json:"finish_reason,omitempty"`
	Error        *wsError            `json:"error,omitempty"`
}

type wsError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin admits configured origins, or same-origin requests when none
// are configured. Requests without an Origin header are not from browsers.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.config.AllowedOrigins) > 0 {
		return slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// wsSession serves one WebSocket. At most one turn streams at a time; a new
// request while one is active is answered with a 409 error frame.
type wsSession struct {
	server         *Server
	conn           *websocket.Conn
	conversationID string

	writeMu sync.Mutex

	mu     sync.Mutex
	active *turn.Turn
	wg     sync.WaitGroup
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	sess := &wsSession{server: s, conn: conn, conversationID: conversationID}
	defer func() {
		cancel()
		sess.wg.Wait()
		conn.Close()
	}()

	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	sess.wg.Add(1)
	go sess.ping(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.DebugContext(ctx, "websocket read failed", "error", err)
			}
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			sess.writeError(http.StatusBadRequest, "malformed frame")
			continue
		}
		sess.handle(ctx, req)
	}
}

func (ws *wsSession) handle(ctx context.Context, req wsRequest) {
	if req.Type == frameCancel {
		ws.mu.Lock()
		if ws.active != nil {
			ws.active.Cancel()
		}
		ws.mu.Unlock()
		return
	}

	ws.mu.Lock()
	busy := ws.active != nil
	ws.mu.Unlock()
	if busy {
		ws.writeError(http.StatusConflict, turn.ErrTurnInProgress.Error())
		return
	}

	t, err := ws.start(ctx, req)
	if err != nil {
		ws.writeError(statusFor(err), err.Error())
		return
	}
	ws.mu.Lock()
	ws.active = t
	ws.mu.Unlock()

	ws.wg.Add(1)
	go ws.forward(t)
}

func (ws *wsSession) start(ctx context.Context, req wsRequest) (*turn.Turn, error) {
	orch := ws.server.orch
	switch req.Type {
	case frameMessage:
		if req.Message == nil {
			return nil, invalidFrame("message frame without message")
		}
		return orch.Start(ctx, ws.conversationID, *req.Message)
	case frameApproval:
		if req.Decision == nil || req.Decision.ID == "" {
			return nil, invalidFrame("approval frame without decision id")
		}
		return orch.Decide(ctx, ws.conversationID, *req.Decision)
	case frameToolOutput:
		if req.ToolCallID == "" {
			return nil, invalidFrame("tool-output frame without tool_call_id")
		}
		return orch.SubmitToolOutput(ctx, ws.conversationID, req.ToolCallID, req.Output)
	default:
		return nil, invalidFrame("unknown frame type " + req.Type)
	}
}

func invalidFrame(msg string) error {
	return fmt.Errorf("%w: %s", turn.ErrInvalidMessage, msg)
}

// forward relays t's events and clears the active slot when it ends.
func (ws *wsSession) forward(t *turn.Turn) {
	defer ws.wg.Done()
	broken := false
	for ev := range t.Events() {
		if broken {
			continue
		}
		if err := ws.write(wsFrame{Type: frameEvent, Event: &ev}); err != nil {
			broken = true
			t.Cancel()
		}
	}
	res := <-t.Done()

	ws.mu.Lock()
	ws.active = nil
	ws.mu.Unlock()

	if !broken {
		_ = ws.write(wsFrame{Type: frameResult, MessageID: t.MessageID(), FinishReason: res.FinishReason})
	}
}

func (ws *wsSession) ping(ctx context.Context) {
	defer ws.wg.Done()
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.writeMu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			ws.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (ws *wsSession) write(frame wsFrame) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.conn.WriteJSON(frame)
}

func (ws *wsSession) writeError(status int, msg string) {
	_ = ws.write(wsFrame{Type: frameError, Error: &wsError{Status: status, Message: msg}})
}

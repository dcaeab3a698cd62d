package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/chatline/internal/config"
	"github.com/haasonsaas/chatline/internal/conversations"
	"github.com/haasonsaas/chatline/internal/llm"
	"github.com/haasonsaas/chatline/internal/llm/llmtest"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/observability"
	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/internal/tools/builtin"
	"github.com/haasonsaas/chatline/internal/turn"
	"github.com/haasonsaas/chatline/pkg/models"
)

type testServer struct {
	srv      *Server
	orch     *turn.Orchestrator
	objects  *objectstore.MemoryStore
	history  *conversations.MemoryStore
	provider *llmtest.Scripted
	media    *recordingMemo
}

type recordingMemo struct {
	forgotten []string
}

func (m *recordingMemo) Forget(keys ...string) {
	m.forgotten = append(m.forgotten, keys...)
}

func newTestServer(t *testing.T, cfg config.ServerConfig, steps ...llmtest.Step) *testServer {
	t.Helper()
	reg := tools.NewRegistry()
	if err := builtin.Register(reg, time.Now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ts := &testServer{
		objects:  objectstore.NewMemoryStore(),
		history:  conversations.NewMemoryStore(),
		provider: llmtest.New(steps...),
		media:    &recordingMemo{},
	}
	orch, err := turn.New(turn.Config{}, turn.Deps{
		Provider: ts.provider,
		Executor: tools.NewExecutor(reg, nil, tools.ExecutorConfig{}, nil),
		History:  ts.history,
		Objects:  ts.objects,
	})
	if err != nil {
		t.Fatalf("turn.New: %v", err)
	}
	ts.orch = orch

	promReg := prometheus.NewRegistry()
	srv, err := New(cfg, Deps{
		Orchestrator: orch,
		Objects:      ts.objects,
		History:      ts.history,
		Media:        ts.media,
		Gatherer:     promReg,
		Metrics:      observability.NewMetrics(promReg),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts.srv = srv
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target string, body any) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func userMessage(text string) models.Message {
	return models.Message{Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: text}}}
}

// parseSSE splits a text/event-stream body into stream events.
func parseSSE(t *testing.T, body string) []models.StreamEvent {
	t.Helper()
	var events []models.StreamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(config.ServerConfig{}, Deps{}); err == nil {
		t.Fatal("expected error without dependencies")
	}
}

func TestServer_MessageStreamsSSE(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{}, llmtest.Text("Hel", "lo"))

	rec := ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/messages", userMessage("hi")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Text != "Hel" || events[1].Text != "lo" {
		t.Errorf("deltas = %q %q", events[0].Text, events[1].Text)
	}
	last := events[len(events)-1]
	if last.Type != models.EventFinish || last.FinishReason != models.FinishStop {
		t.Errorf("last event = %+v", last)
	}
	if last.MessageID != rec.Header().Get("X-Message-ID") {
		t.Errorf("message id %q, header %q", last.MessageID, rec.Header().Get("X-Message-ID"))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil))
	var history struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Messages) != 2 || history.Messages[1].Text() != "Hello" {
		t.Fatalf("history = %+v", history.Messages)
	}
}

func TestServer_MessageValidation(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"malformed json", "/api/conversations/conv-1/messages", `{`, http.StatusBadRequest},
		{"no parts", "/api/conversations/conv-1/messages", `{"role":"user","parts":[]}`, http.StatusBadRequest},
		{"unknown part", "/api/conversations/conv-1/messages", `{"role":"user","parts":[{"type":"video"}]}`, http.StatusBadRequest},
		{"bad conversation", "/api/conversations/bad%20id/messages", `{"role":"user","parts":[{"type":"text","text":"hi"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestServer_BusyConversation(t *testing.T) {
	hold := llmtest.Step{Chunks: []llm.Chunk{{Text: "thinking"}}, Hold: true}
	ts := newTestServer(t, config.ServerConfig{}, hold)

	running, err := ts.orch.Start(context.Background(), "conv-1", userMessage("first"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/messages", userMessage("second")))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	running.Cancel()
	if _, res := running.Drain(); res.FinishReason != models.FinishCancelled {
		t.Errorf("FinishReason = %s", res.FinishReason)
	}
}

func TestServer_ApprovalResume(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{},
		llmtest.ToolCalls("", llmtest.Call("c1", "calculate", `{"a":5000,"b":3,"operator":"+"}`)),
		llmtest.Text("5003"),
	)
	first, err := ts.orch.Start(context.Background(), "conv-1", userMessage("5000+3"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, res := first.Drain(); res.FinishReason != models.FinishToolWait {
		t.Fatalf("FinishReason = %s", res.FinishReason)
	}

	rec := ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/approvals", tools.Decision{ID: "unknown"}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown approval status = %d, want 404", rec.Code)
	}
	rec = ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/approvals", map[string]any{"approved": true}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}

	rec = ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/approvals", tools.Decision{ID: "c1-approval", Approved: true}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	events := parseSSE(t, rec.Body.String())
	if len(events) == 0 || events[0].Type != models.EventToolOutputAvailable {
		t.Fatalf("events = %+v", events)
	}
	if last := events[len(events)-1]; last.FinishReason != models.FinishStop {
		t.Errorf("finish = %+v", last)
	}

	rec = ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/approvals", tools.Decision{ID: "c1-approval", Approved: true}))
	if rec.Code != http.StatusConflict {
		t.Errorf("repeated decision status = %d, want 409", rec.Code)
	}
}

func TestServer_ToolOutput(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{},
		llmtest.ToolCalls("", llmtest.Call("loc", "get_user_location", `{}`)),
		llmtest.Text("You are in Lisbon."),
	)
	first, err := ts.orch.Start(context.Background(), "conv-1", userMessage("where am I?"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	first.Drain()

	rec := ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/tool-outputs", map[string]any{
		"tool_call_id": "missing",
		"output":       map[string]string{"city": "Lisbon"},
	}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown call status = %d, want 404", rec.Code)
	}

	rec = ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/tool-outputs", map[string]any{
		"tool_call_id": "loc",
		"output":       map[string]string{"city": "Lisbon"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	events := parseSSE(t, rec.Body.String())
	if last := events[len(events)-1]; last.FinishReason != models.FinishStop {
		t.Errorf("finish = %+v", last)
	}
}

func TestServer_UpstreamErrorIsStreamed(t *testing.T) {
	failure := &llm.ProviderError{Provider: "scripted", Reason: llm.FailureServerError, Status: 500, Cause: errors.New("boom")}
	ts := newTestServer(t, config.ServerConfig{}, llmtest.Failure(failure))

	rec := ts.do(jsonRequest(http.MethodPost, "/api/conversations/conv-1/messages", userMessage("hi")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	events := parseSSE(t, rec.Body.String())
	types := make([]models.StreamEventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	if fmt.Sprint(types) != fmt.Sprint([]models.StreamEventType{models.EventError, models.EventFinish}) {
		t.Fatalf("events = %v", types)
	}
	if events[1].FinishReason != models.FinishError {
		t.Errorf("finish reason = %s", events[1].FinishReason)
	}
}

func TestServer_ToolsHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	var body struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(body.Tools) != 3 {
		t.Errorf("tools = %+v", body.Tools)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `chatline_http_requests_total{code="200",route="GET /healthz"} 1`) {
		t.Errorf("metrics missing healthz request:\n%s", rec.Body.String())
	}
}

func TestServer_WebSocketTurn(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{}, llmtest.Text("Hi there"))
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/conversations/conv-1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(map[string]any{"type": "bogus"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if frame.Type != frameError || frame.Error.Status != http.StatusBadRequest {
		t.Fatalf("frame = %+v", frame)
	}

	if err := conn.WriteJSON(wsRequest{Type: frameMessage, Message: &models.Message{
		Role:  models.RoleUser,
		Parts: []models.Part{models.TextPart{Text: "hello"}},
	}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var events []models.StreamEventType
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if f.Type == frameResult {
			if f.FinishReason != models.FinishStop || f.MessageID == "" {
				t.Errorf("result = %+v", f)
			}
			break
		}
		if f.Type != frameEvent || f.Event == nil {
			t.Fatalf("unexpected frame %+v", f)
		}
		events = append(events, f.Event.Type)
	}
	want := []models.StreamEventType{models.EventTextDelta, models.EventStepFinish, models.EventFinish}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin", nil, "", true},
		{"same origin", nil, "http://example.com", true},
		{"cross origin", nil, "http://evil.test", false},
		{"allow listed", []string{"http://app.test"}, "http://app.test", true},
		{"not listed", []string{"http://app.test"}, "http://example.com", false},
		{"wildcard", []string{"*"}, "http://evil.test", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: config.ServerConfig{AllowedOrigins: tt.allowed}}
			req := httptest.NewRequest(http.MethodGet, "http://example.com/api/conversations/c/stream", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &objectstore.ValidationError{Message: "x"}, http.StatusBadRequest},
		{"too large", &objectstore.ValidationError{Message: "x", Cause: objectstore.ErrTooLarge}, http.StatusRequestEntityTooLarge},
		{"body limit", fmt.Errorf("read: %w", &http.MaxBytesError{Limit: 1}), http.StatusRequestEntityTooLarge},
		{"invalid message", fmt.Errorf("%w: no parts", turn.ErrInvalidMessage), http.StatusBadRequest},
		{"forbidden", &objectstore.ForbiddenError{Key: "k"}, http.StatusForbidden},
		{"object missing", objectstore.ErrNotFound, http.StatusNotFound},
		{"approval missing", tools.ErrApprovalNotFound, http.StatusNotFound},
		{"busy", turn.ErrTurnInProgress, http.StatusConflict},
		{"resolved", fmt.Errorf("x: %w", models.ErrInvalidTransition), http.StatusConflict},
		{"upstream", &llm.ProviderError{Provider: "p", Reason: llm.FailureServerError}, http.StatusBadGateway},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

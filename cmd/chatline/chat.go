package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/pkg/models"
)

// buildChatCmd creates the "chat" command, a line-based terminal client for a
// running server.
func buildChatCmd() *cobra.Command {
	var (
		serverURL      string
		conversationID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running chatline server from the terminal",
		Example: `  chatline chat --server http://localhost:8080
  chatline chat --conversation my-notes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			c := &chatClient{
				http:           &http.Client{Timeout: 10 * time.Minute},
				baseURL:        strings.TrimRight(serverURL, "/"),
				conversationID: conversationID,
				in:             bufio.NewScanner(cmd.InOrStdin()),
				out:            cmd.OutOrStdout(),
				interactive:    term.IsTerminal(int(os.Stdin.Fd())),
			}
			return c.run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the chatline server")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (default: a new one)")
	return cmd
}

type chatClient struct {
	http           *http.Client
	baseURL        string
	conversationID string
	in             *bufio.Scanner
	out            io.Writer
	interactive    bool
}

// turnOutcome is what the client needs from a finished stream.
type turnOutcome struct {
	reason    models.FinishReason
	approvals []models.ToolCallPart
	pending   []models.ToolCallPart
}

func (c *chatClient) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.interactive {
		fmt.Fprintf(c.out, "conversation %s (Ctrl-D to quit)\n", c.conversationID)
	}
	for {
		line, ok := c.prompt("> ")
		if !ok {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg := models.Message{Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: line}}}
		outcome, err := c.post(ctx, "messages", msg)
		if err != nil {
			return err
		}
		if err := c.settle(ctx, outcome); err != nil {
			return err
		}
	}
}

// settle answers approvals and client tool calls until the turn stops waiting.
// A resumed turn only reports calls it touched, so unanswered ones carry over.
func (c *chatClient) settle(ctx context.Context, outcome turnOutcome) error {
	approvals, pending := outcome.approvals, outcome.pending
	for outcome.reason == models.FinishToolWait {
		var err error
		switch {
		case len(approvals) > 0:
			call := approvals[0]
			approvals = approvals[1:]
			answer, _ := c.prompt(fmt.Sprintf("allow %s(%s)? [y/N] ", call.ToolName, call.Input))
			approved := strings.EqualFold(strings.TrimSpace(answer), "y")
			outcome, err = c.post(ctx, "approvals", tools.Decision{ID: call.Approval.ID, Approved: approved})
		case len(pending) > 0:
			call := pending[0]
			pending = pending[1:]
			answer, _ := c.prompt(fmt.Sprintf("%s needs a JSON result: ", call.ToolName))
			output := json.RawMessage(strings.TrimSpace(answer))
			if !json.Valid(output) {
				output, _ = json.Marshal(map[string]string{"error": "not provided"})
			}
			outcome, err = c.post(ctx, "tool-outputs", map[string]any{"tool_call_id": call.ToolCallID, "output": output})
		default:
			return nil
		}
		if err != nil {
			return err
		}
		approvals = append(approvals, outcome.approvals...)
		pending = append(pending, outcome.pending...)
	}
	return nil
}

func (c *chatClient) prompt(label string) (string, bool) {
	if c.interactive {
		fmt.Fprint(c.out, label)
	}
	if !c.in.Scan() {
		return "", false
	}
	return c.in.Text(), true
}

// post sends body to a conversation endpoint and renders the event stream.
func (c *chatClient) post(ctx context.Context, endpoint string, body any) (turnOutcome, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return turnOutcome{}, err
	}
	url := fmt.Sprintf("%s/api/conversations/%s/%s", c.baseURL, c.conversationID, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return turnOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return turnOutcome{}, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return turnOutcome{}, fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return c.render(resp.Body)
}

func (c *chatClient) render(r io.Reader) (turnOutcome, error) {
	var outcome turnOutcome
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return outcome, fmt.Errorf("decode event: %w", err)
		}
		switch ev.Type {
		case models.EventTextDelta:
			fmt.Fprint(c.out, ev.Text)
		case models.EventToolInputAvailable:
			outcome.pending = append(outcome.pending, *ev.ToolCall)
		case models.EventToolApprovalRequested:
			outcome.pending = dropCall(outcome.pending, ev.ToolCall.ToolCallID)
			outcome.approvals = append(outcome.approvals, *ev.ToolCall)
		case models.EventToolOutputAvailable:
			outcome.pending = dropCall(outcome.pending, ev.ToolCall.ToolCallID)
			fmt.Fprintf(c.out, "\n[%s -> %s]\n", ev.ToolCall.ToolName, ev.ToolCall.Output)
		case models.EventToolOutputDenied:
			outcome.pending = dropCall(outcome.pending, ev.ToolCall.ToolCallID)
			fmt.Fprintf(c.out, "\n[%s denied]\n", ev.ToolCall.ToolName)
		case models.EventError:
			fmt.Fprintf(c.out, "\nerror: %s\n", ev.Error)
		case models.EventFinish:
			outcome.reason = ev.FinishReason
			fmt.Fprintln(c.out)
		}
	}
	return outcome, scanner.Err()
}

func dropCall(calls []models.ToolCallPart, id string) []models.ToolCallPart {
	out := calls[:0]
	for _, call := range calls {
		if call.ToolCallID != id {
			out = append(out, call)
		}
	}
	return out
}

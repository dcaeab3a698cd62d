package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents is how many consecutive events without output end a
// stream as malformed.
const maxEmptyStreamEvents = 300

// Anthropic streams from the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
	logger *slog.Logger
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config, logger *slog.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	cfg.applyDefaults()
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger.With("component", "llm", "provider", "anthropic"),
	}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	return runStream(ctx, p.cfg, p.logger, p.Name(), func(ctx context.Context, em *emitter) (Chunk, error) {
		return p.consume(ctx, params, em)
	}), nil
}

func (p *Anthropic) model(req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.Model
}

func (p *Anthropic) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	system, exchanges := flatten(req.System, req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  anthropicMessages(exchanges),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	for _, tool := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return params, fmt.Errorf("anthropic: invalid schema for tool %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return params, fmt.Errorf("anthropic: invalid tool %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		params.Tools = append(params.Tools, param)
	}
	return params, nil
}

func anthropicMessages(exchanges []exchange) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	appendUser := func(blocks ...anthropic.ContentBlockParamUnion) {
		// Consecutive user content is merged into one message.
		if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleUser {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}

	for _, ex := range exchanges {
		if ex.Role == "user" {
			appendUser(anthropic.NewTextBlock(ex.Text))
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		if ex.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(ex.Text))
		}
		for _, use := range ex.Uses {
			blocks = append(blocks, anthropic.NewToolUseBlock(use.ID, inputObject(use.Input), use.Name))
		}
		out = append(out, anthropic.NewAssistantMessage(blocks...))

		if len(ex.Results) > 0 {
			results := make([]anthropic.ContentBlockParamUnion, 0, len(ex.Results))
			for _, r := range ex.Results {
				results = append(results, anthropic.NewToolResultBlock(r.ID, string(r.Content), r.IsError))
			}
			appendUser(results...)
		}
	}
	return out
}

func (p *Anthropic) consume(ctx context.Context, params anthropic.MessageNewParams, em *emitter) (Chunk, error) {
	model := string(params.Model)
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		final     Chunk
		toolID    string
		toolName  string
		toolInput strings.Builder
		inTool    bool
		empty     int
	)

	for stream.Next() {
		event := stream.Current()
		produced := false

		switch event.Type {
		case "message_start":
			final.InputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)
			produced = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolID, toolName, inTool = use.ID, use.Name, true
				toolInput.Reset()
			}
			produced = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !em.send(Chunk{Text: delta.Text}) {
						return final, ctx.Err()
					}
					produced = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !em.send(Chunk{Reasoning: delta.Thinking}) {
						return final, ctx.Err()
					}
					produced = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					produced = true
				}
			}

		case "content_block_stop":
			if inTool {
				if !em.send(Chunk{ToolCall: newToolCall(toolID, toolName, toolInput.String())}) {
					return final, ctx.Err()
				}
				inTool = false
			}
			produced = true

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				final.OutputTokens = int(delta.Usage.OutputTokens)
			}
			if delta.Delta.StopReason != "" {
				final.FinishReason = string(delta.Delta.StopReason)
			}
			produced = true

		case "message_stop":
			return final, nil

		case "error":
			return final, p.wrapError(errors.New("anthropic stream error: "+event.RawJSON()), model)
		}

		if produced {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyStreamEvents {
			return final, p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", empty), model)
		}
	}

	if err := stream.Err(); err != nil {
		return final, p.wrapError(err, model)
	}
	return final, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return newProviderError(p.Name(), model, 0, err)
	}

	wrapped := newProviderError(p.Name(), model, apiErr.StatusCode, err)
	pe, ok := wrapped.(*ProviderError)
	if !ok {
		return wrapped
	}
	pe.RequestID = apiErr.RequestID
	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Message != "" {
			pe.Message = payload.Error.Message
		}
		if payload.Error.Type != "" {
			pe.withCode(payload.Error.Type)
		}
	}
	return pe
}

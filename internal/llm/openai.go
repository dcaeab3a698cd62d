package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAI streams from the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI provider. BaseURL may point at any compatible
// endpoint.
func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg.applyDefaults()
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With("component", "llm", "provider", "openai"),
	}, nil
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	chatReq := p.buildRequest(req)
	return runStream(ctx, p.cfg, p.logger, p.Name(), func(ctx context.Context, em *emitter) (Chunk, error) {
		return p.consume(ctx, chatReq, em)
	}), nil
}

func (p *OpenAI) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	system, exchanges := flatten(req.System, req.Messages)
	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      openAIMessages(system, exchanges),
		MaxTokens:     maxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return chatReq
}

func openAIMessages(system string, exchanges []exchange) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(exchanges)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, ex := range exchanges {
		if ex.Role == "user" {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.Text})
			continue
		}
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.Text}
		for _, use := range ex.Uses {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   use.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      use.Name,
					Arguments: string(use.Input),
				},
			})
		}
		out = append(out, msg)
		// Each result is its own tool message linked by id.
		for _, r := range ex.Results {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(r.Content),
				ToolCallID: r.ID,
			})
		}
	}
	return out
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAI) consume(ctx context.Context, chatReq openai.ChatCompletionRequest, em *emitter) (Chunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return Chunk{}, p.wrapError(err, chatReq.Model)
	}
	defer stream.Close()

	var final Chunk
	calls := make(map[int]*pendingCall)

	flushCalls := func() bool {
		indexes := make([]int, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			c := calls[idx]
			if c.id == "" || c.name == "" {
				continue
			}
			if !em.send(Chunk{ToolCall: newToolCall(c.id, c.name, c.args.String())}) {
				return false
			}
		}
		calls = make(map[int]*pendingCall)
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !flushCalls() {
				return final, ctx.Err()
			}
			return final, nil
		}
		if err != nil {
			return final, p.wrapError(err, chatReq.Model)
		}

		if resp.Usage != nil {
			final.InputTokens = resp.Usage.PromptTokens
			final.OutputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !em.send(Chunk{Text: choice.Delta.Content}) {
				return final, ctx.Err()
			}
		}
		if choice.Delta.ReasoningContent != "" {
			if !em.send(Chunk{Reasoning: choice.Delta.ReasoningContent}) {
				return final, ctx.Err()
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			c := calls[idx]
			if c == nil {
				c = &pendingCall{}
				calls[idx] = c
			}
			if tc.ID != "" {
				c.id = tc.ID
			}
			if tc.Function.Name != "" {
				c.name = tc.Function.Name
			}
			c.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			final.FinishReason = string(choice.FinishReason)
			if choice.FinishReason == openai.FinishReasonToolCalls && !flushCalls() {
				return final, ctx.Err()
			}
		}
	}
}

func (p *OpenAI) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := newProviderError(p.Name(), model, apiErr.HTTPStatusCode, err)
		if pe, ok := wrapped.(*ProviderError); ok {
			pe.Message = apiErr.Message
			if code, ok := apiErr.Code.(string); ok && code != "" {
				pe.withCode(code)
			} else if apiErr.Type != "" {
				pe.withCode(apiErr.Type)
			}
		}
		return wrapped
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newProviderError(p.Name(), model, reqErr.HTTPStatusCode, err)
	}
	return newProviderError(p.Name(), model, 0, err)
}

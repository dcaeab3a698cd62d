package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini streams from the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	cfg.applyDefaults()
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "llm", "provider", "gemini"),
	}, nil
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	contents, config := p.build(req)
	return runStream(ctx, p.cfg, p.logger, p.Name(), func(ctx context.Context, em *emitter) (Chunk, error) {
		return p.consume(ctx, model, contents, config, em)
	}), nil
}

func (p *Gemini) build(req *Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, exchanges := flatten(req.System, req.Messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	// #nosec G115 -- bounded by min
	config.MaxOutputTokens = int32(min(maxTokens, math.MaxInt32))

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]any
			_ = json.Unmarshal(tool.InputSchema, &schema)
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  geminiSchema(schema),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return geminiContents(exchanges), config
}

func geminiContents(exchanges []exchange) []*genai.Content {
	var out []*genai.Content
	for _, ex := range exchanges {
		if ex.Role == "user" {
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: ex.Text}}})
			continue
		}
		content := &genai.Content{Role: genai.RoleModel}
		if ex.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: ex.Text})
		}
		for _, use := range ex.Uses {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: use.ID, Name: use.Name, Args: inputObject(use.Input)},
			})
		}
		out = append(out, content)

		if len(ex.Results) > 0 {
			results := &genai.Content{Role: genai.RoleUser}
			for _, r := range ex.Results {
				results.Parts = append(results.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: resultObject(r.Content)},
				})
			}
			out = append(out, results)
		}
	}
	return out
}

// geminiSchema converts a JSON schema map to the Gemini subset.
func geminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(pm)
			}
		}
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

func (p *Gemini) consume(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, em *emitter) (Chunk, error) {
	var final Chunk
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return final, p.wrapError(err, model)
		}
		if resp == nil {
			continue
		}
		if u := resp.UsageMetadata; u != nil {
			final.InputTokens = int(u.PromptTokenCount)
			final.OutputTokens = int(u.CandidatesTokenCount)
		}
		for _, cand := range resp.Candidates {
			if cand == nil {
				continue
			}
			if cand.FinishReason != "" {
				final.FinishReason = string(cand.FinishReason)
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if c, ok := geminiChunk(part); ok && !em.send(c) {
					return final, ctx.Err()
				}
			}
		}
	}
	return final, nil
}

func geminiChunk(part *genai.Part) (Chunk, bool) {
	switch {
	case part.FunctionCall != nil:
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil || part.FunctionCall.Args == nil {
			args = []byte(`{}`)
		}
		id := part.FunctionCall.ID
		if id == "" {
			// Gemini does not always assign ids.
			id = "call_" + uuid.NewString()
		}
		return Chunk{ToolCall: newToolCall(id, part.FunctionCall.Name, string(args))}, true
	case part.Text != "" && part.Thought:
		return Chunk{Reasoning: part.Text}, true
	case part.Text != "":
		return Chunk{Text: part.Text}, true
	}
	return Chunk{}, false
}

func (p *Gemini) wrapError(err error, model string) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		apiErr = *apiErrPtr
	}
	if apiErr.Code != 0 || errors.As(err, &apiErr) {
		wrapped := newProviderError(p.Name(), model, apiErr.Code, err)
		if pe, ok := wrapped.(*ProviderError); ok {
			pe.Message = apiErr.Message
			pe.Code = apiErr.Status
		}
		return wrapped
	}
	return newProviderError(p.Name(), model, 0, err)
}

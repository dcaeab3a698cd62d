package llm

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/chatline/internal/backoff"
	"github.com/haasonsaas/chatline/pkg/models"
)

// collect drains a stream, failing the test if it does not finish.
func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func last(t *testing.T, chunks []Chunk) Chunk {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	c := chunks[len(chunks)-1]
	if !c.Done {
		t.Fatalf("last chunk not done: %+v", c)
	}
	return c
}

func testConfig(baseURL string) Config {
	return Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		MaxRetries: 2,
		Timeout:    5 * time.Second,
		Backoff:    backoff.Policy{Initial: time.Millisecond, Factor: 1},
	}
}

func sampleRequest() *Request {
	return &Request{
		System: "You are chatline.",
		Messages: []models.Message{
			{Role: models.RoleUser, Parts: []models.Part{models.TextPart{Text: "what is 1+2?"}}},
		},
		Tools: []Tool{{
			Name:        "calculate",
			Description: "arithmetic",
			InputSchema: []byte(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"},"operator":{"type":"string","enum":["+","-"]}},"required":["a","b","operator"]}`),
		}},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"", "anthropic", false},
		{"anthropic", "anthropic", false},
		{"OpenAI", "openai", false},
		{"gemini", "gemini", false},
		{"bedrock", "", true},
	}
	for _, tt := range tests {
		p, err := New(context.Background(), Config{Provider: tt.provider, APIKey: "k"}, nil)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.provider)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.provider, err)
		}
		if p.Name() != tt.want {
			t.Errorf("%q: Name = %s", tt.provider, p.Name())
		}
	}

	if _, err := New(context.Background(), Config{Provider: "openai"}, nil); err == nil {
		t.Error("missing API key accepted")
	}
}

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	return writeNamed(t, t.TempDir(), "chatline.yaml", content)
}

func writeNamed(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	path := writeConfig(t, `
llm:
  model: claude-sonnet-4-20250514
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Uploads.MaxBytes != 10<<20 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.APIKey != "sk-ant-test" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Turn.MaxSteps != 5 || cfg.Turn.KeepLast != 2 {
		t.Errorf("turn = %+v", cfg.Turn)
	}
	if cfg.Media.MaxImageDimension != 1568 || cfg.Media.Vision.MaxDimension != 1568 {
		t.Errorf("media = %+v", cfg.Media)
	}
	if cfg.Tools.ApprovalTTL != 24*time.Hour {
		t.Errorf("approval ttl = %v", cfg.Tools.ApprovalTTL)
	}
	if cfg.Jobs.ApprovalPrune != "@every 10m" || cfg.Jobs.MemoSweep != "@every 5m" {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
	if cfg.Storage.Backend != "local" || cfg.Conversations.Backend != "sqlite" {
		t.Errorf("storage = %+v, conversations = %+v", cfg.Storage, cfg.Conversations)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CHATLINE_TEST_KEY", "sk-openai-test")
	t.Setenv("OPENAI_API_KEY", "ignored")
	path := writeConfig(t, `
llm:
  provider: openai
  api_key: ${CHATLINE_TEST_KEY}
media:
  max_concurrency: 4
  vision:
    provider: openai
  transcription:
    language: pt-BR
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-openai-test" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.Media.Vision.APIKey != "ignored" || cfg.Media.MaxConcurrency != 4 {
		t.Errorf("media = %+v", cfg.Media)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"provider", "llm:\n  provider: mistral\n", "llm.provider"},
		{"storage", "storage:\n  backend: ftp\n", "storage.backend"},
		{"s3 bucket", "storage:\n  backend: s3\n", "storage.s3.bucket"},
		{"language", "media:\n  transcription:\n    language: \"!!\"\n", "media.transcription.language"},
		{"schedule", "jobs:\n  approval_prune: sometimes\n", "jobs.approval_prune"},
		{"steps", "turn:\n  max_steps: 11\n", "turn.max_steps"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
		{"version", "version: 2\n", "newer than this build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			var verr *ConfigValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ConfigValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadCollectsAllIssues(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: mistral
logging:
  format: xml
`)
	_, err := Load(path)
	var verr *ConfigValidationError
	if !errors.As(err, &verr) || len(verr.Issues) != 2 {
		t.Fatalf("error = %v", err)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeNamed(t, dir, "base.json5", `{
  // shared across environments
  server: {port: 9000, host: "127.0.0.1"},
  llm: {provider: "gemini", model: "gemini-2.0-flash"},
}`)
	path := writeNamed(t, dir, "chatline.yaml", `
include: base.json5
server:
  port: 9100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeNamed(t, dir, "a.yaml", "include: b.yaml\n")
	path := writeNamed(t, dir, "b.yaml", "include: a.yaml\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("error = %v, want include cycle", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want ErrNotExist", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, key := range []string{"llm", "turn", "media", "storage"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("schema missing %q", key)
		}
	}
	if strings.Contains(string(data), `"Logger"`) {
		t.Error("schema exposes runtime-only fields")
	}
}

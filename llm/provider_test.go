package llm

import (
	"fmt"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"openai", "*llm.openAIProvider"},
		{"anthropic", "*llm.anthropicProvider"},
		{"ollama", "*llm.ollamaProvider"},
		{"mock", "*llm.mockProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := Config{
				Provider: tt.provider,
				Model:    "test-model",
			}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			gotType := fmt.Sprintf("%T", p)
			if gotType != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, gotType, tt.wantType)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	cfg := Config{
		Provider: "doesnotexist",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	cfg := Config{
		Provider: "",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	want := "llm provider not specified"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

// TestDefaultBaseURLs verifies that when BaseURL is empty in the config,
// each provider constructor sets the correct default.
func TestDefaultBaseURLs(t *testing.T) {
	t.Run("ollama", func(t *testing.T) {
		p, err := NewProvider(Config{Provider: "ollama", Model: "m"})
		if err != nil {
			t.Fatalf("NewProvider: %v", err)
		}
		got := p.(*ollamaProvider).base.cfg.BaseURL
		if got != "http://localhost:11434" {
			t.Errorf("default BaseURL = %q, want %q", got, "http://localhost:11434")
		}
	})

	t.Run("openai", func(t *testing.T) {
		p, err := NewProvider(Config{Provider: "openai", Model: "m"})
		if err != nil {
			t.Fatalf("NewProvider: %v", err)
		}
		got := p.(*openAIProvider).base.cfg.BaseURL
		if got != "https://api.openai.com" {
			t.Errorf("default BaseURL = %q, want %q", got, "https://api.openai.com")
		}
	})

	t.Run("anthropic", func(t *testing.T) {
		p, err := NewProvider(Config{Provider: "anthropic", Model: "m"})
		if err != nil {
			t.Fatalf("NewProvider: %v", err)
		}
		got := p.(*anthropicProvider).base.cfg.BaseURL
		if got != "https://api.anthropic.com" {
			t.Errorf("default BaseURL = %q, want %q", got, "https://api.anthropic.com")
		}
	})
}

// TestExplicitBaseURLPreserved verifies that a user-supplied BaseURL
// is not overwritten by the default.
func TestExplicitBaseURLPreserved(t *testing.T) {
	customURL := "http://my-server:9999"

	p, err := NewProvider(Config{Provider: "ollama", Model: "m", BaseURL: customURL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	got := p.(*ollamaProvider).base.cfg.BaseURL
	if got != customURL {
		t.Errorf("BaseURL = %q, want %q", got, customURL)
	}
}

// TestModelPassedThrough verifies the model from Config is stored
// inside the provider.
func TestModelPassedThrough(t *testing.T) {
	cfg := Config{
		Provider: "ollama",
		Model:    "llama3:latest",
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	got := p.(*ollamaProvider).base.cfg.Model
	if got != "llama3:latest" {
		t.Errorf("model = %q, want %q", got, "llama3:latest")
	}
}

// TestAPIKeyPassedThrough verifies the API key from Config is stored
// inside the provider.
func TestAPIKeyPassedThrough(t *testing.T) {
	cfg := Config{
		Provider: "openai",
		Model:    "test",
		APIKey:   "sk-test-key-123",
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	got := p.(*openAIProvider).base.cfg.APIKey
	if got != "sk-test-key-123" {
		t.Errorf("api key = %q, want %q", got, "sk-test-key-123")
	}
}

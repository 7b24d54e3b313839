// Package llm abstracts the language model backends used by the analyzer and
// the summary engine. Every call is a single prompt-in, text-out generation;
// callers own the timeout via context.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/caseloom/caseloom/internal/config"
)

// maxResponseBytes bounds a single model response buffer.
const maxResponseBytes = 10 << 20

// Provider generates text completions.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() string
}

// GenerateRequest is one prompt. Model overrides the provider default when
// set.
type GenerateRequest struct {
	Prompt    string
	Model     string
	MaxTokens int
}

// GenerateResponse carries the completion text plus usage when the backend
// reports it.
type GenerateResponse struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
	Duration     time.Duration
}

// New builds the provider selected by configuration.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderCLI:
		return NewCLIProvider(cfg)
	case config.ProviderOpenAI:
		return newOpenAIProvider(cfg), nil
	case config.ProviderAnthropic:
		return newAnthropicProvider(cfg), nil
	case config.ProviderOllama:
		return newOllamaProvider(cfg), nil
	case config.ProviderMock:
		return &MockProvider{Model: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

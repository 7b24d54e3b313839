package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockProvider returns canned responses. Tests set GenerateFunc to script
// specific replies; without it every call echoes a short acknowledgement.
type MockProvider struct {
	Model        string
	GenerateFunc func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	mu      sync.Mutex
	prompts []string
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Prompt)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.GenerateFunc != nil {
		return p.GenerateFunc(ctx, req)
	}
	model := req.Model
	if model == "" {
		model = p.Model
	}
	return &GenerateResponse{
		Text:  fmt.Sprintf("[mock] received %d chars", len(req.Prompt)),
		Model: model,
	}, nil
}

// Prompts returns every prompt seen so far, oldest first.
func (p *MockProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// LastPrompt returns the most recent prompt, or "" before any call.
func (p *MockProvider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

// PromptContains reports whether any recorded prompt contains substr.
func (p *MockProvider) PromptContains(substr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prompt := range p.prompts {
		if strings.Contains(prompt, substr) {
			return true
		}
	}
	return false
}

package llm

import (
	"context"
	"sync"
)

// Switchable routes calls to a replaceable inner provider. The analyzer and
// the summary engine hold one handle for the process lifetime; a config
// reload swaps the inner provider without rebuilding either consumer.
type Switchable struct {
	mu    sync.RWMutex
	inner Provider
}

// NewSwitchable wraps an initial provider.
func NewSwitchable(inner Provider) *Switchable {
	return &Switchable{inner: inner}
}

// Swap replaces the inner provider. Calls already in flight finish against
// the provider they started with.
func (s *Switchable) Swap(inner Provider) {
	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
}

// Generate forwards to the current inner provider.
func (s *Switchable) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	s.mu.RLock()
	p := s.inner
	s.mu.RUnlock()
	return p.Generate(ctx, req)
}

// Name reports the current inner provider's name.
func (s *Switchable) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Name()
}

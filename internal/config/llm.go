package config

import (
	"github.com/caseloom/caseloom/internal/foundation/normalization"
)

// ProviderKind enumerates supported language model providers.
type ProviderKind string

const (
	ProviderCLI       ProviderKind = "cli"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOllama    ProviderKind = "ollama"
	ProviderMock      ProviderKind = "mock"
)

var providerKindNormalizer = normalization.NewEnumNormalizer("llm provider", map[string]ProviderKind{
	"cli":       ProviderCLI,
	"openai":    ProviderOpenAI,
	"anthropic": ProviderAnthropic,
	"ollama":    ProviderOllama,
	"mock":      ProviderMock,
}, ProviderCLI)

func NormalizeProviderKind(raw string) ProviderKind {
	return providerKindNormalizer.Normalize(raw)
}

// ValidateProviderKind returns an error naming the valid providers when raw is
// not a recognized provider.
func ValidateProviderKind(raw string) (ProviderKind, error) {
	return providerKindNormalizer.NormalizeWithValidation(raw)
}

// RetrievalMode enumerates retrieval store client modes.
type RetrievalMode string

const (
	// RetrievalSynthetic computes opaque file URIs locally without a backing
	// service. Suitable for single-node deployments and tests.
	RetrievalSynthetic RetrievalMode = "synthetic"
	// RetrievalRemote talks to a retrieval store over HTTP.
	RetrievalRemote RetrievalMode = "remote"
)

var retrievalModeNormalizer = normalization.NewEnumNormalizer("retrieval mode", map[string]RetrievalMode{
	"synthetic": RetrievalSynthetic,
	"remote":    RetrievalRemote,
}, RetrievalSynthetic)

func NormalizeRetrievalMode(raw string) RetrievalMode {
	return retrievalModeNormalizer.Normalize(raw)
}

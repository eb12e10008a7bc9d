// Package llm provides chat-completion providers for query analysis:
// HyDE passages, query rewrites, reformulations, and decompositions.
//
// All analyzer calls are best-effort; callers wrap each call in its own
// deadline and treat failures as an absent artifact, so providers report
// errors and never degrade silently.
package llm

import (
	"context"
	"errors"
	"log/slog"
)

// Options tunes one completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider produces a chat completion.
// Implementations must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
}

// ErrNoProvider is returned by the noop provider; the analyzer records it
// as a degraded artifact rather than failing the request.
var ErrNoProvider = errors.New("llm: no provider configured")

// AutoConfig selects and configures a provider.
type AutoConfig struct {
	Provider     string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey string
	Model        string
	OllamaURL    string
	OllamaModel  string
}

// NewAuto picks a provider: an explicit setting wins; "auto" prefers Ollama
// when a URL is configured, then OpenAI when a key is present, then noop.
func NewAuto(cfg AutoConfig, logger *slog.Logger) Provider {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIChat(cfg.OpenAIAPIKey, cfg.Model)
	case "ollama":
		return NewOllamaChat(cfg.OllamaURL, cfg.OllamaModel)
	case "noop":
		return NoopProvider{}
	}

	if cfg.OllamaURL != "" && cfg.OllamaModel != "" {
		logger.Info("llm: auto-selected ollama", "model", cfg.OllamaModel)
		return NewOllamaChat(cfg.OllamaURL, cfg.OllamaModel)
	}
	if cfg.OpenAIAPIKey != "" {
		logger.Info("llm: auto-selected openai", "model", cfg.Model)
		return NewOpenAIChat(cfg.OpenAIAPIKey, cfg.Model)
	}
	logger.Warn("llm: no provider configured, query analysis artifacts disabled")
	return NoopProvider{}
}

// NoopProvider fails every completion. The pipeline still works: analysis
// artifacts are simply absent and retrieval runs on the base embedding alone.
type NoopProvider struct{}

// Complete always returns ErrNoProvider.
func (NoopProvider) Complete(_ context.Context, _, _ string, _ Options) (string, error) {
	return "", ErrNoProvider
}

// Package embedding provides vector embedding generation for the retrieval
// pipeline: the base query embedding, HyDE and variant embeddings, and the
// semantic-cache key embedding all come through the Provider interface.
//
// Providers must be safe for concurrent use; the hybrid retriever embeds
// query variants in parallel.
package embedding

import (
	"context"
	"log/slog"

	"github.com/pgvector/pgvector-go"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// AutoConfig selects and configures a provider.
type AutoConfig struct {
	Provider     string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey string
	Model        string // OpenAI model name
	OllamaURL    string
	OllamaModel  string
	Dimensions   int
}

// NewAuto picks a provider: an explicit setting wins; "auto" prefers Ollama
// when a URL is configured (embeddings stay on-premises), then OpenAI when a
// key is present, then noop.
func NewAuto(cfg AutoConfig, logger *slog.Logger) Provider {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.Model)
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.Dimensions)
	case "noop":
		return NewNoopProvider(cfg.Dimensions)
	}

	if cfg.OllamaURL != "" && cfg.OllamaModel != "" {
		logger.Info("embedding: auto-selected ollama", "model", cfg.OllamaModel)
		return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.Dimensions)
	}
	if cfg.OpenAIAPIKey != "" {
		logger.Info("embedding: auto-selected openai", "model", cfg.Model)
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.Model)
	}
	logger.Warn("embedding: no provider configured, using noop (zero vectors)")
	return NewNoopProvider(cfg.Dimensions)
}

// NoopProvider returns zero vectors. Used when no provider is configured.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that returns zero vectors.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *NoopProvider) Dimensions() int {
	return p.dims
}

// Embed returns a zero vector.
func (p *NoopProvider) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	return pgvector.NewVector(make([]float32, p.dims)), nil
}

// EmbedBatch returns zero vectors.
func (p *NoopProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i := range vecs {
		vecs[i] = pgvector.NewVector(make([]float32, p.dims))
	}
	return vecs, nil
}

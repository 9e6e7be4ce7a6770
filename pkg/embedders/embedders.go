// Package embedders provides dense query embedding for retrieval. Only
// query-time encoding lives here; corpus embedding happens in the offline
// indexer.
package embedders

import (
	"context"
	"fmt"

	"github.com/reelix-ai/reelix/pkg/config"
)

// Provider produces dense vectors for query text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	GetDimension() int

	GetModelName() string

	Close() error
}

// New creates a provider from config.
func New(cfg *config.EmbedderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	switch cfg.Type {
	case config.EmbedderTypeOpenAI:
		return NewOpenAIEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s (supported: openai)", cfg.Type)
	}
}

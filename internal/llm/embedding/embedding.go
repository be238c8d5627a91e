// Package embedding converts text into vectors for the knowledge index.
//
// The OpenAI backend is the production path; the local feature-hashing
// backend keeps ingestion and search working offline with deterministic
// output. Both produce unit-length vectors so cosine similarity reduces to a
// dot product.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/config"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// New builds the configured embedder. The local backend needs no key.
func New(cfg config.EmbeddingConfig, apiKey string) (Embedder, error) {
	switch strings.TrimSpace(cfg.Provider) {
	case "", config.EmbeddingLocal:
		return NewLocal(), nil
	case config.EmbeddingOpenAI:
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			return nil, errors.New("embedding provider requires an openai api key")
		}
		return newOpenAIEmbedder(apiKey, strings.TrimSpace(cfg.Model)), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

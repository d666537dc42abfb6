// Package embedding turns text into dense vectors for the vector index.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder converts free text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider  string // "openai", "ollama" or "hash"
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
}

// New builds the embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg)
	case "hash":
		return NewHash(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// zeroVector is what blank text embeds to, so empty enrichment fields still
// occupy a slot in the index.
func zeroVector(dim int) []float32 {
	return make([]float32, dim)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Ollama embeds with a local Ollama server.
type Ollama struct {
	client    *api.Client
	model     string
	dimension int
}

// NewOllama creates an Ollama embedder. An empty BaseURL falls back to
// OLLAMA_HOST via the client library.
func NewOllama(cfg Config) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}

	var cli *api.Client
	if cfg.BaseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		cli = c
	} else {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse ollama url: %w", err)
		}
		cli = api.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	}
	return &Ollama{client: cli, model: cfg.Model, dimension: cfg.Dimension}, nil
}

func (e *Ollama) Dimension() int { return e.dimension }

func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return zeroVector(e.dimension), nil
	}
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:     e.model,
		Prompt:    text,
		KeepAlive: &api.Duration{Duration: 30 * time.Minute},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(resp.Embedding) != e.dimension {
		return nil, fmt.Errorf("ollama embeddings: got dimension %d, want %d", len(resp.Embedding), e.dimension)
	}
	return toFloat32(resp.Embedding), nil
}

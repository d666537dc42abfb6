// Package llm wraps the chat-completion providers used for enrichment,
// keyword expansion and streamed answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultSystemPrompt is sent when a request carries no system prompt.
const DefaultSystemPrompt = "You are a helpful assistant. answer the question with chinese"

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Completer produces completions from one configured model.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Stream calls onDelta for every text fragment as it arrives. Returning
	// an error from onDelta stops the stream with that error.
	Stream(ctx context.Context, req Request, onDelta func(string) error) error
}

// Config describes one model endpoint.
type Config struct {
	Provider    string // "openai" (any OpenAI-compatible server) or "anthropic"
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ProviderName resolves an empty Provider from the base URL.
func (c Config) ProviderName() string {
	if c.Provider != "" {
		return strings.ToLower(c.Provider)
	}
	if strings.Contains(c.BaseURL, "anthropic.com") {
		return "anthropic"
	}
	return "openai"
}

func (c Config) withDefaults() Config {
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.TopP == 0 {
		c.TopP = 0.8
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	return c
}

// fill applies model defaults to unset request fields.
func (c Config) fill(req Request) Request {
	if req.System == "" {
		req.System = DefaultSystemPrompt
	}
	if req.Temperature == 0 {
		req.Temperature = c.Temperature
	}
	if req.TopP == 0 {
		req.TopP = c.TopP
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.MaxTokens
	}
	return req
}

// New builds a completer for cfg.
func New(cfg Config) (Completer, error) {
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}
	cfg = cfg.withDefaults()
	switch cfg.ProviderName() {
	case "openai":
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		return NewClaudeClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, Truncate(e.Message, 200))
}

func isRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

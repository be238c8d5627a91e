// Package llm wraps the completion providers behind one small contract.
//
// Callers deal in plain request/response text; provider SDK types never leak
// past this package. Transient failures are retried here with bounded
// backoff, fatal failures (bad credentials, malformed requests) are returned
// immediately and must propagate to the process boundary.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/config"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	defaultMaxOutputTokens = 1024
)

var (
	// ErrNotConfigured indicates the provider has no API key.
	ErrNotConfigured = errors.New("llm provider not configured")
	// ErrEmptyResponse indicates the provider returned no usable text.
	ErrEmptyResponse = errors.New("empty model response")
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	System   string
	Messages []Message
	// MaxTokens caps the response size. Zero means the package default.
	MaxTokens int
	// Temperature is optional; nil means provider default.
	Temperature *float64
}

// Completer is the completion capability consumed by the router, the
// handlers, and the summarizer.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

func (r Request) validate() error {
	if len(r.Messages) == 0 {
		return errors.New("missing messages")
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("unknown message role %q", m.Role)
		}
	}
	return nil
}

// New builds the configured provider. The API key comes from the secrets
// store, never from config.
func New(cfg config.LLMConfig, apiKey string) (Completer, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("missing llm model")
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	switch strings.TrimSpace(cfg.Provider) {
	case config.ProviderAnthropic:
		return newAnthropicCompleter(apiKey, strings.TrimSpace(cfg.BaseURL), model, retries), nil
	case config.ProviderOpenAI:
		return newOpenAICompleter(apiKey, strings.TrimSpace(cfg.BaseURL), model, retries), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

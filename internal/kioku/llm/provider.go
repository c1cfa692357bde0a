// Package llm talks to the text-generation backend.
//
// A Provider is a request/response function from a system prompt plus an
// ordered message history to completion text. Any failure (network error,
// non-2xx status, undecodable or empty body) is returned as an error; the
// caller treats it as "no reply produced".
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRateLimit is returned when the backend answers HTTP 429.
	ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

	// ErrMalformedOutput is returned when the response body cannot be decoded.
	ErrMalformedOutput = errors.New("llm: malformed response from backend")

	// ErrEmptyCompletion is returned when the backend produced no text.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// Message is one role-tagged entry of a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates a completion for a conversation.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Generate(ctx context.Context, systemPrompt string, history []Message) (string, error)
}

// Kind names a backend implementation.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindOllama Kind = "ollama"
)

// Config selects and configures a backend.
type Config struct {
	Kind Kind

	// BaseURL is the API root: https://api.openai.com/v1 for OpenAI-style
	// servers, http://localhost:11434 for Ollama.
	BaseURL string

	Model string

	// APIKey is sent as a bearer token. Ollama ignores it.
	APIKey string

	// Timeout bounds a single HTTP round trip. Defaults to 60 s.
	Timeout time.Duration

	// MaxTokens caps the completion length when the backend supports it.
	MaxTokens int
}

const defaultTimeout = 60 * time.Second

// New returns the Provider selected by cfg.Kind.
func New(cfg Config) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch Kind(strings.ToLower(string(cfg.Kind))) {
	case KindOpenAI, "":
		return NewOpenAI(cfg), nil
	case KindOllama:
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unknown backend %q", cfg.Kind)
	}
}

// withSystem prepends the system prompt to history.
func withSystem(systemPrompt string, history []Message) []Message {
	msgs := make([]Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	return append(msgs, history...)
}

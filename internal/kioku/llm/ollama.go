package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultOllamaBase  = "http://localhost:11434"
	defaultOllamaModel = "qwen2.5:7b-instruct-q4_K_M"
)

// Ollama implements Provider against Ollama's native /api/chat endpoint.
type Ollama struct {
	cfg    Config
	client *http.Client
}

// NewOllama returns an Ollama provider. Safe for concurrent use.
func NewOllama(cfg Config) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Ollama{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// Generate sends one non-streaming chat request.
func (p *Ollama) Generate(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	body := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: withSystem(systemPrompt, history),
	}
	if p.cfg.MaxTokens > 0 {
		body.Options = map[string]any{"num_predict": p.cfg.MaxTokens}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/api/chat",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("llm ollama: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm ollama: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimit
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm ollama: unexpected HTTP status %d", resp.StatusCode)
	}

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("llm ollama: backend error: %s", decoded.Error)
	}

	text := strings.TrimSpace(decoded.Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

var _ Provider = (*Ollama)(nil)

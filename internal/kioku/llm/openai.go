package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOpenAIBase  = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAI implements Provider against any OpenAI-compatible chat completions
// endpoint (OpenAI, Azure, vLLM, Ollama's /v1 shim).
type OpenAI struct {
	cfg    Config
	client *http.Client
}

// NewOpenAI returns an OpenAI-compatible provider. Safe for concurrent use.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type oaiRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends one chat completion request.
func (p *OpenAI) Generate(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	data, err := json.Marshal(oaiRequest{
		Model:     p.cfg.Model,
		Messages:  withSystem(systemPrompt, history),
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("llm openai: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm openai: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm openai: read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimit
	}

	var decoded oaiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("llm openai: unexpected HTTP status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("llm openai: API error (%s): %s", decoded.Error.Type, decoded.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm openai: unexpected HTTP status %d", resp.StatusCode)
	}

	for _, c := range decoded.Choices {
		if text := strings.TrimSpace(c.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyCompletion
}

var _ Provider = (*OpenAI)(nil)

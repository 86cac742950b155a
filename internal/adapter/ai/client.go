// Package ai implements the model endpoint client and the strict parser for
// model-produced validation verdicts.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/clduab11/pricehawk/internal/domain"
)

// Client calls an OpenRouter-compatible chat completions endpoint. It
// implements domain.ModelCaller. The per-request deadline comes from the
// selected model's timeout_ms.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewClient constructs a Client. The http.Client carries no global timeout;
// deadlines are applied per request from the model config.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, hc: &http.Client{}}
}

type chatRequest struct {
	Model          string        `json:"model_id"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string          `json:"content"`
			ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatJSON posts one chat completion and returns the raw message content.
// 429 and 5xx are retried with exponential backoff inside the model's
// deadline; 4xx is permanent. Errors are classified against the domain
// taxonomy so callers can report router outcomes correctly.
func (c *Client) ChatJSON(ctx context.Context, model domain.ModelConfig, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: MODEL_ENDPOINT_API_KEY missing", domain.ErrConfig)
	}

	reqBody := chatRequest{
		Model: model.ID,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0.2,
		MaxTokens:      1024,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	raw, _ := json.Marshal(reqBody)

	ctx, cancel := context.WithTimeout(ctx, model.Timeout())
	defer cancel()

	var out chatResponse
	op := func() error {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		r.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.hc.Do(r)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("%w: read body: %v", domain.ErrTransient, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("model endpoint rate limited",
				slog.String("model", model.ID),
				slog.Duration("took", time.Since(start)))
			return fmt.Errorf("%w: status 429", domain.ErrRateLimited)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			snippet := body
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			slog.Warn("model endpoint 4xx",
				slog.String("model", model.ID),
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(snippet)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			slog.Error("model endpoint non-2xx",
				slog.String("model", model.ID),
				slog.Int("status", resp.StatusCode))
			return fmt.Errorf("%w: chat status %d", domain.ErrTransient, resp.StatusCode)
		}

		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return "", fmt.Errorf("op=ai.ChatJSON model=%s: %w", model.ID, err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=ai.ChatJSON model=%s: %w", model.ID, domain.ErrEmptyResponse)
	}
	content := out.Choices[0].Message.Content
	if content == "" && len(out.Choices[0].Message.ToolCalls) == 0 {
		return "", fmt.Errorf("op=ai.ChatJSON model=%s: %w", model.ID, domain.ErrEmptyResponse)
	}
	return content, nil
}

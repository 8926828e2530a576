// Package models calls the remote language model: one prompt in, one reply
// string out.
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable means no model runtime is configured or reachable.
	ErrUnavailable = errors.New("model service unavailable")
	// ErrEmptyResponse means the model answered without any text.
	ErrEmptyResponse = errors.New("invalid response: empty completion")
)

// Client talks to an OpenAI-compatible chat completions endpoint (OpenAI,
// Ollama, LM Studio, vLLM...).
type Client struct {
	baseURL string
	apiKey  string
	client  *RetryableClient
}

func NewClient(baseURL, apiKey string, retry RetryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  NewRetryableClient(retry),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Call sends prompt to model and returns the completion text. Errors carry
// the provider's wording so callers can classify them.
func (c *Client) Call(ctx context.Context, prompt, model string) (string, error) {
	if c.baseURL == "" {
		return "", ErrUnavailable
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := NewRequestWithBody(ctx, http.MethodPost, c.baseURL+"/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.DoWithRetry(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("network error: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), errorDetail(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("invalid response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	choice := parsed.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", errors.New("response filtered by content policy")
	}
	if choice.Message.Content == nil || strings.TrimSpace(*choice.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(*choice.Message.Content), nil
}

// errorDetail extracts the provider's error message from a failed response
// body, falling back to the raw body.
func errorDetail(data []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != nil {
		if code, ok := parsed.Error.Code.(string); ok && code != "" {
			return parsed.Error.Message + " (" + code + ")"
		}
		return parsed.Error.Message
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 300 {
		s = s[:297] + "..."
	}
	return s
}

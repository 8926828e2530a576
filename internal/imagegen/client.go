// Package imagegen answers image requests through an OpenAI-compatible
// images endpoint.
package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ensemble/internal/models"
)

const defaultModel = "dall-e-3"

var ErrNoImage = errors.New("invalid response: no image returned")

type Client struct {
	baseURL string
	apiKey  string
	model   string
	size    string
	client  *models.RetryableClient
}

func NewClient(baseURL, apiKey, model string, retry models.RetryConfig) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		size:    "1024x1024",
		client:  models.NewRetryableClient(retry),
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate returns a reference to the generated image: a URL, or a data URI
// when the endpoint answers with inline base64.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("image %w", models.ErrUnavailable)
	}

	body, err := json.Marshal(imageRequest{Model: c.model, Prompt: prompt, N: 1, Size: c.size})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	req, err := models.NewRequestWithBody(ctx, http.MethodPost, c.baseURL+"/images/generations", body)
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

	var parsed imageResponse
	jsonErr := json.Unmarshal(data, &parsed)
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(data))
		if jsonErr == nil && parsed.Error != nil {
			detail = parsed.Error.Message
		}
		return "", fmt.Errorf("API error %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), detail)
	}
	if jsonErr != nil {
		return "", fmt.Errorf("invalid response: %w", jsonErr)
	}
	if len(parsed.Data) == 0 {
		return "", ErrNoImage
	}

	img := parsed.Data[0]
	switch {
	case img.URL != "":
		return img.URL, nil
	case img.B64JSON != "":
		return "data:image/png;base64," + img.B64JSON, nil
	default:
		return "", ErrNoImage
	}
}

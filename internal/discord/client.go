// internal/discord/client.go
// Mirrors agent replies into a Discord channel
// Best effort: callers log failures and move on
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAPIBase is Discord's REST API root
	DefaultAPIBase = "https://discord.com/api/v10"

	// MaxMessageLength is Discord's per-message content limit
	MaxMessageLength = 2000
)

var ErrNotConfigured = errors.New("discord: neither webhook nor bot channel configured")

// Config selects the delivery route. A webhook URL wins over a bot token.
type Config struct {
	WebhookURL string
	BotToken   string
	ChannelID  string
	APIBase    string
}

// Client posts messages via webhook or bot token.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

type webhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

type botPayload struct {
	Content string `json:"content"`
}

// NewClient creates a Discord client
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configured reports whether any delivery route is set up
func (c *Client) Configured() bool {
	return c.cfg.WebhookURL != "" || (c.cfg.BotToken != "" && c.cfg.ChannelID != "")
}

// SendMessage delivers text by whichever route is configured
func (c *Client) SendMessage(ctx context.Context, text, displayName string) error {
	switch {
	case c.cfg.WebhookURL != "":
		return c.SendWebhookMessage(ctx, text, displayName)
	case c.cfg.BotToken != "" && c.cfg.ChannelID != "":
		return c.SendBotMessage(ctx, text, displayName)
	default:
		return ErrNotConfigured
	}
}

// SendWebhookMessage posts through the webhook, showing displayName as author
func (c *Client) SendWebhookMessage(ctx context.Context, text, displayName string) error {
	if c.cfg.WebhookURL == "" {
		return ErrNotConfigured
	}
	return c.post(ctx, c.cfg.WebhookURL, "", webhookPayload{
		Content:  truncate(text, MaxMessageLength),
		Username: displayName,
	})
}

// SendBotMessage posts as the bot user. The agent name is prefixed in bold
// since bots cannot change their display name per message.
func (c *Client) SendBotMessage(ctx context.Context, text, displayName string) error {
	if c.cfg.BotToken == "" || c.cfg.ChannelID == "" {
		return ErrNotConfigured
	}
	if displayName != "" {
		text = fmt.Sprintf("**%s:** %s", displayName, text)
	}
	url := fmt.Sprintf("%s/channels/%s/messages", c.cfg.APIBase, c.cfg.ChannelID)
	return c.post(ctx, url, "Bot "+c.cfg.BotToken, botPayload{Content: truncate(text, MaxMessageLength)})
}

func (c *Client) post(ctx context.Context, url, auth string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord rejected message with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// truncate limits s to maxLen runes
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

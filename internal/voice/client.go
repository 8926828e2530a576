// internal/voice/client.go
// Text-to-speech delivery to the local voice-notify daemon
package voice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultEndpoint is where voice-notify listens.
const DefaultEndpoint = "http://localhost:5959"

// speakRequest is the payload for POST /speak
type speakRequest struct {
	Text     string `json:"text"`
	Profile  string `json:"profile,omitempty"`
	Priority string `json:"priority"`
}

// Client plays agent replies through voice-notify. Only one utterance plays
// at a time; a new Speak interrupts the previous one.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64 // identifies the utterance owning cancel
}

// NewClient creates a voice client. An empty endpoint uses DefaultEndpoint.
func NewClient(endpoint string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Speak blocks until playback finishes, Stop is called or ctx ends.
//
// voice-notify may stream newline-separated amplitude levels (0..1) while it
// plays; each one is passed to onLevel.
func (c *Client) Speak(ctx context.Context, text, profile string, onLevel func(level float64)) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	defer c.release(gen, cancel)

	body, err := json.Marshal(speakRequest{Text: text, Profile: profile, Priority: "normal"})
	if err != nil {
		return fmt.Errorf("marshal speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/speak", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create speak request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("voice-notify unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("TTS rejected with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || onLevel == nil {
			continue
		}
		if level, err := strconv.ParseFloat(line, 64); err == nil {
			onLevel(level)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read playback stream: %w", err)
	}
	return nil
}

// Stop aborts the utterance in flight and tells voice-notify to go quiet.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/stop", nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Expected when voice-notify isn't running
		c.logger.Debug("voice stop not delivered", "error", err)
		return
	}
	resp.Body.Close()
}

func (c *Client) release(gen uint64, cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cancel = nil
	}
}

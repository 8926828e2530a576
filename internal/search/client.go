// Package search fetches short background snippets for agents that are
// allowed to look things up.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the DuckDuckGo instant answer API.
const DefaultEndpoint = "https://api.duckduckgo.com/"

const maxSnippets = 3

type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 8 * time.Second},
	}
}

type topic struct {
	Text   string  `json:"Text"`
	Topics []topic `json:"Topics"` // grouped topics nest one level
}

type instantAnswer struct {
	Heading        string  `json:"Heading"`
	Answer         string  `json:"Answer"`
	AbstractText   string  `json:"AbstractText"`
	AbstractSource string  `json:"AbstractSource"`
	Definition     string  `json:"Definition"`
	RelatedTopics  []topic `json:"RelatedTopics"`
}

// Augment returns up to three snippets about query, one per line. An empty
// string means nothing useful was found.
func (c *Client) Augment(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search failed with status %d", resp.StatusCode)
	}

	var ia instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&ia); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	return strings.Join(snippets(ia), "\n"), nil
}

func snippets(ia instantAnswer) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && len(out) < maxSnippets {
			out = append(out, "- "+s)
		}
	}

	add(ia.Answer)
	if ia.AbstractText != "" {
		if ia.AbstractSource != "" {
			add(fmt.Sprintf("%s (%s)", ia.AbstractText, ia.AbstractSource))
		} else {
			add(ia.AbstractText)
		}
	}
	add(ia.Definition)
	for _, t := range ia.RelatedTopics {
		add(t.Text)
		for _, sub := range t.Topics {
			add(sub.Text)
		}
	}
	return out
}

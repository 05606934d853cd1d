// Package websearch wraps the Tavily search API.
package websearch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	errx "github.com/stockbroker-core/server/internal/core/error"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

const provider = "tavily"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the decoded search payload.
type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// Text joins answer and result contents into one block for extraction.
func (r *Response) Text() string {
	var b strings.Builder
	if r.Answer != "" {
		b.WriteString(r.Answer)
		b.WriteString("\n")
	}
	for _, res := range r.Results {
		if res.Title != "" {
			b.WriteString(res.Title)
			b.WriteString(": ")
		}
		b.WriteString(res.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

type Client struct {
	baseURL    string
	apiKey     string
	maxResults int
	http       *http.Client
}

func NewClient(baseURL, apiKey string, maxResults int, timeout time.Duration) *Client {
	if maxResults <= 0 {
		maxResults = 5
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		maxResults: maxResults,
		http:       &http.Client{Timeout: timeout},
	}
}

// Search runs query; max <= 0 uses the client default.
func (c *Client) Search(ctx context.Context, query string, max int) (*Response, error) {
	if max <= 0 {
		max = c.maxResults
	}
	payload, err := json.Marshal(map[string]any{
		"query":          query,
		"max_results":    max,
		"include_answer": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logx.Warn().Err(err).Str("query", query).Msg("web search failed")
		return nil, errx.WrapUpstream(provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errx.WrapUpstream(provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errx.UpstreamStatus(provider, resp.StatusCode, body)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errx.Malformed(provider, err)
	}
	logx.Debug().Str("query", query).Int("results", len(out.Results)).Msg("web search")
	return &out, nil
}

// SearchText runs query with the default result count and returns Text().
func (c *Client) SearchText(ctx context.Context, query string) (string, error) {
	resp, err := c.Search(ctx, query, 0)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

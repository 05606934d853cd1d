// Package findata is a thin client for the financial datasets REST API.
// Every lookup returns the upstream JSON text unchanged; only the price
// snapshot is decoded because purchase preparation needs the number.
package findata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	errx "github.com/stockbroker-core/server/internal/core/error"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

const provider = "financialdatasets"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the financial datasets API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client; a zero timeout means 20s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) IncomeStatements(ctx context.Context, q StatementQuery) (string, error) {
	return c.get(ctx, "/financials/income-statements/", statementValues(q))
}

func (c *Client) BalanceSheets(ctx context.Context, q StatementQuery) (string, error) {
	return c.get(ctx, "/financials/balance-sheets/", statementValues(q))
}

func (c *Client) CashFlowStatements(ctx context.Context, q StatementQuery) (string, error) {
	return c.get(ctx, "/financials/cash-flow-statements/", statementValues(q))
}

func (c *Client) FinancialMetrics(ctx context.Context, q StatementQuery) (string, error) {
	return c.get(ctx, "/financial-metrics/", statementValues(q))
}

func (c *Client) CompanyFacts(ctx context.Context, ticker string) (string, error) {
	return c.get(ctx, "/company/facts/", url.Values{"ticker": {ticker}})
}

func (c *Client) CompanyNews(ctx context.Context, ticker string, limit int) (string, error) {
	v := url.Values{"ticker": {ticker}}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/news/", v)
}

func (c *Client) Prices(ctx context.Context, q PriceQuery) (string, error) {
	v := url.Values{
		"ticker":              {q.Ticker},
		"interval":            {q.Interval},
		"interval_multiplier": {strconv.Itoa(q.IntervalMultiplier)},
		"start_date":          {q.StartDate},
		"end_date":            {q.EndDate},
	}
	return c.get(ctx, "/prices/", v)
}

func (c *Client) Filings(ctx context.Context, q FilingsQuery) (string, error) {
	v := url.Values{}
	if q.Ticker != "" {
		v.Set("ticker", q.Ticker)
	}
	if q.CIK != "" {
		v.Set("cik", q.CIK)
	}
	if q.FilingType != "" {
		v.Set("filing_type", q.FilingType)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return c.get(ctx, "/filings/", v)
}

// Tickers lists the tickers with financial statements available.
func (c *Client) Tickers(ctx context.Context) (string, error) {
	return c.get(ctx, "/financials/income-statements/tickers/", nil)
}

func (c *Client) Search(ctx context.Context, req SearchRequest) (string, error) {
	return c.post(ctx, "/financials/search/", req)
}

// SnapshotText returns the raw snapshot payload.
func (c *Client) SnapshotText(ctx context.Context, ticker string) (string, error) {
	return c.get(ctx, "/prices/snapshot/", url.Values{"ticker": {ticker}})
}

// Snapshot fetches and decodes the current price of ticker.
func (c *Client) Snapshot(ctx context.Context, ticker string) (*PriceSnapshot, error) {
	body, err := c.SnapshotText(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot([]byte(body))
}

// ParseSnapshot decodes {"snapshot": {...}} and requires a numeric price.
func ParseSnapshot(body []byte) (*PriceSnapshot, error) {
	var envelope struct {
		Snapshot map[string]any `json:"snapshot"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errx.Malformed(provider, err)
	}
	raw, ok := envelope.Snapshot["price"]
	if !ok {
		return nil, errx.Malformed(provider, ErrMalformedSnapshot)
	}
	price, ok := raw.(float64)
	if !ok || price <= 0 {
		return nil, errx.Malformed(provider, fmt.Errorf("%w: got %v", ErrMalformedSnapshot, raw))
	}

	snap := &PriceSnapshot{Price: price}
	snap.Ticker, _ = envelope.Snapshot["ticker"].(string)
	snap.DayChange, _ = envelope.Snapshot["day_change"].(float64)
	snap.DayChangePercent, _ = envelope.Snapshot["day_change_percent"].(float64)
	snap.Time, _ = envelope.Snapshot["time"].(string)
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (string, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logx.Warn().Err(err).Str("path", req.URL.Path).Msg("financial data request failed")
		return "", errx.WrapUpstream(provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errx.WrapUpstream(provider, err)
	}

	logx.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("financial data request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errx.UpstreamStatus(provider, resp.StatusCode, body)
	}
	return string(body), nil
}

func statementValues(q StatementQuery) url.Values {
	v := url.Values{"ticker": {q.Ticker}}
	if q.Period != "" {
		v.Set("period", q.Period)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

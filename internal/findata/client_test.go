package findata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/stockbroker-core/server/internal/core/error"
)

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices/snapshot/", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("ticker"))
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		_, _ = io.WriteString(w, `{"snapshot":{"ticker":"AAPL","price":190.5,"day_change":1.2,"day_change_percent":0.6,"time":"2026-10-15T16:00:00Z"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	snap, err := c.Snapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Ticker)
	assert.InDelta(t, 190.5, snap.Price, 1e-9)
	assert.InDelta(t, 0.6, snap.DayChangePercent, 1e-9)
}

func TestParseSnapshotMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>`,
		"no snapshot":    `{"error":"x"}`,
		"price missing":  `{"snapshot":{"ticker":"AAPL"}}`,
		"price a string": `{"snapshot":{"price":"190"}}`,
		"price zero":     `{"snapshot":{"price":0}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(body))
			require.Error(t, err)
			assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
		})
	}

	_, err := ParseSnapshot([]byte(`{"snapshot":{}}`))
	assert.True(t, errors.Is(err, ErrMalformedSnapshot))
}

func TestNon2xxBecomesAppError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"ticker not found"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.IncomeStatements(context.Background(), StatementQuery{Ticker: "NOPE", Period: "annual", Limit: 5})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errx.StatusOf(err))
	assert.Contains(t, err.Error(), "ticker not found")
}

func TestQueryParameters(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = io.WriteString(w, `{"filings":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "", time.Second)
	body, err := c.Filings(context.Background(), FilingsQuery{CIK: "0000320193", FilingType: "10-K", Limit: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"filings":[]}`, body)
	require.NotNil(t, got)
	assert.Equal(t, "/filings/", got.URL.Path)
	assert.Equal(t, "0000320193", got.URL.Query().Get("cik"))
	assert.Equal(t, "10-K", got.URL.Query().Get("filing_type"))
	assert.Equal(t, "3", got.URL.Query().Get("limit"))
	assert.Empty(t, got.URL.Query().Get("ticker"))
}

func TestSearchPostsFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/financials/search/", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"filters":[{"field":"revenue","operator":"gt","value":1000000}],"period":"annual","limit":5,"order_by":"-report_period"}`, string(b))
		_, _ = io.WriteString(w, `{"search_results":[]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Search(context.Background(), SearchRequest{
		Filters: []SearchFilter{{Field: "revenue", Operator: "gt", Value: 1000000}},
		Period:  "annual",
		Limit:   5,
		OrderBy: "-report_period",
	})
	require.NoError(t, err)
}

package prompts

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockbroker-core/server/internal/agent/model"
)

func TestRenderSystem(t *testing.T) {
	now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	defer func() { now = time.Now }()

	cfg := model.PromptConfig{AgentName: "Stockbroker", Currency: "USD"}
	out, err := RenderSystem(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "You are Stockbroker")
	assert.Contains(t, out, "Today is 2026-10-15")
	assert.Contains(t, out, "call purchase_stock")
	assert.NotContains(t, out, "Pending purchase")

	out, err = RenderSystem(context.Background(), cfg, &model.PendingPurchase{
		CallID: "call_1", Ticker: "AAPL", Quantity: 5, MaxPurchasePrice: decimal.NewFromInt(300),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "A purchase of 5 share(s) of AAPL with a maximum price of 300")
}

func TestRenderTickerExtraction(t *testing.T) {
	msgs, err := RenderTickerExtraction(context.Background(), "Acme Corp", "Acme Corp (NYSE: ACME)", "extract_ticker")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, `"Acme Corp"`)
	assert.Contains(t, msgs[0].Content, "NYSE: ACME")
	assert.Contains(t, msgs[0].Content, "calling extract_ticker")
	assert.Equal(t, "What is the ticker symbol of Acme Corp?", msgs[1].Content)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes, so byte maxSearchText falls inside a rune
	long := "a" + strings.Repeat("é", maxSearchText)
	out := truncate(long, maxSearchText)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, maxSearchText-1, len(out))

	assert.Equal(t, "short", truncate("short", maxSearchText))

	msgs, err := RenderTickerExtraction(context.Background(), "Société Générale", long, "extract_ticker")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(msgs[0].Content))
}

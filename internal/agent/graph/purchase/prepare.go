// Package purchase implements the two-phase stock purchase: preparation
// validates a request into a pending purchase, execution trades it once.
package purchase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	"github.com/stockbroker-core/server/internal/agent/graph/tools"
	"github.com/stockbroker-core/server/internal/agent/model"
	"github.com/stockbroker-core/server/internal/findata"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

// PriceSource returns the current price of a ticker.
type PriceSource interface {
	Snapshot(ctx context.Context, ticker string) (*findata.PriceSnapshot, error)
}

// Searcher runs a web search and returns its text.
type Searcher interface {
	SearchText(ctx context.Context, query string) (string, error)
}

// TickerExtractor pulls a ticker out of search text and reports the USD cost
// of doing so.
type TickerExtractor interface {
	ExtractTicker(ctx context.Context, companyName, searchText string) (string, float64, error)
}

// ClarificationText is sent to the user when neither ticker nor company is known.
const ClarificationText = "Which company would you like to buy shares of? Please tell me its ticker symbol or its name."

type Preparer struct {
	prices    PriceSource
	search    Searcher
	extractor TickerExtractor
}

func NewPreparer(prices PriceSource, search Searcher, extractor TickerExtractor) *Preparer {
	return &Preparer{prices: prices, search: search, extractor: extractor}
}

type outcome struct {
	text    string
	clarify bool
	pending *model.PendingPurchase
	costUSD float64
}

// Prepare handles the purchase-request calls of one assistant message and
// answers each with exactly one tool result. existing is the pending purchase
// already held by the conversation; it is never replaced.
func (p *Preparer) Prepare(ctx context.Context, calls []schema.ToolCall, existing *model.PendingPurchase) model.Delta {
	var delta model.Delta
	clarify := false
	held := existing

	for _, call := range calls {
		var res outcome
		if held != nil {
			res = outcome{text: fmt.Sprintf(
				"%sa purchase of %d share(s) of %s is already awaiting confirmation; confirm or cancel it first.",
				tools.ErrorPrefix, held.Quantity, held.Ticker)}
		} else {
			res = p.prepareOne(ctx, call)
		}

		delta.Messages = append(delta.Messages, ToolResult(call, res.text))
		delta.CostUSD += res.costUSD
		clarify = clarify || res.clarify
		if res.pending != nil {
			held = res.pending
			delta.Pending = res.pending
		}
	}

	// after the tool results so they stay adjacent to the requesting message
	if clarify {
		delta.Messages = append(delta.Messages, schema.AssistantMessage(ClarificationText, nil))
	}
	return delta
}

func (p *Preparer) prepareOne(ctx context.Context, call schema.ToolCall) outcome {
	req, err := tools.ParsePurchaseRequest(call.Function.Arguments)
	if err != nil {
		return outcome{text: tools.ErrorText(err)}
	}

	if req.Ticker == "" && req.CompanyName == "" {
		logx.Debug().Str("call_id", call.ID).Msg("Purchase request names no company; asking for clarification")
		return outcome{
			text:    tools.ErrorPrefix + "a ticker symbol or company name is required to purchase stock; ask the user which company to buy.",
			clarify: true,
		}
	}

	ticker := req.Ticker
	var cost float64
	if ticker == "" {
		ticker, cost, err = p.resolveTicker(ctx, req.CompanyName)
		if err != nil {
			logx.Debug().Str("call_id", call.ID).Str("company_name", req.CompanyName).Err(err).Msg("Ticker resolution failed")
			return outcome{text: fmt.Sprintf("%scould not determine the ticker for %q; ask the user for the ticker symbol.",
				tools.ErrorPrefix, req.CompanyName), costUSD: cost}
		}
	}
	res := p.priceCheck(ctx, call, req, ticker)
	res.costUSD = cost
	return res
}

// priceCheck holds the request to the current price of ticker.
func (p *Preparer) priceCheck(ctx context.Context, call schema.ToolCall, req *tools.PurchaseRequest, ticker string) outcome {
	snap, err := p.prices.Snapshot(ctx, ticker)
	if err != nil {
		return outcome{text: fmt.Sprintf("%scould not get a valid current price for %s: %v", tools.ErrorPrefix, ticker, err)}
	}

	price := decimal.NewFromFloat(snap.Price)
	if price.GreaterThan(req.MaxPurchasePrice) {
		return outcome{text: fmt.Sprintf(
			"Purchase rejected: the current price of %s is %s, which exceeds the maximum purchase price of %s.",
			ticker, price.StringFixed(2), req.MaxPurchasePrice.String())}
	}

	pending := &model.PendingPurchase{
		CallID:           call.ID,
		Ticker:           ticker,
		Quantity:         req.Quantity,
		MaxPurchasePrice: req.MaxPurchasePrice,
	}
	payload, err := json.Marshal(map[string]any{
		"status":           "pending_confirmation",
		"pending_purchase": pending,
		"current_price":    price.StringFixed(2),
		"next_step":        "Summarize the purchase and ask the user to confirm it.",
	})
	if err != nil {
		return outcome{text: tools.ErrorText(err)}
	}

	logx.Debug().Str("call_id", call.ID).Str("ticker", ticker).Int("quantity", req.Quantity).Msg("Purchase prepared")
	return outcome{text: string(payload), pending: pending}
}

func (p *Preparer) resolveTicker(ctx context.Context, companyName string) (string, float64, error) {
	text, err := p.search.SearchText(ctx, "ticker symbol for "+companyName)
	if err != nil {
		return "", 0, fmt.Errorf("search: %w", err)
	}
	return p.extractor.ExtractTicker(ctx, companyName, text)
}

// ToolResult builds the tool message answering call.
func ToolResult(call schema.ToolCall, content string) *schema.Message {
	msg := schema.ToolMessage(content, call.ID)
	msg.ToolName = call.Function.Name
	return msg
}

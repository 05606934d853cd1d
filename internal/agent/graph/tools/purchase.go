package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
)

// PurchaseRequest is the validated argument set of a purchase_stock call.
type PurchaseRequest struct {
	Ticker           string          `json:"ticker,omitempty"`
	CompanyName      string          `json:"company_name,omitempty"`
	Quantity         int             `json:"quantity" validate:"min=1"`
	MaxPurchasePrice decimal.Decimal `json:"max_purchase_price"`
}

var purchaseSpec = Spec{
	Name: ToolPurchaseStock,
	Desc: "Request the purchase of shares. Provide the ticker, or the company name when the ticker is unknown, " +
		"and the maximum price per share the user accepts. The purchase is prepared first and executed only " +
		"after the user confirms; call this tool again to confirm a prepared purchase.",
	Args: []Arg{
		{Name: "ticker", Type: schema.String, Desc: "Ticker symbol of the stock to buy."},
		{Name: "company_name", Type: schema.String, Desc: "Company name, used to look up the ticker when it is not given."},
		{Name: "quantity", Type: schema.Integer, Desc: "Number of shares to buy.", Default: 1},
		{Name: "max_purchase_price", Type: schema.Number, Desc: "Maximum price per share the user is willing to pay.", Required: true},
	},
}

// ParsePurchaseRequest normalizes and validates purchase_stock arguments.
func ParsePurchaseRequest(arguments string) (*PurchaseRequest, error) {
	args, err := NormalizeArgs(purchaseSpec.Args, arguments)
	if err != nil {
		return nil, err
	}
	req := &PurchaseRequest{}
	if err := json.Unmarshal(args, req); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	if err := validate.Struct(req); err != nil {
		return nil, &ValidationError{Problems: []string{"quantity must be at least 1"}}
	}
	if !req.MaxPurchasePrice.IsPositive() {
		return nil, &ValidationError{Problems: []string{"max_purchase_price must be greater than 0"}}
	}
	req.Ticker = strings.ToUpper(req.Ticker)
	return req, nil
}

// PurchaseTool only validates and echoes its arguments; preparation and
// execution of the trade happen in the graph.
func PurchaseTool() Tool {
	return Tool{
		Spec: purchaseSpec,
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			req, err := ParsePurchaseRequest(string(args))
			if err != nil {
				return "", err
			}
			return JSONText(map[string]any{"status": "purchase_requested", "request": req})
		},
	}
}

// CancelPurchaseTool discards the pending purchase. While a purchase is
// pending the graph handles the call itself, so reaching the handler means
// there was nothing to cancel.
func CancelPurchaseTool() Tool {
	return Tool{
		Spec: Spec{
			Name: ToolCancelPurchase,
			Desc: "Cancel the purchase awaiting confirmation when the user declines it.",
			Args: []Arg{{Name: "reason", Type: schema.String, Desc: "Why the user declined."}},
		},
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("there is no pending purchase to cancel")
		},
	}
}

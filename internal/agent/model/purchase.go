package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PendingPurchase is a validated, not yet executed simulated trade.
// CallID is the correlation id of the purchase request that produced it.
type PendingPurchase struct {
	CallID           string          `json:"call_id"`
	Ticker           string          `json:"ticker"`
	Quantity         int             `json:"quantity"`
	MaxPurchasePrice decimal.Decimal `json:"max_purchase_price"`
}

// Validate checks the record invariants.
func (p *PendingPurchase) Validate() error {
	if p == nil {
		return errors.New("pending purchase is nil")
	}
	if strings.TrimSpace(p.Ticker) == "" {
		return errors.New("pending purchase has no ticker")
	}
	if p.Quantity < 1 {
		return fmt.Errorf("pending purchase quantity %d must be at least 1", p.Quantity)
	}
	if !p.MaxPurchasePrice.IsPositive() {
		return fmt.Errorf("pending purchase max price %s must be positive", p.MaxPurchasePrice)
	}
	return nil
}

// Clone returns an independent copy.
func (p *PendingPurchase) Clone() *PendingPurchase {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Order is the record of an executed simulated trade.
type Order struct {
	ID               string          `json:"id"`
	Ticker           string          `json:"ticker"`
	Quantity         int             `json:"quantity"`
	MaxPurchasePrice decimal.Decimal `json:"max_purchase_price"`
	RequestCallID    string          `json:"request_call_id"`
}

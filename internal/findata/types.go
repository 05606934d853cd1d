package findata

import "errors"

// ErrMalformedSnapshot reports a snapshot payload without a numeric price.
var ErrMalformedSnapshot = errors.New("price snapshot has no numeric price")

// PriceSnapshot is the current quote of a ticker.
type PriceSnapshot struct {
	Ticker           string  `json:"ticker"`
	Price            float64 `json:"price"`
	DayChange        float64 `json:"day_change"`
	DayChangePercent float64 `json:"day_change_percent"`
	Time             string  `json:"time"`
}

// StatementQuery selects periodic statements or metrics for a ticker.
type StatementQuery struct {
	Ticker string
	Period string
	Limit  int
}

// PriceQuery selects historical prices for a ticker.
type PriceQuery struct {
	Ticker             string
	Interval           string
	IntervalMultiplier int
	StartDate          string
	EndDate            string
}

// FilingsQuery selects SEC filings by ticker or CIK.
type FilingsQuery struct {
	Ticker     string
	CIK        string
	FilingType string
	Limit      int
}

// SearchFilter is one criterion of a financial search.
type SearchFilter struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

// SearchRequest is the body of a multi-criteria financial search.
type SearchRequest struct {
	Filters    []SearchFilter `json:"filters"`
	Period     string         `json:"period,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	OrderBy    string         `json:"order_by,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	Historical bool           `json:"historical,omitempty"`
}

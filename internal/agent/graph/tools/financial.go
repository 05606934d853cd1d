package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/stockbroker-core/server/internal/findata"
)

// FinancialData is the financial datasets collaborator.
type FinancialData interface {
	IncomeStatements(ctx context.Context, q findata.StatementQuery) (string, error)
	BalanceSheets(ctx context.Context, q findata.StatementQuery) (string, error)
	CashFlowStatements(ctx context.Context, q findata.StatementQuery) (string, error)
	FinancialMetrics(ctx context.Context, q findata.StatementQuery) (string, error)
	CompanyFacts(ctx context.Context, ticker string) (string, error)
	CompanyNews(ctx context.Context, ticker string, limit int) (string, error)
	Prices(ctx context.Context, q findata.PriceQuery) (string, error)
	SnapshotText(ctx context.Context, ticker string) (string, error)
	Filings(ctx context.Context, q findata.FilingsQuery) (string, error)
	Tickers(ctx context.Context) (string, error)
	Search(ctx context.Context, req findata.SearchRequest) (string, error)
}

var periods = []string{"annual", "quarterly", "ttm"}

func tickerArg() Arg {
	return Arg{Name: "ticker", Type: schema.String, Desc: "Stock ticker symbol, e.g. AAPL.", Required: true}
}

func statementArgs() []Arg {
	return []Arg{
		tickerArg(),
		{Name: "period", Type: schema.String, Desc: "Reporting period.", Enum: periods, Default: "annual"},
		{Name: "limit", Type: schema.Integer, Desc: "Number of periods to return.", Default: 5},
	}
}

type statementInput struct {
	Ticker string `json:"ticker" validate:"required"`
	Period string `json:"period" validate:"oneof=annual quarterly ttm"`
	Limit  int    `json:"limit" validate:"min=1,max=100"`
}

func (in *statementInput) query() findata.StatementQuery {
	return findata.StatementQuery{Ticker: strings.ToUpper(in.Ticker), Period: in.Period, Limit: in.Limit}
}

type tickerInput struct {
	Ticker string `json:"ticker" validate:"required"`
}

func statementTool(name, desc string, fetch func(context.Context, findata.StatementQuery) (string, error)) Tool {
	return Tool{
		Spec: Spec{Name: name, Desc: desc, Args: statementArgs()},
		Handler: Typed(func(ctx context.Context, in *statementInput) (string, error) {
			return fetch(ctx, in.query())
		}),
	}
}

// FinancialTools returns the financial data lookups backed by fd.
func FinancialTools(fd FinancialData) []Tool {
	return []Tool{
		statementTool(ToolIncomeStatements,
			"Retrieve income statements (revenue, expenses, net income) for a company.",
			fd.IncomeStatements),
		statementTool(ToolBalanceSheets,
			"Retrieve balance sheets (assets, liabilities, equity) for a company.",
			fd.BalanceSheets),
		statementTool(ToolCashFlowStatements,
			"Retrieve cash flow statements (operating, investing, financing cash flows) for a company.",
			fd.CashFlowStatements),
		statementTool(ToolFinancialMetrics,
			"Retrieve financial metrics such as P/E ratio, margins, growth and returns for a company.",
			fd.FinancialMetrics),
		{
			Spec: Spec{
				Name: ToolCompanyFacts,
				Desc: "Retrieve company facts: name, CIK, sector, industry, exchange, employees, market cap.",
				Args: []Arg{tickerArg()},
			},
			Handler: Typed(func(ctx context.Context, in *tickerInput) (string, error) {
				return fd.CompanyFacts(ctx, strings.ToUpper(in.Ticker))
			}),
		},
		{
			Spec: Spec{
				Name: ToolPriceSnapshot,
				Desc: "Retrieve the current price snapshot (price, day change) for a ticker.",
				Args: []Arg{tickerArg()},
			},
			Handler: Typed(func(ctx context.Context, in *tickerInput) (string, error) {
				return fd.SnapshotText(ctx, strings.ToUpper(in.Ticker))
			}),
		},
		stockPricesTool(fd),
		companyNewsTool(fd),
		financialSearchTool(fd),
		filingsTool(fd),
		{
			Spec: Spec{
				Name: ToolAvailableTickers,
				Desc: "List every ticker for which financial data is available.",
			},
			Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
				return fd.Tickers(ctx)
			},
		},
	}
}

type pricesInput struct {
	Ticker             string `json:"ticker" validate:"required"`
	Interval           string `json:"interval" validate:"oneof=second minute day week month year"`
	IntervalMultiplier int    `json:"interval_multiplier" validate:"min=1"`
	StartDate          string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate            string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func stockPricesTool(fd FinancialData) Tool {
	return Tool{
		Spec: Spec{
			Name: ToolStockPrices,
			Desc: "Retrieve historical price bars for a ticker between two dates.",
			Args: []Arg{
				tickerArg(),
				{Name: "interval", Type: schema.String, Desc: "Bar interval.", Enum: []string{"second", "minute", "day", "week", "month", "year"}, Default: "day"},
				{Name: "interval_multiplier", Type: schema.Integer, Desc: "Multiplier of the interval, e.g. 5 with minute for 5-minute bars.", Default: 1},
				{Name: "start_date", Type: schema.String, Desc: "Start date, YYYY-MM-DD.", Required: true},
				{Name: "end_date", Type: schema.String, Desc: "End date, YYYY-MM-DD.", Required: true},
			},
		},
		Handler: Typed(func(ctx context.Context, in *pricesInput) (string, error) {
			return fd.Prices(ctx, findata.PriceQuery{
				Ticker:             strings.ToUpper(in.Ticker),
				Interval:           in.Interval,
				IntervalMultiplier: in.IntervalMultiplier,
				StartDate:          in.StartDate,
				EndDate:            in.EndDate,
			})
		}),
	}
}

type newsInput struct {
	Ticker string `json:"ticker" validate:"required"`
	Limit  int    `json:"limit" validate:"min=1,max=100"`
}

func companyNewsTool(fd FinancialData) Tool {
	return Tool{
		Spec: Spec{
			Name: ToolCompanyNews,
			Desc: "Retrieve recent news articles about a company.",
			Args: []Arg{
				tickerArg(),
				{Name: "limit", Type: schema.Integer, Desc: "Number of articles.", Default: 5},
			},
		},
		Handler: Typed(func(ctx context.Context, in *newsInput) (string, error) {
			return fd.CompanyNews(ctx, strings.ToUpper(in.Ticker), in.Limit)
		}),
	}
}

type searchInput struct {
	Filters    []findata.SearchFilter `json:"filters" validate:"required,min=1,dive"`
	Period     string                 `json:"period" validate:"oneof=annual quarterly ttm"`
	Limit      int                    `json:"limit" validate:"min=1,max=100"`
	OrderBy    string                 `json:"order_by"`
	Currency   string                 `json:"currency"`
	Historical bool                   `json:"historical"`
}

func financialSearchTool(fd FinancialData) Tool {
	return Tool{
		Spec: Spec{
			Name: ToolFinancialSearch,
			Desc: "Screen companies by financial criteria, e.g. revenue greater than 1B and net income greater than 0.",
			Args: []Arg{
				{
					Name:     "filters",
					Type:     schema.Array,
					Desc:     "Criteria that every result must satisfy.",
					Required: true,
					Elem: &Arg{
						Type: schema.Object,
						Desc: "One criterion.",
						Fields: []Arg{
							{Name: "field", Type: schema.String, Desc: "Financial line item, e.g. revenue, net_income, total_debt.", Required: true},
							{Name: "operator", Type: schema.String, Desc: "Comparison operator.", Enum: []string{"eq", "gt", "gte", "lt", "lte"}, Required: true},
							{Name: "value", Type: schema.Number, Desc: "Value to compare against.", Required: true},
						},
					},
				},
				{Name: "period", Type: schema.String, Desc: "Reporting period.", Enum: periods, Default: "ttm"},
				{Name: "limit", Type: schema.Integer, Desc: "Maximum number of results.", Default: 5},
				{Name: "order_by", Type: schema.String, Desc: "Sort order; prefix with - for descending.", Default: "-report_period"},
				{Name: "currency", Type: schema.String, Desc: "Reporting currency filter, e.g. USD."},
				{Name: "historical", Type: schema.Boolean, Desc: "Search across historical periods instead of the latest only.", Default: false},
			},
		},
		Handler: Typed(func(ctx context.Context, in *searchInput) (string, error) {
			return fd.Search(ctx, findata.SearchRequest{
				Filters:    in.Filters,
				Period:     in.Period,
				Limit:      in.Limit,
				OrderBy:    in.OrderBy,
				Currency:   strings.ToUpper(in.Currency),
				Historical: in.Historical,
			})
		}),
	}
}

type filingsInput struct {
	Ticker     string `json:"ticker" validate:"required_without=CIK"`
	CIK        string `json:"cik" validate:"required_without=Ticker"`
	FilingType string `json:"filing_type"`
	Limit      int    `json:"limit" validate:"min=1,max=100"`
}

func filingsTool(fd FinancialData) Tool {
	return Tool{
		Spec: Spec{
			Name: ToolFilings,
			Desc: "Retrieve SEC filings for a company by ticker or CIK.",
			Args: []Arg{
				{Name: "ticker", Type: schema.String, Desc: "Stock ticker symbol. Either ticker or cik is required."},
				{Name: "cik", Type: schema.String, Desc: "SEC Central Index Key. Either ticker or cik is required."},
				{Name: "filing_type", Type: schema.String, Desc: "Filing type filter.", Enum: []string{"10-K", "10-Q", "8-K"}},
				{Name: "limit", Type: schema.Integer, Desc: "Maximum number of filings.", Default: 10},
			},
		},
		Handler: Typed(func(ctx context.Context, in *filingsInput) (string, error) {
			return fd.Filings(ctx, findata.FilingsQuery{
				Ticker:     strings.ToUpper(in.Ticker),
				CIK:        in.CIK,
				FilingType: in.FilingType,
				Limit:      in.Limit,
			})
		}),
	}
}

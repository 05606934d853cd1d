package tools

// Tool names as exposed to the reasoning engine.
const (
	ToolIncomeStatements   = "income_statements"
	ToolBalanceSheets      = "balance_sheets"
	ToolCashFlowStatements = "cash_flow_statements"
	ToolCompanyFacts       = "company_facts"
	ToolFinancialMetrics   = "financial_metrics"
	ToolPriceSnapshot      = "price_snapshot"
	ToolStockPrices        = "stock_prices"
	ToolCompanyNews        = "company_news"
	ToolFinancialSearch    = "financial_search"
	ToolFilings            = "filings"
	ToolAvailableTickers   = "available_tickers"
	ToolWebSearch          = "web_search"
	ToolPurchaseStock      = "purchase_stock"
	ToolCancelPurchase     = "cancel_purchase"
)

// IsPurchaseRequest reports whether name is the purchase-request operation.
func IsPurchaseRequest(name string) bool {
	return name == ToolPurchaseStock
}

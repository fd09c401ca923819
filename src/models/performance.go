package models

// Price statuses on a valued holding.
const (
	PriceStatusOK          = "OK"
	PriceStatusUnavailable = "UNAVAILABLE"
)

// HoldingValuation is one open position priced for the snapshot response.
// A position whose price could not be resolved is still returned, flagged
// UNAVAILABLE and excluded from the aggregate totals.
type HoldingValuation struct {
	Symbol            string  `json:"symbol"`
	Quantity          float64 `json:"quantity"`
	TotalCostBasis    float64 `json:"total_cost_basis"`
	CurrentPrice      float64 `json:"current_price"`
	PriceDate         string  `json:"price_date,omitempty"`
	MarketValue       float64 `json:"market_value"`
	GainLoss          float64 `json:"gain_loss"`
	GainLossPercent   float64 `json:"gain_loss_percent"`
	RealizedPnL       float64 `json:"realized_pnl"`
	DividendsReceived float64 `json:"dividends_received"`
	Status            string  `json:"status"`
}

// PortfolioSnapshot is the current-holdings response. HasData false means
// the user has no transactions at all, which is an explicit empty result
// and not an error.
type PortfolioSnapshot struct {
	Holdings             []HoldingValuation `json:"holdings"`
	TotalValue           float64            `json:"total_value"`
	TotalCostBasis       float64            `json:"total_cost_basis"`
	TotalGainLoss        float64            `json:"total_gain_loss"`
	TotalGainLossPercent float64            `json:"total_gain_loss_percent"`
	TotalRealizedPnL     float64            `json:"total_realized_pnl"`
	TotalDividends       float64            `json:"total_dividends"`
	HasData              bool               `json:"has_data"`
	Warnings             []Warning          `json:"warnings,omitempty"`
}

// TimeSeriesPoint is one daily valuation.
type TimeSeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// TimeSeriesResult holds the portfolio series and, when requested, the
// benchmark series rebased to share the portfolio's origin value.
type TimeSeriesResult struct {
	Portfolio []TimeSeriesPoint `json:"portfolio"`
	Benchmark []TimeSeriesPoint `json:"benchmark,omitempty"`
	HasData   bool              `json:"has_data"`
	Warnings  []Warning         `json:"warnings,omitempty"`
}

// PerformanceMetrics is the money-weighted return response. A nil XIRR
// means the solver could not produce a rate; it is never reported as zero.
type PerformanceMetrics struct {
	XIRR                 *float64            `json:"xirr"`
	XIRRPercent          *float64            `json:"xirr_percent"`
	PerSymbolXIRR        map[string]*float64 `json:"per_symbol_xirr"`
	BenchmarkXIRR        *float64            `json:"benchmark_xirr,omitempty"`
	TotalValue           float64             `json:"total_value"`
	TotalInvested        float64             `json:"total_invested"`
	TotalGainLoss        float64             `json:"total_gain_loss"`
	TotalGainLossPercent float64             `json:"total_gain_loss_percent"`
	HasData              bool                `json:"has_data"`
	Warnings             []Warning           `json:"warnings,omitempty"`
}

// RefreshResult reports a price refresh batch outcome.
type RefreshResult struct {
	Updated []string `json:"updated"`
	Failed  []string `json:"failed"`
}

package models

import "time"

// Lot is one remaining slice of a purchase, consumed oldest-first by sells.
type Lot struct {
	Symbol            string    `json:"symbol"`
	QuantityRemaining float64   `json:"quantity_remaining"`
	UnitCost          float64   `json:"unit_cost"`
	AcquiredDate      time.Time `json:"acquired_date"`
}

// Holding is a pure function of the transaction ledger, rebuilt on demand
// and never persisted independently.
type Holding struct {
	Symbol            string  `json:"symbol"`
	Quantity          float64 `json:"quantity"`
	TotalCostBasis    float64 `json:"total_cost_basis"`
	RealizedPnL       float64 `json:"realized_pnl"`
	DividendsReceived float64 `json:"dividends_received"`
	Lots              []Lot   `json:"-"`
}

// Warning codes surfaced by the ledger replay and valuation pipeline.
const (
	WarnOversellClamped  = "OVERSELL_CLAMPED"
	WarnPriceUnavailable = "PRICE_UNAVAILABLE"
	WarnXIRRUnavailable  = "XIRR_UNAVAILABLE"
)

// Warning is a recoverable condition the caller must be able to inspect.
type Warning struct {
	Symbol  string `json:"symbol,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CashFlow is one dated flow for money-weighted return calculations.
// Purchases are negative; proceeds, dividends and the terminal valuation
// are positive.
type CashFlow struct {
	Date   time.Time
	Amount float64
}

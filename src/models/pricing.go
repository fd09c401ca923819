package models

import "time"

// PriceRow is one persisted daily OHLCV bar, keyed by (symbol, date).
// Rows are append-only: once written for a closed trading day they are
// never rewritten.
type PriceRow struct {
	Symbol        string    `json:"symbol"`
	Date          time.Time `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	AdjustedClose float64   `json:"adjusted_close"`
	Volume        int64     `json:"volume"`
}

// Quote is the normalized shape of a provider quote payload. Provider
// specific field names stop at the QuoteSource boundary.
type Quote struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	Change           float64   `json:"change"`
	ChangePercent    float64   `json:"change_percent"`
	Volume           int64     `json:"volume"`
	PreviousClose    float64   `json:"previous_close"`
	Open             float64   `json:"open"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	LatestTradingDay time.Time `json:"latest_trading_day"`
}

// Circuit breaker states.
const (
	CircuitClosed   = "CLOSED"
	CircuitOpen     = "OPEN"
	CircuitHalfOpen = "HALF_OPEN"
)

// CircuitState is the persisted per-service breaker record, shared across
// workers so all of them see the same failure history.
type CircuitState struct {
	Service       string    `json:"service"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
	State         string    `json:"state"`
}

package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Transaction types accepted by the ledger.
const (
	TxTypeBuy      = "BUY"
	TxTypeSell     = "SELL"
	TxTypeDividend = "DIVIDEND"
)

var ErrValidation = errors.New("transaction validation failed")

// Transaction is one immutable entry of a user's append-only ledger.
// Ordering key is (Date, insertion order); rows are never updated in place.
type Transaction struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Symbol       string    `json:"symbol"`
	TxType       string    `json:"transaction_type"`
	Quantity     float64   `json:"quantity"`
	PricePerUnit float64   `json:"price_per_unit"`
	Commission   float64   `json:"commission"`
	Date         time.Time `json:"date"`
	Currency     string    `json:"currency"`
}

// TotalAmount is the derived cash magnitude of the transaction:
// quantity*price plus commission on buys, minus commission on sells.
// Dividends carry no commission so the gross amount is returned as-is.
func (t Transaction) TotalAmount() float64 {
	gross := t.Quantity * t.PricePerUnit
	switch t.TxType {
	case TxTypeBuy:
		return gross + t.Commission
	case TxTypeSell:
		return gross - t.Commission
	default:
		return gross
	}
}

// Validate rejects malformed transactions at ingestion time.
func (t Transaction) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	switch t.TxType {
	case TxTypeBuy, TxTypeSell, TxTypeDividend:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t.TxType)
	}
	if t.Quantity < 0 || math.IsNaN(t.Quantity) || math.IsInf(t.Quantity, 0) {
		return fmt.Errorf("%w: quantity must be >= 0", ErrValidation)
	}
	if t.PricePerUnit < 0 || math.IsNaN(t.PricePerUnit) || math.IsInf(t.PricePerUnit, 0) {
		return fmt.Errorf("%w: price_per_unit must be >= 0", ErrValidation)
	}
	if t.Commission < 0 || math.IsNaN(t.Commission) || math.IsInf(t.Commission, 0) {
		return fmt.Errorf("%w: commission must be >= 0", ErrValidation)
	}
	if t.TxType == TxTypeDividend && t.Commission != 0 {
		return fmt.Errorf("%w: dividends cannot carry a commission", ErrValidation)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	return nil
}

package processors

import (
	"fmt"
	"sort"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

// LedgerResult is a full FIFO replay of one user's ledger. Open holds
// positions with quantity > 0; Closed retains realized PnL and dividend
// totals for symbols that ended at zero so they stay queryable.
type LedgerResult struct {
	Open     map[string]*models.Holding
	Closed   map[string]*models.Holding
	Warnings []models.Warning
}

// Holdings merges open and closed positions into one map, open positions
// taking precedence.
func (r *LedgerResult) Holdings() map[string]*models.Holding {
	out := make(map[string]*models.Holding, len(r.Open)+len(r.Closed))
	for s, h := range r.Closed {
		out[s] = h
	}
	for s, h := range r.Open {
		out[s] = h
	}
	return out
}

type LedgerProcessor struct{}

func NewLedgerProcessor() *LedgerProcessor {
	return &LedgerProcessor{}
}

// Process replays the transaction log in date order (insertion order as the
// stable tie-break) and derives holdings, FIFO lots, realized PnL and
// dividend totals. The input slice is not modified.
func (p *LedgerProcessor) Process(transactions []models.Transaction) *LedgerResult {
	sorted := make([]models.Transaction, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	holdings := make(map[string]*models.Holding)
	var warnings []models.Warning

	get := func(symbol string) *models.Holding {
		h, ok := holdings[symbol]
		if !ok {
			h = &models.Holding{Symbol: symbol}
			holdings[symbol] = h
		}
		return h
	}

	for _, tx := range sorted {
		h := get(tx.Symbol)

		switch tx.TxType {
		case models.TxTypeBuy:
			h.Lots = append(h.Lots, models.Lot{
				Symbol:            tx.Symbol,
				QuantityRemaining: tx.Quantity,
				UnitCost:          tx.PricePerUnit,
				AcquiredDate:      tx.Date,
			})
			h.Quantity += tx.Quantity
			h.TotalCostBasis += tx.Quantity*tx.PricePerUnit + tx.Commission

		case models.TxTypeSell:
			remaining := tx.Quantity
			if remaining > h.Quantity {
				warnings = append(warnings, models.Warning{
					Symbol: tx.Symbol,
					Code:   models.WarnOversellClamped,
					Message: fmt.Sprintf("sell of %.4f exceeds held %.4f on %s; position clamped to zero",
						tx.Quantity, h.Quantity, tx.Date.Format("2006-01-02")),
				})
				logger.L.Warn("Oversell clamped during ledger replay",
					"symbol", tx.Symbol, "sellQty", tx.Quantity, "heldQty", h.Quantity, "date", tx.Date)
				remaining = h.Quantity
			}

			for remaining > 0 && len(h.Lots) > 0 {
				lot := &h.Lots[0]
				consumed := remaining
				if lot.QuantityRemaining < consumed {
					consumed = lot.QuantityRemaining
				}

				h.RealizedPnL += (tx.PricePerUnit - lot.UnitCost) * consumed
				h.TotalCostBasis -= consumed * lot.UnitCost
				lot.QuantityRemaining -= consumed
				remaining -= consumed

				if lot.QuantityRemaining <= 0 {
					h.Lots = h.Lots[1:]
				}
			}
			h.Quantity -= tx.Quantity
			if h.Quantity < 0 {
				h.Quantity = 0
			}
			if h.Quantity == 0 {
				h.TotalCostBasis = 0
				h.Lots = nil
			}

		case models.TxTypeDividend:
			h.DividendsReceived += tx.Quantity * tx.PricePerUnit
		}
	}

	result := &LedgerResult{
		Open:     make(map[string]*models.Holding),
		Closed:   make(map[string]*models.Holding),
		Warnings: warnings,
	}
	for symbol, h := range holdings {
		if h.Quantity > 0 {
			result.Open[symbol] = h
		} else {
			result.Closed[symbol] = h
		}
	}
	return result
}

// HoldingsAsOf replays only the transactions dated on or before asOf and
// returns per-symbol quantities. Used for point-in-time valuation when
// building portfolio time series.
func (p *LedgerProcessor) HoldingsAsOf(transactions []models.Transaction, asOf time.Time) map[string]float64 {
	quantities := make(map[string]float64)
	for _, tx := range transactions {
		if tx.Date.After(asOf) {
			continue
		}
		switch tx.TxType {
		case models.TxTypeBuy:
			quantities[tx.Symbol] += tx.Quantity
		case models.TxTypeSell:
			quantities[tx.Symbol] -= tx.Quantity
			if quantities[tx.Symbol] < 0 {
				quantities[tx.Symbol] = 0
			}
		}
	}
	for symbol, qty := range quantities {
		if qty <= 0 {
			delete(quantities, symbol)
		}
	}
	return quantities
}

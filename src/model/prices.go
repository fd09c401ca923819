package model

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

// QueryPriceRows returns the stored daily bars for a symbol within
// [start, end], ascending by date.
func QueryPriceRows(db *sql.DB, symbol string, start, end time.Time) ([]models.PriceRow, error) {
	rows, err := db.Query(`
		SELECT symbol, date, open, high, low, close, adjusted_close, volume
		FROM historical_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("querying price rows for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanPriceRows(rows)
}

// UpsertPriceRows bulk-inserts daily bars. Existing (symbol, date) rows are
// left untouched (INSERT OR IGNORE) so historical data is fixed once
// written and concurrent gap-fillers converge on identical content.
// Returns the number of rows actually inserted.
func UpsertPriceRows(db *sql.DB, priceRows []models.PriceRow) (int, error) {
	if len(priceRows) == 0 {
		return 0, nil
	}

	dbTx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning price upsert transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.Prepare(`
		INSERT OR IGNORE INTO historical_prices (symbol, date, open, high, low, close, adjusted_close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing price upsert statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range priceRows {
		res, err := stmt.Exec(r.Symbol, r.Date.Format(dateLayout), r.Open, r.High, r.Low,
			r.Close, r.AdjustedClose, r.Volume)
		if err != nil {
			return inserted, fmt.Errorf("upserting price row %s/%s: %w", r.Symbol, r.Date.Format(dateLayout), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := dbTx.Commit(); err != nil {
		return inserted, fmt.Errorf("committing price upsert: %w", err)
	}
	return inserted, nil
}

// LatestPricesWithin returns, per symbol, the most recent stored bar whose
// date is within maxAgeDays of asOf. One batched query for all symbols.
func LatestPricesWithin(db *sql.DB, symbols []string, asOf time.Time, maxAgeDays int) (map[string]models.PriceRow, error) {
	result := make(map[string]models.PriceRow)
	if len(symbols) == 0 {
		return result, nil
	}

	cutoff := asOf.AddDate(0, 0, -maxAgeDays)

	// Batch lookup via IN clause with the right number of placeholders.
	query := `
		SELECT p.symbol, p.date, p.open, p.high, p.low, p.close, p.adjusted_close, p.volume
		FROM historical_prices p
		JOIN (
			SELECT symbol, MAX(date) AS max_date
			FROM historical_prices
			WHERE symbol IN (?` + strings.Repeat(",?", len(symbols)-1) + `)
			  AND date >= ? AND date <= ?
			GROUP BY symbol
		) latest ON p.symbol = latest.symbol AND p.date = latest.max_date`

	args := make([]interface{}, 0, len(symbols)+2)
	for _, s := range symbols {
		args = append(args, s)
	}
	args = append(args, cutoff.Format(dateLayout), asOf.Format(dateLayout))

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch querying latest prices: %w", err)
	}
	defer rows.Close()

	priceRows, err := scanPriceRows(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range priceRows {
		result[r.Symbol] = r
	}
	return result, nil
}

// LatestPrice returns the most recent stored bar for one symbol on or
// before asOf, or sql.ErrNoRows if none exists.
func LatestPrice(db *sql.DB, symbol string, asOf time.Time) (models.PriceRow, error) {
	row := db.QueryRow(`
		SELECT symbol, date, open, high, low, close, adjusted_close, volume
		FROM historical_prices
		WHERE symbol = ? AND date <= ?
		ORDER BY date DESC LIMIT 1`,
		symbol, asOf.Format(dateLayout))

	var r models.PriceRow
	var dateStr string
	if err := row.Scan(&r.Symbol, &dateStr, &r.Open, &r.High, &r.Low, &r.Close, &r.AdjustedClose, &r.Volume); err != nil {
		return models.PriceRow{}, err
	}
	d, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return models.PriceRow{}, fmt.Errorf("parsing price date %q: %w", dateStr, err)
	}
	r.Date = d
	return r, nil
}

func scanPriceRows(rows *sql.Rows) ([]models.PriceRow, error) {
	var out []models.PriceRow
	for rows.Next() {
		var r models.PriceRow
		var dateStr string
		if err := rows.Scan(&r.Symbol, &dateStr, &r.Open, &r.High, &r.Low, &r.Close, &r.AdjustedClose, &r.Volume); err != nil {
			return nil, fmt.Errorf("scanning price row: %w", err)
		}
		d, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing price date %q: %w", dateStr, err)
		}
		r.Date = d
		out = append(out, r)
	}
	return out, rows.Err()
}

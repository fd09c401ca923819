package model

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

const dateLayout = "2006-01-02"

// InsertTransaction appends one validated transaction to the ledger.
func InsertTransaction(db *sql.DB, tx models.Transaction) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO transactions (user_id, symbol, transaction_type, quantity, price_per_unit, commission, date, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, tx.Symbol, tx.TxType, tx.Quantity, tx.PricePerUnit, tx.Commission,
		tx.Date.Format(dateLayout), tx.Currency)
	if err != nil {
		return 0, fmt.Errorf("inserting transaction: %w", err)
	}
	return res.LastInsertId()
}

// ListTransactionsByUser returns the user's full ledger ordered by date,
// with insertion order (the autoincrement id) as the stable tie-break.
func ListTransactionsByUser(db *sql.DB, userID int64) ([]models.Transaction, error) {
	rows, err := db.Query(`
		SELECT id, user_id, symbol, transaction_type, quantity, price_per_unit, commission, date, currency
		FROM transactions WHERE user_id = ? ORDER BY date ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying transactions for user %d: %w", userID, err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var dateStr string
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Symbol, &tx.TxType, &tx.Quantity,
			&tx.PricePerUnit, &tx.Commission, &dateStr, &tx.Currency); err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		d, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing transaction date %q: %w", dateStr, err)
		}
		tx.Date = d
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// DeleteTransactionsByUser removes a user's entire ledger. Used by the
// delete-all endpoint only; individual rows are never deleted.
func DeleteTransactionsByUser(db *sql.DB, userID int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM transactions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting transactions for user %d: %w", userID, err)
	}
	return res.RowsAffected()
}

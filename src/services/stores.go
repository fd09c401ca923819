package services

import (
	"database/sql"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/model"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

// SQL-backed capability implementations wrapping the model package.

type sqlTransactionStore struct{ db *sql.DB }

func NewSQLTransactionStore(db *sql.DB) TransactionStore {
	return &sqlTransactionStore{db: db}
}

func (s *sqlTransactionStore) ListByUser(userID int64) ([]models.Transaction, error) {
	return model.ListTransactionsByUser(s.db, userID)
}

func (s *sqlTransactionStore) Insert(tx models.Transaction) (int64, error) {
	return model.InsertTransaction(s.db, tx)
}

func (s *sqlTransactionStore) DeleteByUser(userID int64) (int64, error) {
	return model.DeleteTransactionsByUser(s.db, userID)
}

type sqlPriceStore struct{ db *sql.DB }

func NewSQLPriceStore(db *sql.DB) PriceStore {
	return &sqlPriceStore{db: db}
}

func (s *sqlPriceStore) Query(symbol string, start, end time.Time) ([]models.PriceRow, error) {
	return model.QueryPriceRows(s.db, symbol, start, end)
}

func (s *sqlPriceStore) Upsert(rows []models.PriceRow) (int, error) {
	return model.UpsertPriceRows(s.db, rows)
}

func (s *sqlPriceStore) LatestWithin(symbols []string, asOf time.Time, maxAgeDays int) (map[string]models.PriceRow, error) {
	return model.LatestPricesWithin(s.db, symbols, asOf, maxAgeDays)
}

func (s *sqlPriceStore) Latest(symbol string, asOf time.Time) (models.PriceRow, bool, error) {
	row, err := model.LatestPrice(s.db, symbol, asOf)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.PriceRow{}, false, nil
		}
		return models.PriceRow{}, false, err
	}
	return row, true, nil
}

type sqlBreakerStore struct{ db *sql.DB }

func NewSQLBreakerStore(db *sql.DB) BreakerStore {
	return &sqlBreakerStore{db: db}
}

func (s *sqlBreakerStore) GetState(service string) (models.CircuitState, error) {
	return model.GetCircuitState(s.db, service)
}

func (s *sqlBreakerStore) SaveState(st models.CircuitState) error {
	return model.SaveCircuitState(s.db, st)
}

type sqlRefreshStore struct{ db *sql.DB }

func NewSQLRefreshStore(db *sql.DB) RefreshStore {
	return &sqlRefreshStore{db: db}
}

func (s *sqlRefreshStore) LastRefresh(userID int64) (time.Time, error) {
	return model.GetLastRefresh(s.db, userID)
}

func (s *sqlRefreshStore) SetLastRefresh(userID int64, at time.Time) error {
	return model.SetLastRefresh(s.db, userID, at)
}

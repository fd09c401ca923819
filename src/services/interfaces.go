package services

import (
	"context"
	"errors"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

// Recoverable condition classes. Component-local failures are absorbed at
// the component boundary and surfaced as warnings; only store-unreachable
// or malformed-input conditions abort a whole request.
var (
	ErrDataUnavailable = errors.New("no price data available")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrInvalidSymbol   = errors.New("invalid symbol")
	ErrAuthFailed      = errors.New("provider authentication failed")
	ErrTransient       = errors.New("transient provider error")
)

// TransactionStore lists and appends ledger entries.
type TransactionStore interface {
	ListByUser(userID int64) ([]models.Transaction, error)
	Insert(tx models.Transaction) (int64, error)
	DeleteByUser(userID int64) (int64, error)
}

// PriceStore persists daily OHLCV bars keyed by (symbol, date).
type PriceStore interface {
	Query(symbol string, start, end time.Time) ([]models.PriceRow, error)
	Upsert(rows []models.PriceRow) (int, error)
	// LatestWithin returns per symbol the most recent bar no older than
	// maxAgeDays, in a single batched query.
	LatestWithin(symbols []string, asOf time.Time, maxAgeDays int) (map[string]models.PriceRow, error)
	Latest(symbol string, asOf time.Time) (models.PriceRow, bool, error)
}

// QuoteSource is the raw external market-data capability. Implementations
// normalize provider payloads into models.Quote / models.PriceRow at this
// boundary.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	DailySeries(ctx context.Context, symbol string) ([]models.PriceRow, error)
}

// BreakerStore persists circuit breaker state centrally so concurrent
// workers share one view of a failing dependency.
type BreakerStore interface {
	GetState(service string) (models.CircuitState, error)
	SaveState(st models.CircuitState) error
}

// RefreshStore records per-user refresh timestamps (backoff-as-data).
type RefreshStore interface {
	LastRefresh(userID int64) (time.Time, error)
	SetLastRefresh(userID int64, at time.Time) error
}

// HolidaySource supplies exchange holiday dates for a year, keyed
// "2006-01-02". Loaded lazily by the market calendar.
type HolidaySource interface {
	Holidays(exchange string, year int) (map[string]bool, error)
}

// PerformanceService is the orchestrating engine behind the portfolio API.
type PerformanceService interface {
	CurrentHoldings(ctx context.Context, userID int64) (*models.PortfolioSnapshot, error)
	TimeSeries(ctx context.Context, userID int64, rangeKey, benchmark string) (*models.TimeSeriesResult, error)
	PerformanceMetrics(ctx context.Context, userID int64, benchmark string) (*models.PerformanceMetrics, error)
	RefreshPrices(ctx context.Context, userID int64, symbols []string) (*models.RefreshResult, error)
}

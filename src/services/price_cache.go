package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
	"github.com/patrickmn/go-cache"
)

// Breaker service name for the external quote provider.
const QuoteProviderService = "quote_provider"

const (
	quoteKeyPrefix     = "quote_"
	lastKnownKeyPrefix = "last_known_"

	CacheCleanupInterval = 30 * time.Minute
)

// PriceCacheTTLs selects the quote TTL by market state: quotes go stale
// fast while the market trades, slowly on closed weekdays, and barely at
// all over the weekend.
type PriceCacheTTLs struct {
	MarketOpen   time.Duration
	MarketClosed time.Duration
	Weekend      time.Duration
}

// PriceCache serves current and historical prices. Current quotes come
// from a TTL cache backed by breaker-guarded provider fetches; historical
// ranges come from the PriceStore with gap-filling for missing tail
// sessions. A wrong price is never served silently: every fallback path
// either returns the last known real value or an explicit error.
type PriceCache struct {
	quotes     *cache.Cache
	store      PriceStore
	source     QuoteSource
	breaker    *CircuitBreaker
	calendar   *MarketCalendar
	ttls       PriceCacheTTLs
	maxAgeDays int
	now        func() time.Time
}

func NewPriceCache(store PriceStore, source QuoteSource, breaker *CircuitBreaker, calendar *MarketCalendar, ttls PriceCacheTTLs, maxAgeDays int) *PriceCache {
	return &PriceCache{
		quotes:     cache.New(cache.NoExpiration, CacheCleanupInterval),
		store:      store,
		source:     source,
		breaker:    breaker,
		calendar:   calendar,
		ttls:       ttls,
		maxAgeDays: maxAgeDays,
		now:        time.Now,
	}
}

// GetCurrentPrice returns a quote for the symbol, fetching from the
// provider only on cache miss/expiry and only while the breaker allows it.
// On fetch failure the last known cached value is served if one exists;
// a price is never fabricated.
func (c *PriceCache) GetCurrentPrice(ctx context.Context, symbol string) (models.Quote, error) {
	if v, found := c.quotes.Get(quoteKeyPrefix + symbol); found {
		return v.(models.Quote), nil
	}

	if c.breaker.IsOpen(QuoteProviderService) {
		if q, ok := c.lastKnown(symbol); ok {
			logger.L.Warn("Circuit open, serving last known quote", "symbol", symbol)
			return q, nil
		}
		return models.Quote{}, fmt.Errorf("%w: no cached quote for %s", ErrCircuitOpen, symbol)
	}

	quote, err := c.source.Quote(ctx, symbol)
	if err == nil && !validPrice(quote.Price) {
		err = fmt.Errorf("%w: provider returned invalid price %v for %s", ErrTransient, quote.Price, symbol)
	}
	if err != nil {
		c.breaker.RecordFailure(QuoteProviderService)
		logger.L.Warn("Quote fetch failed", "symbol", symbol, "error", err)
		if q, ok := c.lastKnown(symbol); ok {
			logger.L.Info("Serving last known quote after fetch failure", "symbol", symbol)
			return q, nil
		}
		return models.Quote{}, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	c.breaker.RecordSuccess(QuoteProviderService)

	c.quotes.Set(quoteKeyPrefix+symbol, quote, c.ttlFor(c.now()))
	c.quotes.Set(lastKnownKeyPrefix+symbol, quote, cache.NoExpiration)
	return quote, nil
}

// RefreshQuote bypasses the TTL cache, fetches a fresh quote, and persists
// it as the bar for its latest trading day so valuations survive provider
// outages.
func (c *PriceCache) RefreshQuote(ctx context.Context, symbol string) (models.Quote, error) {
	c.quotes.Delete(quoteKeyPrefix + symbol)

	quote, err := c.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return models.Quote{}, err
	}

	date := quote.LatestTradingDay
	if date.IsZero() {
		date = c.calendar.LastTradingDay(defaultExchange, c.now())
	}
	row := models.PriceRow{
		Symbol:        quote.Symbol,
		Date:          date,
		Open:          quote.Open,
		High:          quote.High,
		Low:           quote.Low,
		Close:         quote.Price,
		AdjustedClose: quote.Price,
		Volume:        quote.Volume,
	}
	if _, err := c.store.Upsert([]models.PriceRow{row}); err != nil {
		logger.L.Warn("Failed to persist refreshed quote", "symbol", symbol, "error", err)
	}
	return quote, nil
}

// GetHistoricalPrices returns stored bars for [start, end], gap-filling
// the tail from the provider when sessions up to the last trading day are
// missing. Gap-fill writes are additive and idempotent; an existing
// (symbol, date) row is never overwritten.
func (c *PriceCache) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceRow, error) {
	rows, err := c.store.Query(symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("price store query for %s: %w", symbol, err)
	}

	target := c.calendar.LastTradingDay(defaultExchange, minTime(end, c.now()))
	if len(rows) > 0 && !rows[len(rows)-1].Date.Before(target) {
		return rows, nil
	}

	if c.breaker.IsOpen(QuoteProviderService) {
		if len(rows) > 0 {
			logger.L.Warn("Circuit open, serving partial historical range", "symbol", symbol)
			return rows, nil
		}
		return nil, fmt.Errorf("%w: no stored history for %s", ErrCircuitOpen, symbol)
	}

	series, err := c.source.DailySeries(ctx, symbol)
	if err != nil {
		c.breaker.RecordFailure(QuoteProviderService)
		logger.L.Warn("Gap-fill fetch failed", "symbol", symbol, "error", err)
		if len(rows) > 0 {
			return rows, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	c.breaker.RecordSuccess(QuoteProviderService)

	valid := make([]models.PriceRow, 0, len(series))
	for _, r := range series {
		if !validPrice(r.Close) {
			logger.L.Warn("Dropping fetched bar with invalid close", "symbol", symbol, "date", r.Date)
			continue
		}
		valid = append(valid, r)
	}
	inserted, err := c.store.Upsert(valid)
	if err != nil {
		return nil, fmt.Errorf("persisting gap-filled prices for %s: %w", symbol, err)
	}
	logger.L.Info("Gap-filled historical prices", "symbol", symbol, "fetched", len(valid), "inserted", inserted)

	rows, err = c.store.Query(symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("re-reading price store for %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s in range after gap-fill", ErrDataUnavailable, symbol)
	}
	return rows, nil
}

// GetBatchPrices resolves the most recent stored bar per symbol in one
// batched store query, falling back to per-symbol lookups only if the
// batch query itself fails. Symbols without a recent enough bar are simply
// absent from the result.
func (c *PriceCache) GetBatchPrices(ctx context.Context, symbols []string) (map[string]models.PriceRow, error) {
	asOf := c.now()
	result, err := c.store.LatestWithin(symbols, asOf, c.maxAgeDays)
	if err == nil {
		return result, nil
	}
	logger.L.Warn("Batch price query failed, falling back to per-symbol lookups", "error", err)

	cutoff := asOf.AddDate(0, 0, -c.maxAgeDays)
	result = make(map[string]models.PriceRow, len(symbols))
	for _, symbol := range symbols {
		row, found, err := c.store.Latest(symbol, asOf)
		if err != nil {
			return nil, fmt.Errorf("per-symbol price lookup for %s: %w", symbol, err)
		}
		if found && !row.Date.Before(cutoff) {
			result[symbol] = row
		}
	}
	return result, nil
}

// InvalidateQuote drops the cached quote for a symbol. The last known
// value is kept for failure fallback.
func (c *PriceCache) InvalidateQuote(symbol string) {
	c.quotes.Delete(quoteKeyPrefix + symbol)
}

func (c *PriceCache) lastKnown(symbol string) (models.Quote, bool) {
	if v, found := c.quotes.Get(lastKnownKeyPrefix + symbol); found {
		return v.(models.Quote), true
	}
	return models.Quote{}, false
}

func (c *PriceCache) ttlFor(at time.Time) time.Duration {
	if c.calendar.IsWeekend(defaultExchange, at) {
		return c.ttls.Weekend
	}
	if c.calendar.IsOpen(defaultExchange, at) {
		return c.ttls.MarketOpen
	}
	return c.ttls.MarketClosed
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
	"github.com/mike2153/portfolio-tracker-sub000/src/processors"
	"github.com/mike2153/portfolio-tracker-sub000/src/utils"
	"golang.org/x/time/rate"
)

const xirrDefaultGuess = 0.1

// How many calendar days before a range start to pull history, so
// closest-on-or-before pricing has data at the origin.
const historyLeadDays = 14

// performanceServiceImpl orchestrates ledger replay, pricing, XIRR and
// benchmark rebasing into the portfolio API responses. Refresh throttling
// lives here as a policy concern, deliberately outside PriceCache.
type performanceServiceImpl struct {
	txStore      TransactionStore
	prices       *PriceCache
	ledger       *processors.LedgerProcessor
	xirr         *processors.XIRRSolver
	calendar     *MarketCalendar
	refreshStore RefreshStore
	refreshMin   time.Duration

	// Per-user refresh serialization and in-process burst limiting.
	// Cross-process throttling rides on the persisted refresh timestamps.
	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex
	limiters  map[int64]*rate.Limiter

	now func() time.Time
}

func NewPerformanceService(txStore TransactionStore, prices *PriceCache, calendar *MarketCalendar, refreshStore RefreshStore, refreshMinInterval time.Duration) PerformanceService {
	return &performanceServiceImpl{
		txStore:      txStore,
		prices:       prices,
		ledger:       processors.NewLedgerProcessor(),
		xirr:         processors.NewXIRRSolver(),
		calendar:     calendar,
		refreshStore: refreshStore,
		refreshMin:   refreshMinInterval,
		userLocks:    make(map[int64]*sync.Mutex),
		limiters:     make(map[int64]*rate.Limiter),
		now:          time.Now,
	}
}

// CurrentHoldings values every open position with one batched price read.
// A symbol without a recent stored price stays in the response flagged
// UNAVAILABLE and is excluded from the aggregate totals.
func (s *performanceServiceImpl) CurrentHoldings(ctx context.Context, userID int64) (*models.PortfolioSnapshot, error) {
	txs, err := s.txStore.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("loading transactions for user %d: %w", userID, err)
	}

	snapshot := &models.PortfolioSnapshot{Holdings: []models.HoldingValuation{}}
	if len(txs) == 0 {
		return snapshot, nil
	}
	snapshot.HasData = true

	result := s.ledger.Process(txs)
	snapshot.Warnings = result.Warnings

	symbols := sortedSymbols(result.Open)
	priceRows, err := s.prices.GetBatchPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("batch pricing holdings for user %d: %w", userID, err)
	}

	for _, symbol := range symbols {
		h := result.Open[symbol]
		hv := models.HoldingValuation{
			Symbol:            symbol,
			Quantity:          h.Quantity,
			TotalCostBasis:    utils.RoundFloat(h.TotalCostBasis, 2),
			RealizedPnL:       utils.RoundFloat(h.RealizedPnL, 2),
			DividendsReceived: utils.RoundFloat(h.DividendsReceived, 2),
			Status:            models.PriceStatusUnavailable,
		}

		if row, ok := priceRows[symbol]; ok && row.Close > 0 {
			hv.Status = models.PriceStatusOK
			hv.CurrentPrice = row.Close
			hv.PriceDate = row.Date.Format("2006-01-02")
			hv.MarketValue = utils.RoundFloat(row.Close*h.Quantity, 2)
			hv.GainLoss = utils.RoundFloat(hv.MarketValue-h.TotalCostBasis, 2)
			if h.TotalCostBasis > 0 {
				hv.GainLossPercent = utils.RoundFloat(hv.GainLoss/h.TotalCostBasis*100, 2)
			}
			snapshot.TotalValue += hv.MarketValue
			snapshot.TotalCostBasis += hv.TotalCostBasis
		} else {
			snapshot.Warnings = append(snapshot.Warnings, models.Warning{
				Symbol:  symbol,
				Code:    models.WarnPriceUnavailable,
				Message: fmt.Sprintf("no recent price for %s; excluded from totals", symbol),
			})
			logger.L.Warn("Holding excluded from snapshot totals", "userID", userID, "symbol", symbol)
		}

		snapshot.TotalRealizedPnL += h.RealizedPnL
		snapshot.TotalDividends += h.DividendsReceived
		snapshot.Holdings = append(snapshot.Holdings, hv)
	}
	for _, h := range result.Closed {
		snapshot.TotalRealizedPnL += h.RealizedPnL
		snapshot.TotalDividends += h.DividendsReceived
	}

	snapshot.TotalGainLoss = utils.RoundFloat(snapshot.TotalValue-snapshot.TotalCostBasis, 2)
	if snapshot.TotalCostBasis > 0 {
		snapshot.TotalGainLossPercent = utils.RoundFloat(snapshot.TotalGainLoss/snapshot.TotalCostBasis*100, 2)
	}
	snapshot.TotalValue = utils.RoundFloat(snapshot.TotalValue, 2)
	snapshot.TotalCostBasis = utils.RoundFloat(snapshot.TotalCostBasis, 2)
	snapshot.TotalRealizedPnL = utils.RoundFloat(snapshot.TotalRealizedPnL, 2)
	snapshot.TotalDividends = utils.RoundFloat(snapshot.TotalDividends, 2)
	return snapshot, nil
}

// TimeSeries builds a daily portfolio valuation over the requested range,
// skipping non-trading days, and optionally a benchmark series simulated
// from the user's own dated cash flows and rebased to the portfolio's
// origin value.
func (s *performanceServiceImpl) TimeSeries(ctx context.Context, userID int64, rangeKey, benchmark string) (*models.TimeSeriesResult, error) {
	txs, err := s.txStore.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("loading transactions for user %d: %w", userID, err)
	}

	result := &models.TimeSeriesResult{Portfolio: []models.TimeSeriesPoint{}}
	if len(txs) == 0 {
		return result, nil
	}
	result.HasData = true

	end := s.calendar.LastTradingDay(defaultExchange, s.now())
	start := s.rangeStart(rangeKey, txs[0].Date)
	if start.After(end) {
		start = end
	}
	days := s.calendar.TradingDays(defaultExchange, start, end)
	if len(days) == 0 {
		return result, nil
	}

	histories := make(map[string][]models.PriceRow)
	for _, symbol := range distinctSymbols(txs) {
		rows, err := s.prices.GetHistoricalPrices(ctx, symbol, start.AddDate(0, 0, -historyLeadDays), end)
		if err != nil {
			result.Warnings = append(result.Warnings, models.Warning{
				Symbol:  symbol,
				Code:    models.WarnPriceUnavailable,
				Message: fmt.Sprintf("no price history for %s; excluded from series", symbol),
			})
			logger.L.Warn("Symbol excluded from time series", "userID", userID, "symbol", symbol, "error", err)
			continue
		}
		histories[symbol] = rows
	}

	for _, day := range days {
		quantities := s.ledger.HoldingsAsOf(txs, day)

		var value float64
		for symbol, qty := range quantities {
			if qty <= 0 {
				continue
			}
			rows, ok := histories[symbol]
			if !ok {
				continue
			}
			if price, ok := closeOnOrBefore(rows, day); ok {
				value += qty * price
			}
		}
		result.Portfolio = append(result.Portfolio, models.TimeSeriesPoint{
			Date:  day.Format("2006-01-02"),
			Value: utils.RoundFloat(value, 2),
		})
	}

	if benchmark != "" {
		benchSeries, warns := s.benchmarkSeries(ctx, txs, days, benchmark)
		result.Warnings = append(result.Warnings, warns...)
		if benchSeries != nil {
			rebase(result.Portfolio, benchSeries)
			result.Benchmark = benchSeries
		}
	}
	return result, nil
}

// benchmarkSeries replays the user's dated buy/sell amounts as simulated
// benchmark trades and values the accumulated units per trading day.
// History is pulled from the first transaction onward, not the display
// range: flows dated before the range still establish the position.
func (s *performanceServiceImpl) benchmarkSeries(ctx context.Context, txs []models.Transaction, days []time.Time, benchmark string) ([]models.TimeSeriesPoint, []models.Warning) {
	start := txs[0].Date.AddDate(0, 0, -historyLeadDays)
	end := days[len(days)-1]
	rows, err := s.prices.GetHistoricalPrices(ctx, benchmark, start, end)
	if err != nil {
		logger.L.Warn("Benchmark history unavailable", "benchmark", benchmark, "error", err)
		return nil, []models.Warning{{
			Symbol:  benchmark,
			Code:    models.WarnPriceUnavailable,
			Message: fmt.Sprintf("no price history for benchmark %s", benchmark),
		}}
	}

	var warnings []models.Warning
	series := make([]models.TimeSeriesPoint, 0, len(days))
	units := 0.0
	txIdx := 0
	for _, day := range days {
		for txIdx < len(txs) && !txs[txIdx].Date.After(day) {
			tx := txs[txIdx]
			txIdx++
			if tx.TxType == models.TxTypeDividend {
				continue
			}
			price, ok := closeOnOrBefore(rows, tx.Date)
			if !ok || price <= 0 {
				warnings = append(warnings, models.Warning{
					Symbol: benchmark,
					Code:   models.WarnPriceUnavailable,
					Message: fmt.Sprintf("no %s price on or before %s; flow skipped in benchmark simulation",
						benchmark, tx.Date.Format("2006-01-02")),
				})
				logger.L.Warn("Benchmark flow skipped, no price at flow date",
					"benchmark", benchmark, "date", tx.Date)
				continue
			}
			switch tx.TxType {
			case models.TxTypeBuy:
				units += tx.TotalAmount() / price
			case models.TxTypeSell:
				units -= tx.TotalAmount() / price
				if units < 0 {
					units = 0
				}
			}
		}

		var value float64
		if price, ok := closeOnOrBefore(rows, day); ok {
			value = units * price
		}
		series = append(series, models.TimeSeriesPoint{Date: day.Format("2006-01-02"), Value: value})
	}
	return series, warnings
}

// rebase scales the benchmark series so both series share the portfolio's
// value at the first date where both are positive.
func rebase(portfolio, benchmark []models.TimeSeriesPoint) {
	for i := range portfolio {
		if i >= len(benchmark) {
			return
		}
		if portfolio[i].Value > 0 && benchmark[i].Value > 0 {
			factor := portfolio[i].Value / benchmark[i].Value
			for j := range benchmark {
				benchmark[j].Value = utils.RoundFloat(benchmark[j].Value*factor, 2)
			}
			return
		}
	}
}

// PerformanceMetrics computes the money-weighted (XIRR) return over the
// user's signed cash flows plus the current holdings value as a terminal
// synthetic inflow, with a per-symbol breakdown and optional benchmark
// comparison.
func (s *performanceServiceImpl) PerformanceMetrics(ctx context.Context, userID int64, benchmark string) (*models.PerformanceMetrics, error) {
	txs, err := s.txStore.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("loading transactions for user %d: %w", userID, err)
	}

	metrics := &models.PerformanceMetrics{PerSymbolXIRR: map[string]*float64{}}
	if len(txs) == 0 {
		return metrics, nil
	}
	metrics.HasData = true

	result := s.ledger.Process(txs)
	symbols := sortedSymbols(result.Open)
	priceRows, err := s.prices.GetBatchPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("batch pricing holdings for user %d: %w", userID, err)
	}

	today := s.now()

	// Resolve unpriced symbols before building flows: a position that
	// cannot be valued keeps its whole flow history out of the aggregate
	// numbers, so a missing price degrades only that symbol.
	var totalValue float64
	unpriced := make(map[string]bool)
	for _, symbol := range symbols {
		row, ok := priceRows[symbol]
		if !ok || row.Close <= 0 {
			unpriced[symbol] = true
			metrics.Warnings = append(metrics.Warnings, models.Warning{
				Symbol:  symbol,
				Code:    models.WarnPriceUnavailable,
				Message: fmt.Sprintf("no recent price for %s; excluded from return metrics", symbol),
			})
			continue
		}
		totalValue += row.Close * result.Open[symbol].Quantity
	}

	var totalFlows []models.CashFlow
	flowsBySymbol := make(map[string][]models.CashFlow)
	var totalInvested, totalProceeds, totalDividends float64

	for _, tx := range txs {
		var amount float64
		switch tx.TxType {
		case models.TxTypeBuy:
			amount = -tx.TotalAmount()
		case models.TxTypeSell, models.TxTypeDividend:
			amount = tx.TotalAmount()
		}
		flow := models.CashFlow{Date: tx.Date, Amount: amount}
		flowsBySymbol[tx.Symbol] = append(flowsBySymbol[tx.Symbol], flow)

		if unpriced[tx.Symbol] {
			continue
		}
		totalFlows = append(totalFlows, flow)
		switch tx.TxType {
		case models.TxTypeBuy:
			totalInvested += tx.TotalAmount()
		case models.TxTypeSell:
			totalProceeds += tx.TotalAmount()
		case models.TxTypeDividend:
			totalDividends += tx.TotalAmount()
		}
	}

	for _, symbol := range symbols {
		if unpriced[symbol] {
			continue
		}
		value := priceRows[symbol].Close * result.Open[symbol].Quantity
		flowsBySymbol[symbol] = append(flowsBySymbol[symbol], models.CashFlow{Date: today, Amount: value})
	}
	if totalValue > 0 {
		totalFlows = append(totalFlows, models.CashFlow{Date: today, Amount: totalValue})
	}

	if solved, err := s.xirr.Solve(totalFlows, xirrDefaultGuess); err != nil {
		metrics.Warnings = append(metrics.Warnings, models.Warning{
			Code:    models.WarnXIRRUnavailable,
			Message: fmt.Sprintf("money-weighted return unavailable: %v", err),
		})
		logger.L.Warn("Portfolio XIRR unavailable", "userID", userID, "error", err)
	} else {
		pct := utils.RoundFloat(solved*100, 2)
		metrics.XIRR = &solved
		metrics.XIRRPercent = &pct
	}

	for symbol, flows := range flowsBySymbol {
		if unpriced[symbol] {
			metrics.PerSymbolXIRR[symbol] = nil
			continue
		}
		if solved, err := s.xirr.Solve(flows, xirrDefaultGuess); err != nil {
			metrics.PerSymbolXIRR[symbol] = nil
		} else {
			r := solved
			metrics.PerSymbolXIRR[symbol] = &r
		}
	}

	if benchmark != "" {
		if benchRate, ok := s.benchmarkXIRR(ctx, txs, benchmark, today); ok {
			metrics.BenchmarkXIRR = &benchRate
		} else {
			metrics.Warnings = append(metrics.Warnings, models.Warning{
				Symbol:  benchmark,
				Code:    models.WarnXIRRUnavailable,
				Message: fmt.Sprintf("benchmark return unavailable for %s", benchmark),
			})
		}
	}

	metrics.TotalValue = utils.RoundFloat(totalValue, 2)
	metrics.TotalInvested = utils.RoundFloat(totalInvested, 2)
	gain := totalValue + totalProceeds + totalDividends - totalInvested
	metrics.TotalGainLoss = utils.RoundFloat(gain, 2)
	if totalInvested > 0 {
		metrics.TotalGainLossPercent = utils.RoundFloat(gain/totalInvested*100, 2)
	}
	return metrics, nil
}

// benchmarkXIRR replays the user's buy/sell amounts against the benchmark
// and solves for the money-weighted return of that simulated position.
func (s *performanceServiceImpl) benchmarkXIRR(ctx context.Context, txs []models.Transaction, benchmark string, today time.Time) (float64, bool) {
	rows, err := s.prices.GetHistoricalPrices(ctx, benchmark, txs[0].Date.AddDate(0, 0, -historyLeadDays), today)
	if err != nil {
		logger.L.Warn("Benchmark history unavailable for XIRR", "benchmark", benchmark, "error", err)
		return 0, false
	}

	var flows []models.CashFlow
	units := 0.0
	for _, tx := range txs {
		if tx.TxType == models.TxTypeDividend {
			continue
		}
		price, ok := closeOnOrBefore(rows, tx.Date)
		if !ok || price <= 0 {
			continue
		}
		switch tx.TxType {
		case models.TxTypeBuy:
			units += tx.TotalAmount() / price
			flows = append(flows, models.CashFlow{Date: tx.Date, Amount: -tx.TotalAmount()})
		case models.TxTypeSell:
			units -= tx.TotalAmount() / price
			if units < 0 {
				units = 0
			}
			flows = append(flows, models.CashFlow{Date: tx.Date, Amount: tx.TotalAmount()})
		}
	}
	if units > 0 {
		if price, ok := closeOnOrBefore(rows, today); ok && price > 0 {
			flows = append(flows, models.CashFlow{Date: today, Amount: units * price})
		}
	}

	solved, err := s.xirr.Solve(flows, xirrDefaultGuess)
	if err != nil {
		return 0, false
	}
	return solved, true
}

// RefreshPrices force-fetches quotes for the given symbols (the user's
// open holdings when none are given) and persists them. Throttled per
// user: the persisted last-refresh timestamp gates cross-process callers,
// the in-memory limiter gates bursts within this process.
func (s *performanceServiceImpl) RefreshPrices(ctx context.Context, userID int64, symbols []string) (*models.RefreshResult, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	last, err := s.refreshStore.LastRefresh(userID)
	if err != nil {
		// Fail open on throttle-state reads; refusing refreshes over an
		// infra blip is worse than an occasional early refresh.
		logger.L.Warn("Refresh state read failed", "userID", userID, "error", err)
	}
	if !last.IsZero() && s.now().Sub(last) < s.refreshMin {
		nextAllowed := last.Add(s.refreshMin)
		return nil, fmt.Errorf("%w: next refresh allowed at %s", ErrRateLimited, nextAllowed.Format(time.RFC3339))
	}
	if !s.limiterFor(userID).Allow() {
		return nil, fmt.Errorf("%w: refresh burst limit reached", ErrRateLimited)
	}

	if len(symbols) == 0 {
		txs, err := s.txStore.ListByUser(userID)
		if err != nil {
			return nil, fmt.Errorf("loading transactions for user %d: %w", userID, err)
		}
		symbols = sortedSymbols(s.ledger.Process(txs).Open)
	}

	result := &models.RefreshResult{Updated: []string{}, Failed: []string{}}
	for _, symbol := range symbols {
		if _, err := s.prices.RefreshQuote(ctx, symbol); err != nil {
			logger.L.Warn("Price refresh failed", "userID", userID, "symbol", symbol, "error", err)
			result.Failed = append(result.Failed, symbol)
			continue
		}
		result.Updated = append(result.Updated, symbol)
	}

	if err := s.refreshStore.SetLastRefresh(userID, s.now()); err != nil {
		logger.L.Warn("Refresh state write failed", "userID", userID, "error", err)
	}
	logger.L.Info("Price refresh completed", "userID", userID,
		"updated", len(result.Updated), "failed", len(result.Failed))
	return result, nil
}

func (s *performanceServiceImpl) userLock(userID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

func (s *performanceServiceImpl) limiterFor(userID int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.refreshMin), 1)
		s.limiters[userID] = limiter
	}
	return limiter
}

func (s *performanceServiceImpl) rangeStart(rangeKey string, firstTx time.Time) time.Time {
	now := s.now()
	var start time.Time
	switch strings.ToLower(rangeKey) {
	case "7d":
		start = now.AddDate(0, 0, -7)
	case "1m":
		start = now.AddDate(0, -1, 0)
	case "3m":
		start = now.AddDate(0, -3, 0)
	case "6m":
		start = now.AddDate(0, -6, 0)
	case "1y":
		start = now.AddDate(-1, 0, 0)
	case "ytd":
		start = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case "all", "":
		start = firstTx
	default:
		logger.L.Warn("Unknown range key, defaulting to 1y", "rangeKey", rangeKey)
		start = now.AddDate(-1, 0, 0)
	}
	if start.Before(firstTx) {
		start = firstTx
	}
	return start
}

// closeOnOrBefore finds the close of the most recent bar dated on or
// before day. rows must be ascending by date.
func closeOnOrBefore(rows []models.PriceRow, day time.Time) (float64, bool) {
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Date.After(day) })
	if idx == 0 {
		return 0, false
	}
	return rows[idx-1].Close, true
}

func sortedSymbols(holdings map[string]*models.Holding) []string {
	symbols := make([]string, 0, len(holdings))
	for symbol := range holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func distinctSymbols(txs []models.Transaction) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, tx := range txs {
		if !seen[tx.Symbol] {
			seen[tx.Symbol] = true
			symbols = append(symbols, tx.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

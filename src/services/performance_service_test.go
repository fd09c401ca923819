package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

func testTx(userID int64, txType, symbol string, qty, price float64, date string) models.Transaction {
	return models.Transaction{
		UserID:       userID,
		Symbol:       symbol,
		TxType:       txType,
		Quantity:     qty,
		PricePerUnit: price,
		Date:         mustParseDate(date),
		Currency:     "USD",
	}
}

func newTestPerformanceService(txStore TransactionStore, store PriceStore, source QuoteSource, refresh RefreshStore, at time.Time) *performanceServiceImpl {
	cache := newTestPriceCache(store, source, at)
	svc := NewPerformanceService(txStore, cache, calendarWith(nil), refresh, 15*time.Minute).(*performanceServiceImpl)
	svc.now = func() time.Time { return at }
	return svc
}

func TestCurrentHoldingsEmptyLedger(t *testing.T) {
	svc := newTestPerformanceService(newMemoryTxStore(), newMemoryPriceStore(), newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-11T21:00"))

	snapshot, err := svc.CurrentHoldings(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentHoldings: %v", err)
	}
	if snapshot.HasData {
		t.Error("empty ledger should report HasData false")
	}
	if len(snapshot.Holdings) != 0 {
		t.Errorf("holdings = %d, want 0", len(snapshot.Holdings))
	}
}

func TestCurrentHoldingsSnapshot(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 150, "2025-01-06"))
	store := newMemoryPriceStore()
	store.seed(bar("AAPL", "2025-03-10", 160))

	svc := newTestPerformanceService(txStore, store, newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-11T21:00"))
	snapshot, err := svc.CurrentHoldings(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentHoldings: %v", err)
	}

	if !snapshot.HasData {
		t.Fatal("expected HasData true")
	}
	if snapshot.TotalValue != 1600 {
		t.Errorf("total value = %.2f, want 1600", snapshot.TotalValue)
	}
	if snapshot.TotalCostBasis != 1500 {
		t.Errorf("cost basis = %.2f, want 1500", snapshot.TotalCostBasis)
	}
	if snapshot.TotalGainLoss != 100 {
		t.Errorf("gain = %.2f, want 100", snapshot.TotalGainLoss)
	}
	if snapshot.TotalGainLossPercent != 6.67 {
		t.Errorf("gain percent = %.2f, want 6.67", snapshot.TotalGainLossPercent)
	}

	if len(snapshot.Holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(snapshot.Holdings))
	}
	hv := snapshot.Holdings[0]
	if hv.Status != models.PriceStatusOK {
		t.Errorf("status = %s, want %s", hv.Status, models.PriceStatusOK)
	}
	if hv.PriceDate != "2025-03-10" {
		t.Errorf("price date = %s, want 2025-03-10", hv.PriceDate)
	}
}

func TestCurrentHoldingsDegradesUnpricedSymbol(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 150, "2025-01-06"))
	txStore.Insert(testTx(1, models.TxTypeBuy, "MSFT", 5, 300, "2025-01-06"))
	store := newMemoryPriceStore()
	store.seed(bar("AAPL", "2025-03-10", 160))

	svc := newTestPerformanceService(txStore, store, newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-11T21:00"))
	snapshot, err := svc.CurrentHoldings(context.Background(), 1)
	if err != nil {
		t.Fatalf("CurrentHoldings: %v", err)
	}

	// MSFT has no recent bar: flagged, warned, excluded from totals.
	if snapshot.TotalValue != 1600 {
		t.Errorf("total value = %.2f, want 1600 (priced symbol only)", snapshot.TotalValue)
	}
	if snapshot.TotalCostBasis != 1500 {
		t.Errorf("cost basis = %.2f, want 1500 (priced symbol only)", snapshot.TotalCostBasis)
	}
	var msft *models.HoldingValuation
	for i := range snapshot.Holdings {
		if snapshot.Holdings[i].Symbol == "MSFT" {
			msft = &snapshot.Holdings[i]
		}
	}
	if msft == nil {
		t.Fatal("unpriced symbol must stay in the response")
	}
	if msft.Status != models.PriceStatusUnavailable {
		t.Errorf("MSFT status = %s, want %s", msft.Status, models.PriceStatusUnavailable)
	}
	found := false
	for _, w := range snapshot.Warnings {
		if w.Code == models.WarnPriceUnavailable && w.Symbol == "MSFT" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing price warning for MSFT: %v", snapshot.Warnings)
	}
}

func TestTimeSeriesWithBenchmarkRebase(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2025-03-03"))
	store := newMemoryPriceStore()
	store.seed(
		bar("AAPL", "2025-03-03", 100), bar("AAPL", "2025-03-04", 102),
		bar("AAPL", "2025-03-05", 104), bar("AAPL", "2025-03-06", 103),
		bar("AAPL", "2025-03-07", 105),
		bar("SPY", "2025-03-03", 50), bar("SPY", "2025-03-04", 50.5),
		bar("SPY", "2025-03-05", 51), bar("SPY", "2025-03-06", 51.5),
		bar("SPY", "2025-03-07", 52),
	)

	svc := newTestPerformanceService(txStore, store, newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-07T22:00"))
	result, err := svc.TimeSeries(context.Background(), 1, "all", "SPY")
	if err != nil {
		t.Fatalf("TimeSeries: %v", err)
	}

	if !result.HasData {
		t.Fatal("expected HasData true")
	}
	if len(result.Portfolio) != 5 {
		t.Fatalf("portfolio points = %d, want 5", len(result.Portfolio))
	}
	if len(result.Benchmark) != len(result.Portfolio) {
		t.Fatalf("benchmark points = %d, want %d", len(result.Benchmark), len(result.Portfolio))
	}

	if result.Portfolio[0].Value != 1000 {
		t.Errorf("portfolio origin = %.2f, want 1000", result.Portfolio[0].Value)
	}
	if result.Benchmark[0].Value != result.Portfolio[0].Value {
		t.Errorf("benchmark not rebased to portfolio origin: %.2f vs %.2f",
			result.Benchmark[0].Value, result.Portfolio[0].Value)
	}
	// The benchmark keeps its own shape after rebasing: 50 -> 52 is 4%.
	if result.Benchmark[4].Value != 1040 {
		t.Errorf("benchmark end = %.2f, want 1040", result.Benchmark[4].Value)
	}
	if result.Portfolio[4].Value != 1050 {
		t.Errorf("portfolio end = %.2f, want 1050", result.Portfolio[4].Value)
	}
}

func TestTimeSeriesBenchmarkWithPreRangePurchase(t *testing.T) {
	txStore := newMemoryTxStore()
	// Position established months before the displayed window.
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2024-06-03"))
	store := newMemoryPriceStore()
	store.seed(
		bar("AAPL", "2025-03-04", 110), bar("AAPL", "2025-03-05", 110),
		bar("AAPL", "2025-03-06", 110), bar("AAPL", "2025-03-07", 110),
		bar("AAPL", "2025-03-10", 110), bar("AAPL", "2025-03-11", 110),
		bar("SPY", "2024-06-03", 40),
		bar("SPY", "2025-03-04", 50), bar("SPY", "2025-03-05", 50),
		bar("SPY", "2025-03-06", 50), bar("SPY", "2025-03-07", 50),
		bar("SPY", "2025-03-10", 50), bar("SPY", "2025-03-11", 55),
	)

	svc := newTestPerformanceService(txStore, store, newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-11T21:00"))
	result, err := svc.TimeSeries(context.Background(), 1, "7d", "SPY")
	if err != nil {
		t.Fatalf("TimeSeries: %v", err)
	}

	if len(result.Portfolio) != 6 {
		t.Fatalf("portfolio points = %d, want 6", len(result.Portfolio))
	}
	if len(result.Benchmark) != len(result.Portfolio) {
		t.Fatalf("benchmark points = %d, want %d", len(result.Benchmark), len(result.Portfolio))
	}
	for _, w := range result.Warnings {
		t.Errorf("unexpected warning: %+v", w)
	}

	// The pre-range buy converts at the flow-date close of 40: 25 units.
	if result.Portfolio[0].Value != 1100 {
		t.Errorf("portfolio origin = %.2f, want 1100", result.Portfolio[0].Value)
	}
	if result.Benchmark[0].Value != result.Portfolio[0].Value {
		t.Errorf("benchmark not rebased to portfolio origin: %.2f vs %.2f",
			result.Benchmark[0].Value, result.Portfolio[0].Value)
	}
	// 25 units * 55 close, scaled by the 1100/1250 rebase factor.
	if result.Benchmark[5].Value != 1210 {
		t.Errorf("benchmark end = %.2f, want 1210", result.Benchmark[5].Value)
	}
}

func TestTimeSeriesBenchmarkFlowWithoutPrice(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2025-03-03"))
	store := newMemoryPriceStore()
	store.seed(
		bar("AAPL", "2025-03-03", 100), bar("AAPL", "2025-03-04", 100),
		bar("AAPL", "2025-03-05", 100), bar("AAPL", "2025-03-06", 100),
		bar("AAPL", "2025-03-07", 100),
		// No SPY bar on or before the buy date.
		bar("SPY", "2025-03-05", 51), bar("SPY", "2025-03-06", 51.5),
		bar("SPY", "2025-03-07", 52),
	)

	svc := newTestPerformanceService(txStore, store, newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-07T22:00"))
	result, err := svc.TimeSeries(context.Background(), 1, "all", "SPY")
	if err != nil {
		t.Fatalf("TimeSeries: %v", err)
	}

	found := false
	for _, w := range result.Warnings {
		if w.Code == models.WarnPriceUnavailable && w.Symbol == "SPY" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a skipped-flow warning for SPY", result.Warnings)
	}
}

func TestTimeSeriesSymbolWithoutHistory(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2025-03-03"))
	source := newMockQuoteSource()
	source.seriesErr = ErrTransient

	svc := newTestPerformanceService(txStore, newMemoryPriceStore(), source, newMemoryRefreshStore(), utc("2025-03-07T22:00"))
	result, err := svc.TimeSeries(context.Background(), 1, "all", "")
	if err != nil {
		t.Fatalf("TimeSeries: %v", err)
	}

	if !result.HasData {
		t.Error("expected HasData true despite missing history")
	}
	found := false
	for _, w := range result.Warnings {
		if w.Code == models.WarnPriceUnavailable && w.Symbol == "AAPL" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing history warning for AAPL: %v", result.Warnings)
	}
}

func TestPerformanceMetricsXIRR(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2024-03-11"))
	store := newMemoryPriceStore()
	store.seed(bar("AAPL", "2025-03-10", 110))

	svc := newTestPerformanceService(txStore, store, newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-11T21:00"))
	metrics, err := svc.PerformanceMetrics(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("PerformanceMetrics: %v", err)
	}

	if metrics.XIRR == nil {
		t.Fatalf("XIRR nil, warnings: %v", metrics.Warnings)
	}
	// 1000 in, 1100 held one year later: about 10% annualized.
	if math.Abs(*metrics.XIRR-0.10) > 0.01 {
		t.Errorf("xirr = %.4f, want about 0.10", *metrics.XIRR)
	}
	if metrics.XIRRPercent == nil || math.Abs(*metrics.XIRRPercent-10) > 1 {
		t.Errorf("xirr percent = %v, want about 10", metrics.XIRRPercent)
	}
	if metrics.TotalValue != 1100 {
		t.Errorf("total value = %.2f, want 1100", metrics.TotalValue)
	}
	if metrics.TotalGainLoss != 100 {
		t.Errorf("gain = %.2f, want 100", metrics.TotalGainLoss)
	}
	if r, ok := metrics.PerSymbolXIRR["AAPL"]; !ok || r == nil {
		t.Error("expected per-symbol rate for AAPL")
	}
}

func TestPerformanceMetricsDegradeOnlyUnpricedSymbol(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2024-03-11"))
	txStore.Insert(testTx(1, models.TxTypeBuy, "MSFT", 5, 300, "2024-03-11"))
	store := newMemoryPriceStore()
	store.seed(bar("AAPL", "2025-03-10", 110))

	svc := newTestPerformanceService(txStore, store, newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-11T21:00"))
	metrics, err := svc.PerformanceMetrics(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("PerformanceMetrics: %v", err)
	}

	// MSFT cannot be valued: its flows stay out of every aggregate so the
	// priced position's numbers are unchanged by it.
	if metrics.TotalValue != 1100 {
		t.Errorf("total value = %.2f, want 1100", metrics.TotalValue)
	}
	if metrics.TotalInvested != 1000 {
		t.Errorf("total invested = %.2f, want 1000 (priced symbol only)", metrics.TotalInvested)
	}
	if metrics.TotalGainLoss != 100 {
		t.Errorf("gain = %.2f, want 100", metrics.TotalGainLoss)
	}
	if metrics.XIRR == nil {
		t.Fatalf("XIRR nil, warnings: %v", metrics.Warnings)
	}
	if math.Abs(*metrics.XIRR-0.10) > 0.01 {
		t.Errorf("xirr = %.4f, want about 0.10 despite the unpriced symbol", *metrics.XIRR)
	}
	if r, ok := metrics.PerSymbolXIRR["AAPL"]; !ok || r == nil {
		t.Error("expected per-symbol rate for AAPL")
	}
	if r, ok := metrics.PerSymbolXIRR["MSFT"]; !ok || r != nil {
		t.Error("unpriced symbol should map to a nil rate")
	}
	found := false
	for _, w := range metrics.Warnings {
		if w.Code == models.WarnPriceUnavailable && w.Symbol == "MSFT" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want a price warning for MSFT", metrics.Warnings)
	}
}

func TestPerformanceMetricsUnpricedSymbol(t *testing.T) {
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2024-03-11"))

	svc := newTestPerformanceService(txStore, newMemoryPriceStore(), newMockQuoteSource(), newMemoryRefreshStore(), utc("2025-03-11T21:00"))
	metrics, err := svc.PerformanceMetrics(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("PerformanceMetrics: %v", err)
	}

	// A lone outflow cannot define a return: nil rate, explicit warning.
	if metrics.XIRR != nil {
		t.Errorf("xirr = %v, want nil without a terminal value", *metrics.XIRR)
	}
	foundXIRR, foundPrice := false, false
	for _, w := range metrics.Warnings {
		if w.Code == models.WarnXIRRUnavailable {
			foundXIRR = true
		}
		if w.Code == models.WarnPriceUnavailable && w.Symbol == "AAPL" {
			foundPrice = true
		}
	}
	if !foundXIRR || !foundPrice {
		t.Errorf("warnings = %v, want xirr and price warnings", metrics.Warnings)
	}
	if r, ok := metrics.PerSymbolXIRR["AAPL"]; !ok || r != nil {
		t.Error("unpriced symbol should map to a nil rate")
	}
}

func TestRefreshPricesThrottledByPersistedTimestamp(t *testing.T) {
	now := utc("2025-03-11T21:00")
	refresh := newMemoryRefreshStore()
	refresh.last[1] = now.Add(-5 * time.Minute)

	svc := newTestPerformanceService(newMemoryTxStore(), newMemoryPriceStore(), newMockQuoteSource(), refresh, now)
	_, err := svc.RefreshPrices(context.Background(), 1, []string{"AAPL"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited inside the refresh interval", err)
	}
}

func TestRefreshPricesUpdatesHoldings(t *testing.T) {
	now := utc("2025-03-11T21:00")
	txStore := newMemoryTxStore()
	txStore.Insert(testTx(1, models.TxTypeBuy, "AAPL", 10, 100, "2025-01-06"))
	source := newMockQuoteSource()
	source.quotes["AAPL"] = testQuote("AAPL", 187.5, "2025-03-11")
	store := newMemoryPriceStore()
	refresh := newMemoryRefreshStore()

	svc := newTestPerformanceService(txStore, store, source, refresh, now)
	// No symbols given: defaults to the user's open holdings.
	result, err := svc.RefreshPrices(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("RefreshPrices: %v", err)
	}
	if len(result.Updated) != 1 || result.Updated[0] != "AAPL" {
		t.Errorf("updated = %v, want [AAPL]", result.Updated)
	}
	if _, found, _ := store.Latest("AAPL", mustParseDate("2025-03-11")); !found {
		t.Error("refreshed quote should be persisted as a bar")
	}
	if refresh.last[1] != now {
		t.Errorf("last refresh = %v, want %v", refresh.last[1], now)
	}

	// Immediately afterwards the persisted timestamp gates the next call.
	if _, err := svc.RefreshPrices(context.Background(), 1, nil); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second refresh err = %v, want ErrRateLimited", err)
	}
}

func TestRefreshPricesReportsFailures(t *testing.T) {
	now := utc("2025-03-11T21:00")
	source := newMockQuoteSource()
	source.quotes["AAPL"] = testQuote("AAPL", 187.5, "2025-03-11")

	svc := newTestPerformanceService(newMemoryTxStore(), newMemoryPriceStore(), source, newMemoryRefreshStore(), now)
	result, err := svc.RefreshPrices(context.Background(), 1, []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("RefreshPrices: %v", err)
	}
	if len(result.Updated) != 1 || result.Updated[0] != "AAPL" {
		t.Errorf("updated = %v, want [AAPL]", result.Updated)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "MSFT" {
		t.Errorf("failed = %v, want [MSFT]", result.Failed)
	}
}

package services

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// In-memory capability implementations shared by the service tests.

type memoryBreakerStore struct {
	states  map[string]models.CircuitState
	getErr  error
	saveErr error
}

func newMemoryBreakerStore() *memoryBreakerStore {
	return &memoryBreakerStore{states: make(map[string]models.CircuitState)}
}

func (s *memoryBreakerStore) GetState(service string) (models.CircuitState, error) {
	if s.getErr != nil {
		return models.CircuitState{}, s.getErr
	}
	if st, ok := s.states[service]; ok {
		return st, nil
	}
	return models.CircuitState{Service: service, State: models.CircuitClosed}, nil
}

func (s *memoryBreakerStore) SaveState(st models.CircuitState) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[st.Service] = st
	return nil
}

type memoryPriceStore struct {
	rows      map[string][]models.PriceRow
	failBatch bool
}

func newMemoryPriceStore() *memoryPriceStore {
	return &memoryPriceStore{rows: make(map[string][]models.PriceRow)}
}

func (s *memoryPriceStore) seed(rows ...models.PriceRow) {
	for _, r := range rows {
		s.rows[r.Symbol] = append(s.rows[r.Symbol], r)
	}
	for symbol := range s.rows {
		sort.Slice(s.rows[symbol], func(i, j int) bool {
			return s.rows[symbol][i].Date.Before(s.rows[symbol][j].Date)
		})
	}
}

func (s *memoryPriceStore) Query(symbol string, start, end time.Time) ([]models.PriceRow, error) {
	var out []models.PriceRow
	for _, r := range s.rows[symbol] {
		if !r.Date.Before(start) && !r.Date.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryPriceStore) Upsert(rows []models.PriceRow) (int, error) {
	inserted := 0
	for _, r := range rows {
		exists := false
		for _, have := range s.rows[r.Symbol] {
			if have.Date.Equal(r.Date) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s.rows[r.Symbol] = append(s.rows[r.Symbol], r)
		inserted++
	}
	for symbol := range s.rows {
		sort.Slice(s.rows[symbol], func(i, j int) bool {
			return s.rows[symbol][i].Date.Before(s.rows[symbol][j].Date)
		})
	}
	return inserted, nil
}

func (s *memoryPriceStore) LatestWithin(symbols []string, asOf time.Time, maxAgeDays int) (map[string]models.PriceRow, error) {
	if s.failBatch {
		return nil, context.DeadlineExceeded
	}
	cutoff := asOf.AddDate(0, 0, -maxAgeDays)
	out := make(map[string]models.PriceRow)
	for _, symbol := range symbols {
		for _, r := range s.rows[symbol] {
			if r.Date.After(asOf) || r.Date.Before(cutoff) {
				continue
			}
			if have, ok := out[symbol]; !ok || r.Date.After(have.Date) {
				out[symbol] = r
			}
		}
	}
	return out, nil
}

func (s *memoryPriceStore) Latest(symbol string, asOf time.Time) (models.PriceRow, bool, error) {
	var best models.PriceRow
	found := false
	for _, r := range s.rows[symbol] {
		if r.Date.After(asOf) {
			continue
		}
		if !found || r.Date.After(best.Date) {
			best = r
			found = true
		}
	}
	return best, found, nil
}

type mockQuoteSource struct {
	quotes      map[string]models.Quote
	series      map[string][]models.PriceRow
	quoteErr    error
	seriesErr   error
	quoteCalls  int
	seriesCalls int
}

func newMockQuoteSource() *mockQuoteSource {
	return &mockQuoteSource{
		quotes: make(map[string]models.Quote),
		series: make(map[string][]models.PriceRow),
	}
}

func (m *mockQuoteSource) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	m.quoteCalls++
	if m.quoteErr != nil {
		return models.Quote{}, m.quoteErr
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return models.Quote{}, ErrInvalidSymbol
	}
	return q, nil
}

func (m *mockQuoteSource) DailySeries(ctx context.Context, symbol string) ([]models.PriceRow, error) {
	m.seriesCalls++
	if m.seriesErr != nil {
		return nil, m.seriesErr
	}
	rows, ok := m.series[symbol]
	if !ok {
		return nil, ErrInvalidSymbol
	}
	return rows, nil
}

type memoryTxStore struct {
	txs map[int64][]models.Transaction
}

func newMemoryTxStore() *memoryTxStore {
	return &memoryTxStore{txs: make(map[int64][]models.Transaction)}
}

func (s *memoryTxStore) ListByUser(userID int64) ([]models.Transaction, error) {
	txs := make([]models.Transaction, len(s.txs[userID]))
	copy(txs, s.txs[userID])
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.Before(txs[j].Date) })
	return txs, nil
}

func (s *memoryTxStore) Insert(tx models.Transaction) (int64, error) {
	s.txs[tx.UserID] = append(s.txs[tx.UserID], tx)
	return int64(len(s.txs[tx.UserID])), nil
}

func (s *memoryTxStore) DeleteByUser(userID int64) (int64, error) {
	n := int64(len(s.txs[userID]))
	delete(s.txs, userID)
	return n, nil
}

type memoryRefreshStore struct {
	last map[int64]time.Time
}

func newMemoryRefreshStore() *memoryRefreshStore {
	return &memoryRefreshStore{last: make(map[int64]time.Time)}
}

func (s *memoryRefreshStore) LastRefresh(userID int64) (time.Time, error) {
	return s.last[userID], nil
}

func (s *memoryRefreshStore) SetLastRefresh(userID int64, at time.Time) error {
	s.last[userID] = at
	return nil
}

type staticHolidaySource struct {
	tables map[string]map[string]bool // exchange -> date set
}

func (s *staticHolidaySource) Holidays(exchange string, year int) (map[string]bool, error) {
	if table, ok := s.tables[exchange]; ok {
		return table, nil
	}
	return map[string]bool{}, nil
}

type failingHolidaySource struct{}

func (failingHolidaySource) Holidays(exchange string, year int) (map[string]bool, error) {
	return nil, context.DeadlineExceeded
}

func mustParseDate(t string) time.Time {
	d, err := time.Parse("2006-01-02", t)
	if err != nil {
		panic(err)
	}
	return d
}

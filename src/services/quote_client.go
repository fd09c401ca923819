package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
	"golang.org/x/net/publicsuffix"
)

// Structs for Alpha Vantage API responses
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol           string `json:"01. symbol"`
		Open             string `json:"02. open"`
		High             string `json:"03. high"`
		Low              string `json:"04. low"`
		Price            string `json:"05. price"`
		Volume           string `json:"06. volume"`
		LatestTradingDay string `json:"07. latest trading day"`
		PreviousClose    string `json:"08. previous close"`
		Change           string `json:"09. change"`
		ChangePercent    string `json:"10. change percent"`
	} `json:"Global Quote"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

type dailySeriesResponse struct {
	Series       map[string]map[string]string `json:"Time Series (Daily)"`
	Note         string                       `json:"Note"`
	Information  string                       `json:"Information"`
	ErrorMessage string                       `json:"Error Message"`
}

// quoteClientImpl implements the QuoteSource interface against an Alpha
// Vantage compatible endpoint. Dynamic provider payloads are normalized
// here; nothing downstream sees provider field names.
type quoteClientImpl struct {
	httpClient http.Client
	apiKey     string
	baseURL    string
}

// NewQuoteClient creates a new quote source client. The HTTP client gets a
// cookie jar and a bounded timeout; a timed-out call surfaces as a
// transient error and counts as a breaker failure upstream.
func NewQuoteClient(baseURL, apiKey string, timeout time.Duration) QuoteSource {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}

	return &quoteClientImpl{
		httpClient: http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

// Quote fetches the current quote for a symbol and normalizes it.
func (c *quoteClientImpl) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	body, err := c.get(ctx, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {c.apiKey},
	})
	if err != nil {
		return models.Quote{}, err
	}

	var payload globalQuoteResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Quote{}, fmt.Errorf("%w: decoding quote response for %s: %v", ErrTransient, symbol, err)
	}
	if err := classifyPayloadError(payload.Note, payload.Information, payload.ErrorMessage, symbol); err != nil {
		return models.Quote{}, err
	}

	gq := payload.GlobalQuote
	if gq.Symbol == "" || gq.Price == "" {
		return models.Quote{}, fmt.Errorf("%w: empty quote payload for %s", ErrInvalidSymbol, symbol)
	}

	price, err := strconv.ParseFloat(gq.Price, 64)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: unparseable price %q for %s", ErrTransient, gq.Price, symbol)
	}

	quote := models.Quote{
		Symbol:        gq.Symbol,
		Price:         price,
		Change:        parseFloatOrZero(gq.Change),
		ChangePercent: parsePercent(gq.ChangePercent),
		Volume:        parseIntOrZero(gq.Volume),
		PreviousClose: parseFloatOrZero(gq.PreviousClose),
		Open:          parseFloatOrZero(gq.Open),
		High:          parseFloatOrZero(gq.High),
		Low:           parseFloatOrZero(gq.Low),
	}
	if gq.LatestTradingDay != "" {
		if d, err := time.Parse("2006-01-02", gq.LatestTradingDay); err == nil {
			quote.LatestTradingDay = d
		}
	}
	return quote, nil
}

// DailySeries fetches the full daily OHLCV history for a symbol, sorted
// ascending by date. Rows that fail to parse are skipped with a warning
// rather than poisoning the whole series.
func (c *quoteClientImpl) DailySeries(ctx context.Context, symbol string) ([]models.PriceRow, error) {
	body, err := c.get(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {"full"},
		"apikey":     {c.apiKey},
	})
	if err != nil {
		return nil, err
	}

	var payload dailySeriesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding daily series for %s: %v", ErrTransient, symbol, err)
	}
	if err := classifyPayloadError(payload.Note, payload.Information, payload.ErrorMessage, symbol); err != nil {
		return nil, err
	}
	if len(payload.Series) == 0 {
		return nil, fmt.Errorf("%w: empty daily series for %s", ErrInvalidSymbol, symbol)
	}

	rows := make([]models.PriceRow, 0, len(payload.Series))
	for dateStr, bar := range payload.Series {
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			logger.L.Warn("Skipping daily bar with unparseable date", "symbol", symbol, "date", dateStr)
			continue
		}
		closePrice, err := strconv.ParseFloat(bar["4. close"], 64)
		if err != nil {
			logger.L.Warn("Skipping daily bar with unparseable close", "symbol", symbol, "date", dateStr)
			continue
		}
		rows = append(rows, models.PriceRow{
			Symbol:        symbol,
			Date:          date,
			Open:          parseFloatOrZero(bar["1. open"]),
			High:          parseFloatOrZero(bar["2. high"]),
			Low:           parseFloatOrZero(bar["3. low"]),
			Close:         closePrice,
			AdjustedClose: closePrice,
			Volume:        parseIntOrZero(bar["5. volume"]),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

func (c *quoteClientImpl) get(ctx context.Context, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransient, err)
	}
	req.Header.Set("User-Agent", "portfolio-tracker/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: provider request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: provider returned 429", ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: provider returned %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: provider returned %d", ErrTransient, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading provider response: %v", ErrTransient, err)
	}
	return body, nil
}

// classifyPayloadError maps Alpha Vantage soft errors (HTTP 200 with an
// error body) onto the error taxonomy.
func classifyPayloadError(note, information, errorMessage, symbol string) error {
	if note != "" || information != "" {
		return fmt.Errorf("%w: provider throttle note for %s", ErrRateLimited, symbol)
	}
	if errorMessage != "" {
		return fmt.Errorf("%w: %s", ErrInvalidSymbol, errorMessage)
	}
	return nil
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parsePercent(s string) float64 {
	return parseFloatOrZero(strings.TrimSuffix(strings.TrimSpace(s), "%"))
}

func parseIntOrZero(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

package services

import (
	"sync"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
)

// exchangeSpec describes one exchange's local session.
type exchangeSpec struct {
	timezone  string
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

// Session times per exchange. Unknown exchanges fall back to NYSE hours:
// refusing to price is worse than pricing against a slightly wrong session
// window.
var exchangeSpecs = map[string]exchangeSpec{
	"NYSE":   {timezone: "America/New_York", openHour: 9, openMin: 30, closeHour: 16, closeMin: 0},
	"NASDAQ": {timezone: "America/New_York", openHour: 9, openMin: 30, closeHour: 16, closeMin: 0},
	"AMEX":   {timezone: "America/New_York", openHour: 9, openMin: 30, closeHour: 16, closeMin: 0},
	"TSX":    {timezone: "America/Toronto", openHour: 9, openMin: 30, closeHour: 16, closeMin: 0},
	"LSE":    {timezone: "Europe/London", openHour: 8, openMin: 0, closeHour: 16, closeMin: 30},
	"XETRA":  {timezone: "Europe/Berlin", openHour: 9, openMin: 0, closeHour: 17, closeMin: 30},
	"TSE":    {timezone: "Asia/Tokyo", openHour: 9, openMin: 0, closeHour: 15, closeMin: 0},
	"ASX":    {timezone: "Australia/Sydney", openHour: 10, openMin: 0, closeHour: 16, closeMin: 0},
}

const defaultExchange = "NYSE"

// Provider metadata sometimes carries timezone abbreviations instead of
// IANA names; normalize through a fixed lookup.
var timezoneAliases = map[string]string{
	"EST":  "America/New_York",
	"EDT":  "America/New_York",
	"CST":  "America/Chicago",
	"CDT":  "America/Chicago",
	"PST":  "America/Los_Angeles",
	"PDT":  "America/Los_Angeles",
	"GMT":  "Europe/London",
	"BST":  "Europe/London",
	"CET":  "Europe/Berlin",
	"CEST": "Europe/Berlin",
	"JST":  "Asia/Tokyo",
	"AEST": "Australia/Sydney",
}

// Pre/post buffer around the official session during which quotes are
// still treated as live.
const sessionBuffer = 30 * time.Minute

// MarketCalendar answers session and trading-day questions per exchange.
// Holiday tables load lazily through a HolidaySource and are cached per
// (exchange, year).
type MarketCalendar struct {
	holidaySource HolidaySource

	mu       sync.Mutex
	holidays map[string]map[string]bool // "EXCHANGE/2025" -> set of "2006-01-02"
}

func NewMarketCalendar(source HolidaySource) *MarketCalendar {
	return &MarketCalendar{
		holidaySource: source,
		holidays:      make(map[string]map[string]bool),
	}
}

func specFor(exchange string) exchangeSpec {
	if spec, ok := exchangeSpecs[exchange]; ok {
		return spec
	}
	return exchangeSpecs[defaultExchange]
}

// NormalizeTimezone maps a timezone abbreviation to an IANA name, passing
// through anything it does not recognize.
func NormalizeTimezone(tz string) string {
	if full, ok := timezoneAliases[tz]; ok {
		return full
	}
	return tz
}

func (c *MarketCalendar) location(exchange string) *time.Location {
	spec := specFor(exchange)
	loc, err := time.LoadLocation(NormalizeTimezone(spec.timezone))
	if err != nil {
		logger.L.Warn("Failed to load exchange timezone, using UTC", "exchange", exchange, "timezone", spec.timezone, "error", err)
		return time.UTC
	}
	return loc
}

// IsOpen reports whether the exchange is inside its trading window
// (session plus a 30 minute buffer on each side) at the given instant.
func (c *MarketCalendar) IsOpen(exchange string, at time.Time) bool {
	loc := c.location(exchange)
	local := at.In(loc)

	if !c.IsTradingDay(exchange, local) {
		return false
	}

	spec := specFor(exchange)
	open := time.Date(local.Year(), local.Month(), local.Day(), spec.openHour, spec.openMin, 0, 0, loc).Add(-sessionBuffer)
	close := time.Date(local.Year(), local.Month(), local.Day(), spec.closeHour, spec.closeMin, 0, 0, loc).Add(sessionBuffer)
	return !local.Before(open) && !local.After(close)
}

// IsTradingDay reports whether the date (in exchange-local terms) is a
// weekday and not an exchange holiday.
func (c *MarketCalendar) IsTradingDay(exchange string, date time.Time) bool {
	wd := date.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.isHoliday(exchange, date)
}

// IsWeekend reports whether the instant falls on a weekend in the
// exchange's local timezone.
func (c *MarketCalendar) IsWeekend(exchange string, at time.Time) bool {
	wd := at.In(c.location(exchange)).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// LastTradingDay returns the most recent session date on or before the
// given instant. The current day counts once its session has opened.
func (c *MarketCalendar) LastTradingDay(exchange string, at time.Time) time.Time {
	loc := c.location(exchange)
	spec := specFor(exchange)
	local := at.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	open := time.Date(local.Year(), local.Month(), local.Day(), spec.openHour, spec.openMin, 0, 0, loc)
	if !c.IsTradingDay(exchange, local) || local.Before(open) {
		day = day.AddDate(0, 0, -1)
	}
	for !c.IsTradingDay(exchange, day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// NextTradingDay returns the first session date strictly after the given
// date.
func (c *MarketCalendar) NextTradingDay(exchange string, after time.Time) time.Time {
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	for !c.IsTradingDay(exchange, day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// MissedSessions lists every session date strictly after since up to and
// including the last trading day relative to now.
func (c *MarketCalendar) MissedSessions(exchange string, since, now time.Time) []time.Time {
	last := c.LastTradingDay(exchange, now)
	var sessions []time.Time
	day := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	for day = day.AddDate(0, 0, 1); !day.After(last); day = day.AddDate(0, 0, 1) {
		if c.IsTradingDay(exchange, day) {
			sessions = append(sessions, day)
		}
	}
	return sessions
}

// TradingDays lists every session date in [start, end].
func (c *MarketCalendar) TradingDays(exchange string, start, end time.Time) []time.Time {
	var days []time.Time
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		if c.IsTradingDay(exchange, day) {
			days = append(days, day)
		}
	}
	return days
}

func (c *MarketCalendar) isHoliday(exchange string, date time.Time) bool {
	if _, ok := exchangeSpecs[exchange]; !ok {
		exchange = defaultExchange
	}
	table := c.holidaysFor(exchange, date.Year())
	return table[date.Format("2006-01-02")]
}

func (c *MarketCalendar) holidaysFor(exchange string, year int) map[string]bool {
	key := exchange + "/" + time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006")

	c.mu.Lock()
	defer c.mu.Unlock()
	if table, ok := c.holidays[key]; ok {
		return table
	}

	table, err := c.holidaySource.Holidays(exchange, year)
	if err != nil {
		// Fail open: pricing against a holiday is better than refusing to
		// price at all. Cache the empty table to avoid hammering the source.
		logger.L.Warn("Failed to load holiday table, treating year as holiday-free",
			"exchange", exchange, "year", year, "error", err)
		table = map[string]bool{}
	}
	if table == nil {
		table = map[string]bool{}
	}
	c.holidays[key] = table
	return table
}

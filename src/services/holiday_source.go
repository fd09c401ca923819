package services

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
)

// fileHolidaySource reads exchange holiday tables from a JSON file shaped
// {"NYSE": {"2025": ["2025-01-01", ...]}}. The file is parsed once, on
// first use. Exchanges missing from the file fall back to the built-in
// NYSE table.
type fileHolidaySource struct {
	path string

	once   sync.Once
	tables map[string]map[string][]string
}

func NewFileHolidaySource(path string) HolidaySource {
	return &fileHolidaySource{path: path}
}

func (s *fileHolidaySource) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		logger.L.Warn("Holiday data file not readable, using built-in table only", "path", s.path, "error", err)
		return
	}
	var tables map[string]map[string][]string
	if err := json.Unmarshal(data, &tables); err != nil {
		logger.L.Error("Failed to parse holiday data file", "path", s.path, "error", err)
		return
	}
	s.tables = tables
	logger.L.Info("Holiday data file loaded", "path", s.path, "exchanges", len(tables))
}

func (s *fileHolidaySource) Holidays(exchange string, year int) (map[string]bool, error) {
	s.once.Do(s.load)

	yearKey := strconv.Itoa(year)
	if byYear, ok := s.tables[exchange]; ok {
		if dates, ok := byYear[yearKey]; ok {
			return toSet(dates), nil
		}
	}
	if dates, ok := builtinNYSEHolidays[yearKey]; ok {
		return toSet(dates), nil
	}
	return nil, fmt.Errorf("no holiday table for %s/%d", exchange, year)
}

func toSet(dates []string) map[string]bool {
	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		set[d] = true
	}
	return set
}

// NYSE full-day closures. Used for any exchange not covered by the data
// file, matching the fail-open default of NYSE hours for unknown
// exchanges.
var builtinNYSEHolidays = map[string][]string{
	"2024": {
		"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29",
		"2024-05-27", "2024-06-19", "2024-07-04", "2024-09-02",
		"2024-11-28", "2024-12-25",
	},
	"2025": {
		"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17",
		"2025-04-18", "2025-05-26", "2025-06-19", "2025-07-04",
		"2025-09-01", "2025-11-27", "2025-12-25",
	},
	"2026": {
		"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03",
		"2026-05-25", "2026-06-19", "2026-07-03", "2026-09-07",
		"2026-11-26", "2026-12-25",
	},
}

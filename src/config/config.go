package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	// Market data provider (Alpha Vantage compatible)
	QuoteAPIKey  string
	QuoteBaseURL string
	QuoteTimeout time.Duration

	// Price cache TTLs, picked by market state at lookup time.
	CacheTTLMarketOpen   time.Duration
	CacheTTLMarketClosed time.Duration
	CacheTTLWeekend      time.Duration

	// Circuit breaker for the external quote provider.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// Per-user throttle on explicit price refreshes.
	RefreshMinInterval time.Duration

	// Max age (days) a stored price may have and still count as "recent"
	// for batch valuation lookups.
	BatchPriceMaxAgeDays int
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	quoteAPIKey := getEnv("QUOTE_API_KEY", "")
	if quoteAPIKey == "" {
		log.Println("WARNING: QUOTE_API_KEY is not set. External quote fetching will fail and the engine will serve stored prices only.")
	}

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./portfolio.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		QuoteAPIKey:  quoteAPIKey,
		QuoteBaseURL: getEnv("QUOTE_BASE_URL", "https://www.alphavantage.co/query"),
		QuoteTimeout: getEnvAsDuration("QUOTE_TIMEOUT", 20*time.Second),

		CacheTTLMarketOpen:   getEnvAsDuration("CACHE_TTL_MARKET_OPEN", 15*time.Minute),
		CacheTTLMarketClosed: getEnvAsDuration("CACHE_TTL_MARKET_CLOSED", 60*time.Minute),
		CacheTTLWeekend:      getEnvAsDuration("CACHE_TTL_WEEKEND", 24*time.Hour),

		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvAsDuration("BREAKER_RECOVERY_TIMEOUT", 5*time.Minute),

		RefreshMinInterval: getEnvAsDuration("REFRESH_MIN_INTERVAL", 15*time.Minute),

		BatchPriceMaxAgeDays: getEnvAsInt("BATCH_PRICE_MAX_AGE_DAYS", 7),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, QuoteBaseURL=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.QuoteBaseURL)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

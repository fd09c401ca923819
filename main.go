package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/config"
	"github.com/mike2153/portfolio-tracker-sub000/src/database"
	"github.com/mike2153/portfolio-tracker-sub000/src/handlers"
	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, X-User-ID, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Portfolio tracker backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing services and handlers...")
	txStore := services.NewSQLTransactionStore(database.DB)
	priceStore := services.NewSQLPriceStore(database.DB)
	breakerStore := services.NewSQLBreakerStore(database.DB)
	refreshStore := services.NewSQLRefreshStore(database.DB)

	calendar := services.NewMarketCalendar(services.NewFileHolidaySource("data/market_holidays.json"))
	breaker := services.NewCircuitBreaker(breakerStore, config.Cfg.BreakerFailureThreshold, config.Cfg.BreakerRecoveryTimeout)
	quoteSource := services.NewQuoteClient(config.Cfg.QuoteBaseURL, config.Cfg.QuoteAPIKey, config.Cfg.QuoteTimeout)
	priceCache := services.NewPriceCache(priceStore, quoteSource, breaker, calendar, services.PriceCacheTTLs{
		MarketOpen:   config.Cfg.CacheTTLMarketOpen,
		MarketClosed: config.Cfg.CacheTTLMarketClosed,
		Weekend:      config.Cfg.CacheTTLWeekend,
	}, config.Cfg.BatchPriceMaxAgeDays)

	performanceService := services.NewPerformanceService(txStore, priceCache, calendar, refreshStore, config.Cfg.RefreshMinInterval)

	portfolioHandler := handlers.NewPortfolioHandler(performanceService)
	txHandler := handlers.NewTransactionHandler(txStore)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	withUser := func(handler http.HandlerFunc) http.Handler {
		return handlers.UserIDMiddleware(handler)
	}

	apiRouter.Handle("POST /api/transactions", withUser(txHandler.HandleCreateTransaction))
	apiRouter.Handle("GET /api/transactions", withUser(txHandler.HandleGetTransactions))
	apiRouter.Handle("DELETE /api/transactions/all", withUser(txHandler.HandleDeleteAllTransactions))
	apiRouter.Handle("GET /api/portfolio/snapshot", withUser(portfolioHandler.HandleGetPortfolioSnapshot))
	apiRouter.Handle("GET /api/portfolio/timeseries", withUser(portfolioHandler.HandleGetTimeSeries))
	apiRouter.Handle("GET /api/portfolio/metrics", withUser(portfolioHandler.HandleGetPerformanceMetrics))
	apiRouter.Handle("POST /api/portfolio/refresh-prices", withUser(portfolioHandler.HandleRefreshPrices))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Portfolio tracker backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(handlers.RequestIDMiddleware(rootMux)))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}

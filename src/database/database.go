package database

import (
	"database/sql"
	stdlog "log"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migratePriceTable()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		price_per_unit REAL NOT NULL,
		commission REAL NOT NULL DEFAULT 0,
		date TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date, id);

	CREATE TABLE IF NOT EXISTS historical_prices (
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		open REAL,
		high REAL,
		low REAL,
		close REAL NOT NULL,
		adjusted_close REAL,
		volume INTEGER,
		PRIMARY KEY (symbol, date)
	);

	CREATE TABLE IF NOT EXISTS circuit_breaker_state (
		service TEXT PRIMARY KEY,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_failure_at TEXT,
		state TEXT NOT NULL DEFAULT 'CLOSED',
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS price_refresh_state (
		user_id INTEGER PRIMARY KEY,
		last_refresh_at TEXT NOT NULL
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migratePriceTable backfills the adjusted_close column on databases
// created before it existed.
func migratePriceTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='historical_prices'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			if logger.L != nil {
				logger.L.Info("'historical_prices' table does not exist, no migration needed as table will be created.")
			} else {
				stdlog.Println("'historical_prices' table does not exist, no migration needed as table will be created.")
			}
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'historical_prices' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'historical_prices' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(historical_prices)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'historical_prices'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'historical_prices': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'historical_prices'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'historical_prices': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'historical_prices'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'historical_prices': %v", err)
		}
		return
	}

	if _, ok := columnExists["adjusted_close"]; !ok {
		_, err := DB.Exec("ALTER TABLE historical_prices ADD COLUMN adjusted_close REAL")
		if err != nil {
			logger.L.Error("Error adding 'adjusted_close' column to 'historical_prices' table", "error", err)
		} else {
			logger.L.Info("Added 'adjusted_close' column to 'historical_prices' table")
			_, errUpdate := DB.Exec("UPDATE historical_prices SET adjusted_close = close WHERE adjusted_close IS NULL")
			if errUpdate != nil {
				logger.L.Error("Error backfilling adjusted_close values for existing rows", "error", errUpdate)
			}
		}
	}
}

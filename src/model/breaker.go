package model

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

// GetCircuitState loads the persisted breaker record for a service.
// A service without a record starts CLOSED with a zero failure count.
func GetCircuitState(db *sql.DB, service string) (models.CircuitState, error) {
	row := db.QueryRow(`
		SELECT service, failure_count, last_failure_at, state
		FROM circuit_breaker_state WHERE service = ?`, service)

	var st models.CircuitState
	var lastFailure sql.NullString
	if err := row.Scan(&st.Service, &st.FailureCount, &lastFailure, &st.State); err != nil {
		if err == sql.ErrNoRows {
			return models.CircuitState{Service: service, State: models.CircuitClosed}, nil
		}
		return models.CircuitState{}, fmt.Errorf("loading circuit state for %s: %w", service, err)
	}
	if lastFailure.Valid && lastFailure.String != "" {
		t, err := time.Parse(time.RFC3339, lastFailure.String)
		if err != nil {
			return models.CircuitState{}, fmt.Errorf("parsing last_failure_at %q: %w", lastFailure.String, err)
		}
		st.LastFailureAt = t
	}
	return st, nil
}

// SaveCircuitState upserts the breaker record so every worker sharing the
// database sees the same failure history.
func SaveCircuitState(db *sql.DB, st models.CircuitState) error {
	var lastFailure interface{}
	if !st.LastFailureAt.IsZero() {
		lastFailure = st.LastFailureAt.UTC().Format(time.RFC3339)
	}
	_, err := db.Exec(`
		INSERT INTO circuit_breaker_state (service, failure_count, last_failure_at, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			failure_count = excluded.failure_count,
			last_failure_at = excluded.last_failure_at,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		st.Service, st.FailureCount, lastFailure, st.State, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving circuit state for %s: %w", st.Service, err)
	}
	return nil
}

// GetLastRefresh returns when the user last triggered a price refresh, or
// the zero time if they never have.
func GetLastRefresh(db *sql.DB, userID int64) (time.Time, error) {
	row := db.QueryRow(`SELECT last_refresh_at FROM price_refresh_state WHERE user_id = ?`, userID)
	var ts string
	if err := row.Scan(&ts); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("loading refresh state for user %d: %w", userID, err)
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last_refresh_at %q: %w", ts, err)
	}
	return t, nil
}

// SetLastRefresh records a completed refresh as backoff-as-data: the next
// allowed attempt is derived from this timestamp, no sleeping involved.
func SetLastRefresh(db *sql.DB, userID int64, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO price_refresh_state (user_id, last_refresh_at)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_refresh_at = excluded.last_refresh_at`,
		userID, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving refresh state for user %d: %w", userID, err)
	}
	return nil
}

package services

import (
	"errors"
	"testing"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

const testService = "quote_provider"

func newTestBreaker(store BreakerStore, at time.Time) *CircuitBreaker {
	b := NewCircuitBreaker(store, 3, 5*time.Minute)
	b.now = func() time.Time { return at }
	return b
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	store := newMemoryBreakerStore()
	b := newTestBreaker(store, utc("2025-03-11T14:00"))

	b.RecordFailure(testService)
	b.RecordFailure(testService)
	if b.IsOpen(testService) {
		t.Fatal("breaker open below the failure threshold")
	}

	b.RecordFailure(testService)
	if !b.IsOpen(testService) {
		t.Fatal("breaker should open at the failure threshold")
	}
	if st := store.states[testService]; st.State != models.CircuitOpen {
		t.Errorf("persisted state = %s, want %s", st.State, models.CircuitOpen)
	}
}

func TestBreakerHalfOpenProbeAfterRecovery(t *testing.T) {
	store := newMemoryBreakerStore()
	failedAt := utc("2025-03-11T14:00")
	b := newTestBreaker(store, failedAt)
	for i := 0; i < 3; i++ {
		b.RecordFailure(testService)
	}

	// Before the recovery window elapses the breaker stays open.
	b.now = func() time.Time { return failedAt.Add(4 * time.Minute) }
	if !b.IsOpen(testService) {
		t.Fatal("breaker should stay open inside the recovery window")
	}

	// After the window the next check transitions to half-open and admits
	// a single probe.
	b.now = func() time.Time { return failedAt.Add(6 * time.Minute) }
	if b.IsOpen(testService) {
		t.Fatal("breaker should admit a probe after the recovery timeout")
	}
	if st := store.states[testService]; st.State != models.CircuitHalfOpen {
		t.Errorf("persisted state = %s, want %s", st.State, models.CircuitHalfOpen)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	store := newMemoryBreakerStore()
	failedAt := utc("2025-03-11T14:00")
	b := newTestBreaker(store, failedAt)
	for i := 0; i < 3; i++ {
		b.RecordFailure(testService)
	}

	b.now = func() time.Time { return failedAt.Add(6 * time.Minute) }
	if b.IsOpen(testService) {
		t.Fatal("expected half-open probe")
	}
	b.RecordFailure(testService)
	if !b.IsOpen(testService) {
		t.Fatal("failed probe should reopen the breaker")
	}
}

func TestBreakerSuccessClosesAndClearsHistory(t *testing.T) {
	store := newMemoryBreakerStore()
	failedAt := utc("2025-03-11T14:00")
	b := newTestBreaker(store, failedAt)
	for i := 0; i < 3; i++ {
		b.RecordFailure(testService)
	}

	b.now = func() time.Time { return failedAt.Add(6 * time.Minute) }
	if b.IsOpen(testService) {
		t.Fatal("expected half-open probe")
	}
	b.RecordSuccess(testService)

	st := store.states[testService]
	if st.State != models.CircuitClosed {
		t.Errorf("state = %s, want %s", st.State, models.CircuitClosed)
	}
	if st.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0", st.FailureCount)
	}
	if b.IsOpen(testService) {
		t.Error("closed breaker should admit calls")
	}
}

func TestBreakerFailsOpenOnStoreErrors(t *testing.T) {
	store := newMemoryBreakerStore()
	store.getErr = errors.New("database is locked")
	b := newTestBreaker(store, utc("2025-03-11T14:00"))

	if b.IsOpen(testService) {
		t.Error("unreadable state must fail open")
	}
	// Recording against a broken store must not panic or wedge state.
	b.RecordFailure(testService)
	b.RecordSuccess(testService)
	if len(store.states) != 0 {
		t.Errorf("no state should persist through read failures: %v", store.states)
	}
}

func TestBreakerReset(t *testing.T) {
	store := newMemoryBreakerStore()
	b := newTestBreaker(store, utc("2025-03-11T14:00"))
	for i := 0; i < 3; i++ {
		b.RecordFailure(testService)
	}
	b.Reset(testService)
	if b.IsOpen(testService) {
		t.Error("reset breaker should be closed")
	}
	if st := store.states[testService]; st.FailureCount != 0 {
		t.Errorf("failure count after reset = %d, want 0", st.FailureCount)
	}
}

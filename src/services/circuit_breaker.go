package services

import (
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
)

// CircuitBreaker guards calls to a failing external dependency. State lives
// in a BreakerStore shared by all workers, not in per-instance memory, so
// there is no split-brain view of a sick provider. Any store failure fails
// open: an infrastructure hiccup must never escalate into a full outage.
type CircuitBreaker struct {
	store            BreakerStore
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
}

func NewCircuitBreaker(store BreakerStore, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		store:            store,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// IsOpen reports whether calls to the service should be skipped. An OPEN
// breaker whose recovery timeout has elapsed transitions to HALF_OPEN and
// lets the next call through as a probe.
func (b *CircuitBreaker) IsOpen(service string) bool {
	st, err := b.store.GetState(service)
	if err != nil {
		logger.L.Warn("Circuit breaker state read failed, failing open", "service", service, "error", err)
		return false
	}

	if st.State != models.CircuitOpen {
		return false
	}

	if b.now().Sub(st.LastFailureAt) >= b.recoveryTimeout {
		st.State = models.CircuitHalfOpen
		if err := b.store.SaveState(st); err != nil {
			logger.L.Warn("Circuit breaker state write failed", "service", service, "error", err)
		}
		logger.L.Info("Circuit breaker half-open, allowing probe call", "service", service)
		return false
	}
	return true
}

// RecordFailure counts a failed call. Reaching the threshold, or failing a
// half-open probe, opens the breaker with a fresh recovery window.
func (b *CircuitBreaker) RecordFailure(service string) {
	st, err := b.store.GetState(service)
	if err != nil {
		logger.L.Warn("Circuit breaker state read failed on failure record", "service", service, "error", err)
		return
	}

	st.FailureCount++
	st.LastFailureAt = b.now()
	if st.State == models.CircuitHalfOpen || st.FailureCount >= b.failureThreshold {
		if st.State != models.CircuitOpen {
			logger.L.Warn("Circuit breaker opened", "service", service, "failureCount", st.FailureCount)
		}
		st.State = models.CircuitOpen
	}

	if err := b.store.SaveState(st); err != nil {
		logger.L.Warn("Circuit breaker state write failed", "service", service, "error", err)
	}
}

// RecordSuccess closes the breaker and clears the failure history.
func (b *CircuitBreaker) RecordSuccess(service string) {
	st, err := b.store.GetState(service)
	if err != nil {
		logger.L.Warn("Circuit breaker state read failed on success record", "service", service, "error", err)
		return
	}
	if st.State == models.CircuitClosed && st.FailureCount == 0 {
		return
	}
	if st.State != models.CircuitClosed {
		logger.L.Info("Circuit breaker closed after successful call", "service", service)
	}

	st.FailureCount = 0
	st.LastFailureAt = time.Time{}
	st.State = models.CircuitClosed
	if err := b.store.SaveState(st); err != nil {
		logger.L.Warn("Circuit breaker state write failed", "service", service, "error", err)
	}
}

// Reset forces the breaker closed regardless of prior state.
func (b *CircuitBreaker) Reset(service string) {
	st := models.CircuitState{Service: service, State: models.CircuitClosed}
	if err := b.store.SaveState(st); err != nil {
		logger.L.Warn("Circuit breaker reset failed", "service", service, "error", err)
	}
}

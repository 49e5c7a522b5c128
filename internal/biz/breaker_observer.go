package biz

import (
	"InsightRelay/internal/model"
)

// BreakerObserver receives circuit breaker state transitions.
// Implementations must not block; events are delivered synchronously
// from the goroutine that caused the transition.
type BreakerObserver interface {
	// NotifyCircuitBroken is called when a breaker opens
	NotifyCircuitBroken(event *model.CircuitBrokenEvent)

	// NotifyCircuitHalfOpen is called when a breaker starts allowing trial calls
	NotifyCircuitHalfOpen(event *model.CircuitHalfOpenEvent)

	// NotifyCircuitRecovered is called when a breaker closes
	NotifyCircuitRecovered(event *model.CircuitRecoveredEvent)
}

// noopBreakerObserver discards all events.
type noopBreakerObserver struct{}

func (noopBreakerObserver) NotifyCircuitBroken(*model.CircuitBrokenEvent)       {}
func (noopBreakerObserver) NotifyCircuitHalfOpen(*model.CircuitHalfOpenEvent)   {}
func (noopBreakerObserver) NotifyCircuitRecovered(*model.CircuitRecoveredEvent) {}

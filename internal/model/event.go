package model

import "time"

// CircuitBrokenEvent is emitted when a provider breaker moves to open
type CircuitBrokenEvent struct {
	Provider            string
	ConsecutiveFailures int
	CircuitBrokenAt     time.Time
	// FromHalfOpen is true when a trial call failed and the breaker re-opened
	FromHalfOpen bool
}

// CircuitHalfOpenEvent is emitted when the reset timeout elapsed and trial calls are allowed
type CircuitHalfOpenEvent struct {
	Provider     string
	OpenDuration time.Duration
	At           time.Time
}

// CircuitRecoveredEvent is emitted when a provider breaker closes again
type CircuitRecoveredEvent struct {
	Provider    string
	ProbeCount  int
	RecoverTime time.Duration
	// Manual is true for administrative resets
	Manual bool
}

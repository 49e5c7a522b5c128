package model

// Breaker audit event type constants
const (
	AuditEventCircuitBroken    = "CIRCUIT_BROKEN"
	AuditEventCircuitHalfOpen  = "CIRCUIT_HALF_OPEN"
	AuditEventCircuitRecovered = "CIRCUIT_RECOVERED"
	AuditEventCircuitReset     = "CIRCUIT_RESET"
)

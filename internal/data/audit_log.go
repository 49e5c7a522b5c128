package data

import (
	"encoding/json"
	"sync"
	"time"

	"InsightRelay/internal/model"
	ilog "InsightRelay/pkg/log"
	"InsightRelay/pkg/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// auditBufferSize bounds queued breaker events; senders never block.
const auditBufferSize = 1000

// AuditLog is one breaker state transition, written to the audit log stream.
type AuditLog struct {
	Provider   string
	ActionType string
	// BreakerState is the metrics gauge value after the transition.
	BreakerState int
	Details      map[string]interface{}
	CreatedAt    time.Time
}

// BreakerAuditLog implements biz.BreakerObserver. Breakers notify it from
// request goroutines; events are queued and written by a background
// goroutine, which also updates the breaker state gauge.
type BreakerAuditLog struct {
	logChan chan *AuditLog
	metrics *metrics.Metrics
	logger  *ilog.LogHelper
	done    chan struct{}
	once    sync.Once
}

// NewBreakerAuditLog creates the audit log and starts its writer.
// The returned cleanup drains queued events.
func NewBreakerAuditLog(m *metrics.Metrics, logger log.Logger) (*BreakerAuditLog, func()) {
	al := &BreakerAuditLog{
		logChan: make(chan *AuditLog, auditBufferSize),
		metrics: m,
		logger:  ilog.NewLogHelper(logger),
		done:    make(chan struct{}),
	}

	go al.start()

	return al, al.Close
}

// start processes audit events from the channel until it is closed.
func (a *BreakerAuditLog) start() {
	defer close(a.done)
	for event := range a.logChan {
		a.metrics.SetBreakerState(event.Provider, event.BreakerState)

		details, err := json.Marshal(event.Details)
		if err != nil {
			a.logger.Errorw("msg", "failed to marshal audit log details", "provider", event.Provider, "error", err)
			continue
		}
		a.logger.Audit(event.ActionType,
			"provider", event.Provider,
			"action_type", event.ActionType,
			"details", string(details),
			"at", event.CreatedAt.Format(time.RFC3339))
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (a *BreakerAuditLog) Close() {
	a.once.Do(func() {
		close(a.logChan)
		<-a.done
	})
}

// enqueue sends without blocking; a full buffer drops the event.
func (a *BreakerAuditLog) enqueue(event *AuditLog) {
	defer func() {
		// sending after Close panics; late transitions during shutdown are dropped
		if recover() != nil {
			a.logger.Warnw("msg", "audit log closed, dropping event", "provider", event.Provider, "action_type", event.ActionType)
		}
	}()

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"provider", event.Provider,
			"action_type", event.ActionType)
	}
}

// NotifyCircuitBroken logs a breaker opening.
func (a *BreakerAuditLog) NotifyCircuitBroken(e *model.CircuitBrokenEvent) {
	a.enqueue(&AuditLog{
		Provider:     e.Provider,
		ActionType:   model.AuditEventCircuitBroken,
		BreakerState: metrics.BreakerOpen,
		Details: map[string]interface{}{
			"consecutive_failures": e.ConsecutiveFailures,
			"circuit_broken_at":    e.CircuitBrokenAt.Format(time.RFC3339),
			"from_half_open":       e.FromHalfOpen,
		},
		CreatedAt: e.CircuitBrokenAt,
	})
}

// NotifyCircuitHalfOpen logs a breaker admitting a trial call.
func (a *BreakerAuditLog) NotifyCircuitHalfOpen(e *model.CircuitHalfOpenEvent) {
	a.enqueue(&AuditLog{
		Provider:     e.Provider,
		ActionType:   model.AuditEventCircuitHalfOpen,
		BreakerState: metrics.BreakerHalfOpen,
		Details: map[string]interface{}{
			"open_duration_seconds": e.OpenDuration.Seconds(),
		},
		CreatedAt: e.At,
	})
}

// NotifyCircuitRecovered logs a breaker closing, by probes or by an administrative reset.
func (a *BreakerAuditLog) NotifyCircuitRecovered(e *model.CircuitRecoveredEvent) {
	action := model.AuditEventCircuitRecovered
	if e.Manual {
		action = model.AuditEventCircuitReset
	}
	a.enqueue(&AuditLog{
		Provider:     e.Provider,
		ActionType:   action,
		BreakerState: metrics.BreakerClosed,
		Details: map[string]interface{}{
			"recover_time_seconds": e.RecoverTime.Seconds(),
			"probe_count":          e.ProbeCount,
		},
		CreatedAt: time.Now(),
	})
}

package service

import (
	"sync"

	"InsightRelay/internal/biz"
	ilog "InsightRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService publishes provider availability over grpc.health.v1.
// The empty service name reports the process itself; each provider is a
// service that is NOT_SERVING while its breaker is open.
type HealthService struct {
	health   *health.Server
	breakers *biz.BreakerRegistry
	repo     biz.ProviderRepo
	logger   *ilog.LogHelper

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthService creates a HealthService with every provider serving.
func NewHealthService(breakers *biz.BreakerRegistry, repo biz.ProviderRepo, logger log.Logger) *HealthService {
	s := &HealthService{
		health:   health.NewServer(),
		breakers: breakers,
		repo:     repo,
		logger:   ilog.NewLogHelper(logger),
		last:     make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.Refresh()
	return s
}

// Server returns the grpc health server to register.
func (s *HealthService) Server() *health.Server { return s.health }

// Refresh recomputes provider statuses from breaker snapshots and returns them.
// Snapshots do not move breakers to half-open; a breaker past its reset
// timeout stays NOT_SERVING until the next request probes it.
func (s *HealthService) Refresh() map[string]healthpb.HealthCheckResponse_ServingStatus {
	statuses := make(map[string]healthpb.HealthCheckResponse_ServingStatus)
	for _, name := range s.repo.Names() {
		statuses[name] = healthpb.HealthCheckResponse_SERVING
	}
	for _, snap := range s.breakers.Snapshots() {
		if _, ok := statuses[snap.Provider]; !ok {
			continue
		}
		if snap.State == biz.BreakerOpen {
			statuses[snap.Provider] = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, status := range statuses {
		s.health.SetServingStatus(name, status)
		if prev, ok := s.last[name]; ok && prev != status {
			s.logger.Breaker("provider health changed",
				"provider", name,
				"from", prev.String(),
				"to", status.String())
		}
		s.last[name] = status
	}
	return statuses
}

// Shutdown marks every service NOT_SERVING.
func (s *HealthService) Shutdown() {
	s.health.Shutdown()
}

package main

import (
	"context"
	"fmt"

	"InsightRelay/internal/biz"
	"InsightRelay/internal/conf"
	"InsightRelay/internal/service"
	pkglog "InsightRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// defaultSweepSchedule is used when resilience.cache.sweep_schedule is empty.
const defaultSweepSchedule = "@every 1m"

// maintenance runs the periodic housekeeping job: expired result sweep,
// provider health refresh and a breaker summary for breakers not closed.
type maintenance struct {
	cron     *cron.Cron
	schedule string
	cache    *biz.ResultCache
	health   *service.HealthService
	breakers *biz.BreakerRegistry
	logger   *pkglog.LogHelper
}

// newMaintenance registers the job; it starts with the app.
// Schedules accept an optional seconds field and descriptors such as "@every 30s".
func newMaintenance(c *conf.Resilience, cache *biz.ResultCache, health *service.HealthService, breakers *biz.BreakerRegistry, logger log.Logger) (*maintenance, error) {
	schedule := defaultSweepSchedule
	if c != nil && c.Cache != nil && c.Cache.SweepSchedule != "" {
		schedule = c.Cache.SweepSchedule
	}

	m := &maintenance{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		schedule: schedule,
		cache:    cache,
		health:   health,
		breakers: breakers,
		logger:   pkglog.NewLogHelper(logger),
	}
	if _, err := m.cron.AddFunc(schedule, m.runOnce); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job %q: %w", schedule, err)
	}
	return m, nil
}

// runOnce performs one maintenance pass.
func (m *maintenance) runOnce() {
	removed := m.cache.Sweep()
	stats := m.cache.Stats()
	m.logger.CacheStats(stats.Entries, stats.Hits, stats.Misses, stats.Expired, "swept", removed)

	m.health.Refresh()

	for _, snap := range m.breakers.Snapshots() {
		if snap.State == biz.BreakerClosed {
			continue
		}
		m.logger.Breaker(fmt.Sprintf("breaker for %s is %s", snap.Provider, snap.State),
			"provider", snap.Provider,
			"state", snap.State.String(),
			"consecutive_failures", snap.ConsecutiveFailures,
			"last_failure_at", snap.LastFailureAt)
	}
}

// Start begins scheduling.
func (m *maintenance) Start(_ context.Context) error {
	m.cron.Start()
	m.logger.Scheduler("maintenance job started", "schedule", m.schedule)
	return nil
}

// Stop waits for a running pass to finish or ctx to end.
func (m *maintenance) Stop(ctx context.Context) error {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
	}
	m.health.Shutdown()
	m.logger.Scheduler("maintenance job stopped")
	return nil
}

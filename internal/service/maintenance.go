package service

import (
	"context"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/crash"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/metrics"
)

const maintenanceInterval = time.Minute

// StartMaintenance runs the periodic cleanup loop until ctx is done.
// Pending guild removals are loaded from storage on every round, so ones
// scheduled before a restart are still carried out.
func (s *Service) StartMaintenance(ctx context.Context) {
	crash.SafeGoroutine("maintenance", func() {
		logger.Infof("Starting maintenance loop with interval: %v", maintenanceInterval)
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()

		s.maintain(ctx)
		for {
			select {
			case <-ctx.Done():
				logger.Info("Maintenance loop stopped")
				return
			case <-ticker.C:
				s.maintain(ctx)
			}
		}
	})
	crash.SafeGoroutine("processing-stats", func() {
		metrics.LogProcessingStats(ctx, 5*time.Minute)
	})
}

// maintain runs one round; each step is independent of the others.
func (s *Service) maintain(ctx context.Context) {
	defer crash.RecoverWithStack("maintenance-round")

	if s.memClaims != nil {
		if n := s.memClaims.Sweep(); n > 0 {
			logger.Debugf("Swept %d expired claims", n)
		}
	}
	s.Cooldown.Prune()
	if n := s.IPLimiter.Prune(); n > 0 {
		logger.Debugf("Pruned %d idle rate-limit addresses", n)
	}
	if n := s.Cache.Evict(); n > 0 {
		logger.Debugf("Evicted %d idle message buffers", n)
	}
	metrics.CacheUsers.Set(float64(s.Cache.Users()))
	metrics.RateLimitAddresses.Set(float64(s.IPLimiter.Tracked()))

	if _, err := s.Processor.ProcessDueRemovals(ctx); err != nil {
		logger.Errorf("Error loading pending removals: %v", err)
	}
	s.heartbeat.Store(time.Now().UnixNano())
}

// Heartbeat is the completion time of the last maintenance round.
func (s *Service) Heartbeat() time.Time {
	ns := s.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Package metrics exposes Prometheus collectors and the periodic
// processing stats log line.
package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appeals_submissions_total",
		Help: "Appeal submissions by platform and outcome.",
	}, []string{"platform", "outcome"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appeals_decisions_total",
		Help: "Moderator decisions by action and outcome.",
	}, []string{"action", "outcome"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appeals_rate_limited_total",
		Help: "Requests rejected by a rate limiter.",
	}, []string{"scope"})

	GatewayRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appeals_gateway_retries_total",
		Help: "Outbound calls retried after a 429.",
	})

	RelayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appeals_relay_events_total",
		Help: "Relayed platform events by type.",
	}, []string{"type"})

	CacheUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "appeals_message_cache_users",
		Help: "Appellants with a live message context buffer.",
	})

	RateLimitAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "appeals_rate_limit_addresses",
		Help: "Network addresses tracked by the submission limiter.",
	})
)

// processing stats for the log line
var (
	totalRequests  int64
	totalErrors    int64
	totalCallbacks int64
	startTime      = time.Now()
)

func IncRequests()  { atomic.AddInt64(&totalRequests, 1) }
func IncErrors()    { atomic.AddInt64(&totalErrors, 1) }
func IncCallbacks() { atomic.AddInt64(&totalCallbacks, 1) }

// GetProcessingStats returns a snapshot of the runtime and request counters.
func GetProcessingStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime_seconds":  int64(time.Since(startTime).Seconds()),
		"total_requests":  atomic.LoadInt64(&totalRequests),
		"total_callbacks": atomic.LoadInt64(&totalCallbacks),
		"total_errors":    atomic.LoadInt64(&totalErrors),
		"memory_usage_mb": bToMb(m.Alloc),
		"sys_memory_mb":   bToMb(m.Sys),
		"gc_runs":         m.NumGC,
		"goroutines":      runtime.NumGoroutine(),
	}
}

// LogProcessingStats logs the stats every interval until ctx is done.
func LogProcessingStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		stats := GetProcessingStats()
		logger.Infof("Processing stats: %+v", stats)

		requests := stats["total_requests"].(int64)
		errs := stats["total_errors"].(int64)
		if requests > 0 && float64(errs)/float64(requests) > 0.1 {
			logger.Warningf("High error rate: %.2f%% (%d errors out of %d requests)",
				float64(errs)/float64(requests)*100, errs, requests)
		}
	}
}

// GetDetailedStatus renders the stats for the debug endpoint.
func GetDetailedStatus() string {
	stats := GetProcessingStats()
	return fmt.Sprintf(`
=== Ban Appeals Processing Status ===
Uptime: %d seconds
Requests: %d
Callback Queries: %d
Errors: %d
Memory Usage: %d MB
System Memory: %d MB
GC Runs: %d
Goroutines: %d
=====================================`,
		stats["uptime_seconds"],
		stats["total_requests"],
		stats["total_callbacks"],
		stats["total_errors"],
		stats["memory_usage_mb"],
		stats["sys_memory_mb"],
		stats["gc_runs"],
		stats["goroutines"],
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

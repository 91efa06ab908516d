package ratelimit

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
)

// IPLimiter is a per-address sliding window. Addresses are updated under
// their own map entry, so unrelated addresses never contend.
type IPLimiter struct {
	window      time.Duration
	maxRequests int
	tableCap    int
	hits        *xsync.MapOf[string, []time.Time]
	now         func() time.Time
}

func NewIPLimiter(window time.Duration, maxRequests, tableCap int) *IPLimiter {
	return &IPLimiter{
		window:      window,
		maxRequests: maxRequests,
		tableCap:    tableCap,
		hits:        xsync.NewMapOf[string, []time.Time](),
		now:         time.Now,
	}
}

func (l *IPLimiter) WithClock(now func() time.Time) *IPLimiter {
	l.now = now
	return l
}

// Allow records a request from addr, or returns a RateLimitedError when the
// address already has maxRequests hits inside the window.
func (l *IPLimiter) Allow(addr string) error {
	if l.tableCap > 0 && l.hits.Size() > l.tableCap {
		l.hits.Clear()
	}

	now := l.now()
	windowStart := now.Add(-l.window)
	var retryAfter time.Duration
	limited := false

	l.hits.Compute(addr, func(old []time.Time, _ bool) ([]time.Time, bool) {
		kept := make([]time.Time, 0, len(old)+1)
		for _, t := range old {
			if !t.Before(windowStart) {
				kept = append(kept, t)
			}
		}
		if len(kept) >= l.maxRequests {
			limited = true
			retryAfter = kept[0].Add(l.window).Sub(now)
			return kept, false
		}
		return append(kept, now), false
	})

	if limited {
		return apperr.RateLimited("ip", retryAfter)
	}
	return nil
}

// Prune drops addresses with no hits left inside the window and returns how
// many were removed.
func (l *IPLimiter) Prune() int {
	windowStart := l.now().Add(-l.window)
	removed := 0
	l.hits.Range(func(addr string, _ []time.Time) bool {
		l.hits.Compute(addr, func(old []time.Time, loaded bool) ([]time.Time, bool) {
			if !loaded {
				return nil, true
			}
			if len(old) > 0 && !old[len(old)-1].Before(windowStart) {
				return old, false
			}
			removed++
			return nil, true
		})
		return true
	})
	return removed
}

// Tracked returns the number of distinct addresses held.
func (l *IPLimiter) Tracked() int {
	return l.hits.Size()
}

package ratelimit

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
)

// LastSubmitSource is the durable mirror of per-appellant submissions.
type LastSubmitSource interface {
	LastSubmit(ctx context.Context, key string) (time.Time, error)
}

// LastSubmitFunc adapts a function to LastSubmitSource.
type LastSubmitFunc func(ctx context.Context, key string) (time.Time, error)

func (f LastSubmitFunc) LastSubmit(ctx context.Context, key string) (time.Time, error) {
	return f(ctx, key)
}

// Cooldown enforces a minimum gap between submissions per appellant. The
// effective last submission is the later of the local and remote values;
// the remote read covers other process instances.
type Cooldown struct {
	period time.Duration
	local  *xsync.MapOf[string, time.Time]
	remote LastSubmitSource
	now    func() time.Time
}

func NewCooldown(period time.Duration, remote LastSubmitSource) *Cooldown {
	return &Cooldown{
		period: period,
		local:  xsync.NewMapOf[string, time.Time](),
		remote: remote,
		now:    time.Now,
	}
}

func (c *Cooldown) WithClock(now func() time.Time) *Cooldown {
	c.now = now
	return c
}

// Check returns a RateLimitedError carrying the remaining wait.
func (c *Cooldown) Check(ctx context.Context, key string) error {
	last, _ := c.local.Load(key)
	if c.remote != nil {
		remote, err := c.remote.LastSubmit(ctx, key)
		if err != nil {
			logger.Warningf("Cooldown remote read failed for %s, using local value: %v", key, err)
		} else if remote.After(last) {
			last = remote
		}
	}
	if last.IsZero() {
		return nil
	}
	elapsed := c.now().Sub(last)
	if elapsed < c.period {
		return apperr.RateLimited("cooldown", c.period-elapsed)
	}
	return nil
}

// Record stores a submission time, keeping the later value.
func (c *Cooldown) Record(key string, at time.Time) {
	c.local.Compute(key, func(old time.Time, loaded bool) (time.Time, bool) {
		if loaded && old.After(at) {
			return old, false
		}
		return at, false
	})
}

// Prune drops local entries older than the cooldown period.
func (c *Cooldown) Prune() {
	cutoff := c.now().Add(-c.period)
	c.local.Range(func(key string, at time.Time) bool {
		if at.Before(cutoff) {
			c.local.Delete(key)
		}
		return true
	})
}

// Package msgcache keeps a short, bounded history of each user's recent
// community messages so moderators can see what led to a ban.
package msgcache

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
)

type cachedEntry struct {
	entry    models.ContextEntry
	cachedAt time.Time
}

// buffer is replaced wholesale on every write, so readers never observe a
// slice that is being mutated.
type buffer struct {
	entries []cachedEntry
	touched time.Time
}

type Options struct {
	Size int
	TTL  time.Duration
	// SnapshotInterval > 0 enables periodic snapshots on write.
	SnapshotInterval time.Duration
}

// Cache is a per-user ring buffer with a time-to-live.
type Cache struct {
	opts      Options
	buffers   *xsync.MapOf[string, buffer]
	lastSnap  *xsync.MapOf[string, time.Time]
	snapshots storage.ContextRepository
	now       func() time.Time
}

// New creates a cache; snapshots may be nil, which keeps everything local.
func New(opts Options, snapshots storage.ContextRepository) *Cache {
	return &Cache{
		opts:      opts,
		buffers:   xsync.NewMapOf[string, buffer](),
		lastSnap:  xsync.NewMapOf[string, time.Time](),
		snapshots: snapshots,
		now:       time.Now,
	}
}

func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Record appends a message, evicting the oldest beyond the size bound.
func (c *Cache) Record(ctx context.Context, userID, guildID string, e models.ContextEntry) {
	now := c.now()
	c.buffers.Compute(userID, func(old buffer, _ bool) (buffer, bool) {
		entries := make([]cachedEntry, 0, c.opts.Size)
		start := 0
		if n := len(old.entries) + 1 - c.opts.Size; n > 0 {
			start = n
		}
		entries = append(entries, old.entries[start:]...)
		entries = append(entries, cachedEntry{entry: e, cachedAt: now})
		return buffer{entries: entries, touched: now}, false
	})

	if c.opts.SnapshotInterval > 0 && c.snapshots != nil {
		c.maybeSnapshot(ctx, userID, guildID, now)
	}
}

// Recent returns live entries in arrival order. Entries older than the TTL
// are skipped even if eviction has not run yet.
func (c *Cache) Recent(userID string) []models.ContextEntry {
	b, ok := c.buffers.Load(userID)
	if !ok {
		return nil
	}
	cutoff := c.now().Add(-c.opts.TTL)
	out := make([]models.ContextEntry, 0, len(b.entries))
	for _, ce := range b.entries {
		if !ce.cachedAt.Before(cutoff) {
			out = append(out, ce.entry)
		}
	}
	return out
}

// Snapshot persists the current buffer as ban evidence and drops it from
// memory. It returns the snapshotted entries.
func (c *Cache) Snapshot(ctx context.Context, userID, guildID string, bannedAt time.Time) []models.ContextEntry {
	entries := c.Recent(userID)
	if c.snapshots != nil && len(entries) > 0 {
		at := bannedAt
		err := c.snapshots.Upsert(ctx, &models.BannedUserContext{
			UserID:   userID,
			GuildID:  guildID,
			Messages: entries,
			BannedAt: &at,
		})
		if err != nil {
			logger.Warningf("Failed to snapshot message context for %s: %v", userID, err)
		}
	}
	c.buffers.Delete(userID)
	c.lastSnap.Delete(userID)
	return entries
}

// Context returns evidence for an appeal page: the durable snapshot when
// one exists, newest first, otherwise the live buffer.
func (c *Cache) Context(ctx context.Context, userID string) []models.ContextEntry {
	if c.snapshots != nil {
		stored, err := c.snapshots.Get(ctx, userID)
		if err != nil {
			logger.Warningf("Failed to read message snapshot for %s: %v", userID, err)
		} else if stored != nil && len(stored.Messages) > 0 {
			return newestFirst(stored.Messages, c.opts.Size)
		}
	}
	return newestFirst(c.Recent(userID), c.opts.Size)
}

// Evict removes buffers untouched for longer than the TTL.
func (c *Cache) Evict() int {
	cutoff := c.now().Add(-c.opts.TTL)
	removed := 0
	c.buffers.Range(func(userID string, b buffer) bool {
		if b.touched.Before(cutoff) {
			c.buffers.Delete(userID)
			c.lastSnap.Delete(userID)
			removed++
		}
		return true
	})
	return removed
}

// Users returns how many users currently have a buffer.
func (c *Cache) Users() int {
	return c.buffers.Size()
}

func (c *Cache) maybeSnapshot(ctx context.Context, userID, guildID string, now time.Time) {
	due := false
	c.lastSnap.Compute(userID, func(last time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Sub(last) < c.opts.SnapshotInterval {
			return last, false
		}
		due = true
		return now, false
	})
	if !due {
		return
	}
	entries := c.Recent(userID)
	if err := c.snapshots.Upsert(ctx, &models.BannedUserContext{UserID: userID, GuildID: guildID, Messages: entries}); err != nil {
		logger.Debugf("Periodic snapshot for %s failed: %v", userID, err)
	}
}

func newestFirst(entries []models.ContextEntry, limit int) []models.ContextEntry {
	out := append([]models.ContextEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

package appeal

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
)

// historyLimit is the number of appeals shown per platform.
const historyLimit = 5

// StatusFeed serves an appellant's appeal history across both platforms.
// Results are cached briefly since the status page polls.
type StatusFeed struct {
	appeals storage.AppealRepository
	cache   *expirable.LRU[string, []models.HistoryEntry]
}

func NewStatusFeed(appeals storage.AppealRepository, size int, ttl time.Duration) *StatusFeed {
	return &StatusFeed{
		appeals: appeals,
		cache:   expirable.NewLRU[string, []models.HistoryEntry](size, nil, ttl),
	}
}

// History returns the newest appeals of the linked accounts, newest first.
// Either id may be empty.
func (f *StatusFeed) History(ctx context.Context, discordID, robloxID string) ([]models.HistoryEntry, error) {
	key := "d:" + discordID + "|r:" + robloxID
	if cached, ok := f.cache.Get(key); ok {
		return cached, nil
	}

	var discord, roblox []models.Appeal
	g, gctx := errgroup.WithContext(ctx)
	if discordID != "" {
		g.Go(func() (err error) {
			discord, err = f.appeals.ListByUser(gctx, models.PlatformDiscord, discordID, historyLimit)
			return err
		})
	}
	if robloxID != "" {
		g.Go(func() (err error) {
			roblox, err = f.appeals.ListByUser(gctx, models.PlatformRoblox, robloxID, historyLimit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.HistoryEntry, 0, len(discord)+len(roblox))
	for _, a := range append(discord, roblox...) {
		out = append(out, models.ToHistoryEntry(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	f.cache.Add(key, out)
	return out, nil
}

// Invalidate drops cached history for the given accounts after a change.
func (f *StatusFeed) Invalidate(discordID, robloxID string) {
	for _, k := range f.cache.Keys() {
		if (discordID != "" && strings.HasPrefix(k, "d:"+discordID+"|")) || (robloxID != "" && strings.HasSuffix(k, "|r:"+robloxID)) {
			f.cache.Remove(k)
		}
	}
}

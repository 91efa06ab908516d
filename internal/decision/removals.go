package decision

import (
	"context"

	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

// ProcessDueRemovals removes members whose transient DM-guild membership
// has expired. Failed removals stay scheduled and are retried next round.
func (p *Processor) ProcessDueRemovals(ctx context.Context) (int, error) {
	if p.Guilds == nil {
		return 0, nil
	}
	due, err := p.Repos.Removals.Due(ctx, p.now())
	if err != nil {
		return 0, err
	}
	done := 0
	for _, pr := range due {
		status, err := p.Guilds.RemoveMember(ctx, pr.GuildID, pr.UserID)
		if err != nil || !platform.IsRemovalSuccess(status) {
			logger.Warningf("Failed to remove %s from guild %s: status %d: %v", pr.UserID, pr.GuildID, status, err)
			continue
		}
		if err := p.Repos.Removals.Remove(ctx, pr.GuildID, pr.UserID); err != nil {
			logger.Errorf("Failed to clear pending removal for %s: %v", pr.UserID, err)
			continue
		}
		done++
	}
	if done > 0 {
		logger.Infof("Removed %d transient guild members", done)
	}
	return done, nil
}

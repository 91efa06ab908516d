package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/idempotency"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
)

type fixture struct {
	proc     *Processor
	bans     *fakeBans
	robloxB  *fakeBans
	guilds   *fakeGuilds
	review   *fakeReview
	decliner *fakeDecliner
	repos    *storage.Repositories
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bans:     &fakeBans{},
		robloxB:  &fakeBans{},
		guilds:   &fakeGuilds{noSharedGuild: map[string]bool{}},
		review:   &fakeReview{},
		decliner: &fakeDecliner{},
		repos:    storage.NewMemoryRepositories(),
		now:      time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.proc = NewProcessor(Options{
		ClaimTTL:          time.Hour,
		AppealGuildID:     "appeal-guild",
		ReaddGuildID:      "main-guild",
		DMGuildID:         "dm-guild",
		RemoveFromDMGuild: true,
		RemovalDelay:      10 * time.Minute,
	}, Deps{
		Bans: map[models.Platform]platform.BanGateway{
			models.PlatformDiscord: f.bans,
			models.PlatformRoblox:  f.robloxB,
		},
		Guilds: f.guilds,
		Review: f.review,
		Claims: idempotency.NewMemoryStore().WithClock(clock),
		Repos:  f.repos,
		Tokens: fakeTokens{},
		State:  f.decliner,
	}).WithClock(clock)
	return f
}

func (f *fixture) seed(t *testing.T, a models.Appeal) {
	t.Helper()
	c := a.Common()
	c.Status = models.StatusPending
	c.UserLang = models.LangEnglish
	c.CreatedAt = f.now
	require.NoError(t, f.repos.Appeals.Create(context.Background(), a))
}

func discordAppeal(id, user string) *models.DiscordAppeal {
	return &models.DiscordAppeal{AppealCommon: models.AppealCommon{AppealID: id, UserID: user}}
}

func event(action platform.Action, p models.Platform, id, user string) Event {
	return Event{
		Action:  action,
		Target:  platform.DecisionTarget{Platform: p, AppealID: id, UserID: user},
		Actor:   Actor{ID: "1001", Name: "mod", Moderator: true},
		Message: platform.MessageRef{ChatID: -100, MessageID: 7},
	}
}

func (f *fixture) status(t *testing.T, p models.Platform, id string) *models.AppealCommon {
	t.Helper()
	a, err := f.repos.Appeals.Get(context.Background(), p, id)
	require.NoError(t, err)
	return a.Common()
}

func TestConcurrentDuplicateDecisionsApplyOnce(t *testing.T) {
	f := newFixture(t)
	f.bans.delay = 20 * time.Millisecond
	f.seed(t, discordAppeal("a1", "42"))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "a1", "42"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrDuplicateDecision)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int32(1), f.bans.revokes.Load())
	assert.Equal(t, 1, f.review.count("audit"))

	c := f.status(t, models.PlatformDiscord, "a1")
	assert.Equal(t, models.StatusAccepted, c.Status)
	assert.Equal(t, "1001", c.DecisionBy)
	require.NotNil(t, c.DecisionAt)
	assert.True(t, c.DMDelivered)
}

func TestAcceptSideEffectsAndNotes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, discordAppeal("a1", "42"))

	out, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "a1", "42"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, out.Status)
	assert.Equal(t, "Unban OK; Appeal guild removal OK; Re-add OK; DM OK", out.Notes)
	assert.Equal(t, []string{"remove:appeal-guild", "add:main-guild", "dm:"}, f.guilds.ops())
	assert.Equal(t, "delete", f.review.last().op)
}

func TestRequiredFailureRollsBackClaim(t *testing.T) {
	f := newFixture(t)
	f.seed(t, discordAppeal("a1", "42"))
	f.bans.fail.Store(true)

	_, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "a1", "42"))
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	assert.Equal(t, models.StatusPending, f.status(t, models.PlatformDiscord, "a1").Status)
	last := f.review.last()
	assert.Equal(t, "edit", last.op)
	assert.True(t, last.buttons, "buttons restored for a retry")
	assert.Empty(t, f.guilds.ops(), "no best-effort steps after a failed unban")

	f.bans.fail.Store(false)
	out, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "a1", "42"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, out.Status)
}

func TestDeclineFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seed(t, discordAppeal("a1", "42"))
	f.decliner.fail = true

	_, err := f.proc.Process(context.Background(), event(platform.ActionDecline, models.PlatformDiscord, "a1", "42"))
	require.Error(t, err)
	assert.Equal(t, models.StatusPending, f.status(t, models.PlatformDiscord, "a1").Status)

	f.decliner.fail = false
	out, err := f.proc.Process(context.Background(), event(platform.ActionDecline, models.PlatformDiscord, "a1", "42"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, out.Status)
	assert.Equal(t, int32(1), f.decliner.declined.Load())
	assert.Equal(t, int32(0), f.bans.revokes.Load())
	assert.Equal(t, []string{"remove:appeal-guild", "dm:"}, f.guilds.ops())
}

func TestDeclinePassesTheAppealedBan(t *testing.T) {
	f := newFixture(t)
	a := discordAppeal("a1", "42")
	a.BanFirstSeen = f.now.Add(-48 * time.Hour)
	f.seed(t, a)

	_, err := f.proc.Process(context.Background(), event(platform.ActionDecline, models.PlatformDiscord, "a1", "42"))
	require.NoError(t, err)
	assert.True(t, f.now.Add(-48*time.Hour).Equal(f.decliner.lastSeen))
}

func TestNonModeratorIsRejectedWithoutClaiming(t *testing.T) {
	f := newFixture(t)
	f.seed(t, discordAppeal("a1", "42"))

	ev := event(platform.ActionAccept, models.PlatformDiscord, "a1", "42")
	ev.Actor.Moderator = false
	_, err := f.proc.Process(context.Background(), ev)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Equal(t, int32(0), f.bans.revokes.Load())
	assert.Equal(t, 0, f.review.count("edit"))

	_, err = f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "a1", "42"))
	assert.NoError(t, err)
}

func TestAlreadyDecidedAppealIsNotReapplied(t *testing.T) {
	f := newFixture(t)
	f.seed(t, discordAppeal("a1", "42"))
	require.NoError(t, f.repos.Appeals.ApplyDecision(context.Background(), models.PlatformDiscord, "a1",
		models.Decision{Status: models.StatusDeclined, DecisionBy: "other", DecisionAt: f.now}))

	_, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "a1", "42"))
	assert.ErrorIs(t, err, apperr.ErrDuplicateDecision)
	assert.Equal(t, int32(0), f.bans.revokes.Load())
	assert.Equal(t, models.StatusDeclined, f.status(t, models.PlatformDiscord, "a1").Status)
}

func TestDirectMessageThroughTransientGuild(t *testing.T) {
	f := newFixture(t)
	f.seed(t, discordAppeal("a1", "42"))
	f.guilds.noSharedGuild["42"] = true
	ctx := context.Background()

	out, err := f.proc.Process(ctx, event(platform.ActionDecline, models.PlatformDiscord, "a1", "42"))
	require.NoError(t, err)
	assert.True(t, out.DMDelivered)
	assert.Contains(t, out.Notes, "DM OK via DM guild")

	due, err := f.repos.Removals.Due(ctx, f.now)
	require.NoError(t, err)
	assert.Empty(t, due)

	f.now = f.now.Add(10 * time.Minute)
	n, err := f.proc.ProcessDueRemovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	due, err = f.repos.Removals.Due(ctx, f.now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRobloxAcceptNotifiesLinkedDiscordAccount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.RobloxAppeal{AppealCommon: models.AppealCommon{AppealID: "r1", UserID: "900"}, DiscordUserID: "42"})

	out, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformRoblox, "r1", "900"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.robloxB.revokes.Load())
	assert.Equal(t, int32(0), f.bans.revokes.Load())
	assert.Equal(t, "Unban OK; DM OK", out.Notes)
	assert.Equal(t, []string{"dm:"}, f.guilds.ops())
}

func TestMissingRecordIsDecidedFromTarget(t *testing.T) {
	f := newFixture(t)
	out, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "lost", "42"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, out.Status)
	assert.Equal(t, int32(1), f.bans.revokes.Load())
}

func TestUndeletableMessageIsRewritten(t *testing.T) {
	f := newFixture(t)
	f.review.failDelete = true
	f.seed(t, discordAppeal("a1", "42"))

	_, err := f.proc.Process(context.Background(), event(platform.ActionAccept, models.PlatformDiscord, "a1", "42"))
	require.NoError(t, err)
	last := f.review.last()
	assert.Equal(t, "edit", last.op)
	assert.False(t, last.buttons)
	assert.Contains(t, last.text, "a1")
}

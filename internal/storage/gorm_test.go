package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "appeals.db")), &gorm.Config{
		Logger:         NewCustomGormLogger("ERROR"),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func TestGormIdentityCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository(testDB(t))

	first := &models.AppellantIdentity{Key: "discord:42", CanonicalID: "discord:42", DiscordID: "42", DisplayName: "Alice"}
	ok, err := repo.CompareAndSwap(ctx, first, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.Version)

	// a second creator racing on the same key loses without an error
	racer := &models.AppellantIdentity{Key: "discord:42", CanonicalID: "discord:42", DiscordID: "42", DisplayName: "Mallory"}
	ok, err = repo.CompareAndSwap(ctx, racer, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), racer.Version)

	linked := *first
	linked.RobloxID = "9001"
	linked.CanonicalID = "link:abc"
	ok, err = repo.CompareAndSwap(ctx, &linked, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), linked.Version)

	// a writer still holding version 1 is rejected
	stale := *first
	stale.DisplayName = "Stale"
	ok, err = repo.CompareAndSwap(ctx, &stale, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, "discord:42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "9001", got.RobloxID)

	byRoblox, err := repo.FindByPlatform(ctx, models.PlatformRoblox, "9001")
	require.NoError(t, err)
	require.NotNil(t, byRoblox)
	assert.Equal(t, "discord:42", byRoblox.Key)

	missing, err := repo.Get(ctx, "discord:7")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGormApplyDecisionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewAppealRepository(testDB(t))
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	a := &models.DiscordAppeal{
		AppealCommon: models.AppealCommon{
			AppealID:     "abc123def456",
			UserID:       "42",
			Status:       models.StatusPending,
			BanFirstSeen: created.Add(-time.Hour),
			MessageCache: []models.ContextEntry{{Content: "hello"}},
			CreatedAt:    created,
		},
		GuildID: "guild-1",
	}
	require.NoError(t, repo.Create(ctx, a))
	assert.ErrorIs(t, repo.Create(ctx, &models.DiscordAppeal{
		AppealCommon: models.AppealCommon{AppealID: "abc123def456", UserID: "42"},
	}), ErrDuplicate)

	open, err := repo.HasOpen(ctx, models.PlatformDiscord, "42", created.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, open)

	decidedAt := created.Add(2 * time.Hour)
	require.NoError(t, repo.ApplyDecision(ctx, models.PlatformDiscord, "abc123def456", models.Decision{
		Status: models.StatusDeclined, DecisionBy: "mod-1", DecisionAt: decidedAt, DMDelivered: true, Notes: "first",
	}))

	err = repo.ApplyDecision(ctx, models.PlatformDiscord, "abc123def456", models.Decision{
		Status: models.StatusAccepted, DecisionBy: "mod-2", DecisionAt: decidedAt.Add(time.Minute),
	})
	assert.ErrorIs(t, err, ErrNotPending)

	err = repo.ApplyDecision(ctx, models.PlatformDiscord, "000000000000", models.Decision{Status: models.StatusAccepted})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := repo.Get(ctx, models.PlatformDiscord, "abc123def456")
	require.NoError(t, err)
	c := got.Common()
	assert.Equal(t, models.StatusDeclined, c.Status)
	assert.Equal(t, "mod-1", c.DecisionBy)
	assert.Equal(t, "first", c.Notes)
	assert.True(t, c.DMDelivered)
	require.Len(t, c.MessageCache, 1)
	assert.Equal(t, "hello", c.MessageCache[0].Content)

	open, err = repo.HasOpen(ctx, models.PlatformDiscord, "42", created.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, open)

	_, err = repo.Get(ctx, models.PlatformRoblox, "abc123def456")
	assert.ErrorIs(t, err, ErrNotFound, "platforms live in separate tables")
}

func TestGormListByUserKeepsPlatformTag(t *testing.T) {
	ctx := context.Background()
	repo := NewAppealRepository(testDB(t))
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"aaaaaaaaaaaa", "bbbbbbbbbbbb", "cccccccccccc"} {
		require.NoError(t, repo.Create(ctx, &models.RobloxAppeal{
			AppealCommon:  models.AppealCommon{AppealID: id, UserID: "9001", Status: models.StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Hour)},
			DiscordUserID: "42",
		}))
	}

	list, err := repo.ListByUser(ctx, models.PlatformRoblox, "9001", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cccccccccccc", list[0].Common().AppealID)
	r, ok := list[0].(*models.RobloxAppeal)
	require.True(t, ok)
	assert.Equal(t, models.PlatformRoblox, r.Platform())
	assert.Equal(t, "42", r.DiscordUserID)
}

func TestGormAppellantUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewAppellantRepository(testDB(t))
	seen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	missing, err := repo.Get(ctx, models.PlatformDiscord, "42")
	require.NoError(t, err)
	assert.Nil(t, missing)

	s, err := repo.Update(ctx, models.PlatformDiscord, "42", func(s *models.AppellantState) error {
		s.BanFirstSeen = &seen
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, s.BanFirstSeen)

	_, err = repo.Update(ctx, models.PlatformDiscord, "42", func(s *models.AppellantState) error {
		require.NotNil(t, s.BanFirstSeen, "existing row is loaded")
		declined := *s.BanFirstSeen
		s.DeclinedBanSeen = &declined
		return nil
	})
	require.NoError(t, err)

	// a failing fn leaves the row untouched
	boom := errors.New("boom")
	_, err = repo.Update(ctx, models.PlatformDiscord, "42", func(s *models.AppellantState) error {
		s.BanFirstSeen = nil
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, models.PlatformDiscord, "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.BanFirstSeen)
	assert.True(t, seen.Equal(*got.BanFirstSeen))
	assert.True(t, got.DeclinedForCurrentBan())

	other, err := repo.Get(ctx, models.PlatformRoblox, "42")
	require.NoError(t, err)
	assert.Nil(t, other, "state is per platform")
}

func TestGormMarkUsedReplay(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testDB(t))
	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	used, err := repo.IsUsed(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, repo.MarkUsed(ctx, &models.AppealSession{
		TokenHash: "hash-1", Platform: models.PlatformDiscord, UserID: "42", LastSubmit: first,
	}))
	// replaying the same hash updates in place instead of failing
	require.NoError(t, repo.MarkUsed(ctx, &models.AppealSession{
		TokenHash: "hash-1", Platform: models.PlatformDiscord, UserID: "42", LastSubmit: first.Add(time.Minute),
	}))

	used, err = repo.IsUsed(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, used)

	var count int64
	require.NoError(t, repo.db.Model(&models.AppealSession{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	last, err := repo.LastSubmit(ctx, models.PlatformDiscord, "42")
	require.NoError(t, err)
	assert.True(t, first.Add(time.Minute).Equal(last))

	none, err := repo.LastSubmit(ctx, models.PlatformRoblox, "42")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestGormRemovalsAndRepositoriesPing(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repos := NewGormRepositories(db)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repos.Ping(ctx))
	assert.True(t, repos.Durable)

	require.NoError(t, repos.Removals.Add(ctx, &models.PendingRemoval{GuildID: "g", UserID: "1", RemoveAt: now.Add(-time.Minute)}))
	require.NoError(t, repos.Removals.Add(ctx, &models.PendingRemoval{GuildID: "g", UserID: "2", RemoveAt: now.Add(-time.Minute)}))
	// rescheduling the same member moves its deadline
	require.NoError(t, repos.Removals.Add(ctx, &models.PendingRemoval{GuildID: "g", UserID: "2", RemoveAt: now.Add(time.Hour)}))

	due, err := repos.Removals.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "1", due[0].UserID)

	require.NoError(t, repos.Removals.Remove(ctx, "g", "1"))
	due, err = repos.Removals.Due(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "2", due[0].UserID)
}

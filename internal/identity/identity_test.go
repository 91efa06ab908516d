package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
)

var (
	discordAlice = platform.Profile{ID: "111", Name: "alice", DisplayName: "Alice"}
	robloxAlice  = platform.Profile{ID: "222", Name: "alice_rbx", DisplayName: "AliceBuilds"}
)

func linkSequence(t *testing.T, first, second models.Platform) *models.AppellantIdentity {
	t.Helper()
	profiles := map[models.Platform]platform.Profile{
		models.PlatformDiscord: discordAlice,
		models.PlatformRoblox:  robloxAlice,
	}
	l := NewLinker(storage.NewMemoryRepositories().Identities)
	ctx := context.Background()

	ident, err := l.Link(ctx, nil, first, profiles[first])
	require.NoError(t, err)
	claims := Claims(ident)
	ident, err = l.Link(ctx, &claims, second, profiles[second])
	require.NoError(t, err)
	return ident
}

func TestLinkIsCommutative(t *testing.T) {
	ab := linkSequence(t, models.PlatformDiscord, models.PlatformRoblox)
	ba := linkSequence(t, models.PlatformRoblox, models.PlatformDiscord)

	for _, ident := range []*models.AppellantIdentity{ab, ba} {
		assert.Equal(t, "111", ident.DiscordID)
		assert.Equal(t, "222", ident.RobloxID)
		assert.Equal(t, "Alice", ident.DisplayName)
		assert.Equal(t, int64(2), ident.Version)
	}
	assert.Equal(t, ab.CanonicalID, ba.CanonicalID)
	assert.Equal(t, ab.DiscordName, ba.DiscordName)
	assert.Equal(t, ab.RobloxName, ba.RobloxName)
	assert.Contains(t, ab.CanonicalID, "link:")
}

func TestLinkReusesRecordForKnownPlatformID(t *testing.T) {
	l := NewLinker(storage.NewMemoryRepositories().Identities)
	ctx := context.Background()

	first, err := l.Link(ctx, nil, models.PlatformDiscord, discordAlice)
	require.NoError(t, err)
	again, err := l.Link(ctx, nil, models.PlatformDiscord, platform.Profile{ID: "111"})
	require.NoError(t, err)

	assert.Equal(t, first.Key, again.Key)
	assert.Equal(t, "Alice", again.DisplayName, "an empty name does not overwrite")
	assert.Equal(t, "discord:111", again.CanonicalID)
}

func TestConcurrentLinksBothSurvive(t *testing.T) {
	repos := storage.NewMemoryRepositories()
	l := NewLinker(repos.Identities)
	ctx := context.Background()

	seed, err := l.Link(ctx, nil, models.PlatformDiscord, platform.Profile{ID: "0", Name: "seed"})
	require.NoError(t, err)
	claims := Claims(seed)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, job := range []struct {
		p    models.Platform
		prof platform.Profile
	}{
		{models.PlatformDiscord, discordAlice},
		{models.PlatformRoblox, robloxAlice},
	} {
		wg.Add(1)
		go func(p models.Platform, prof platform.Profile) {
			defer wg.Done()
			_, err := l.Link(ctx, &claims, p, prof)
			errs <- err
		}(job.p, job.prof)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final, err := repos.Identities.Get(ctx, seed.Key)
	require.NoError(t, err)
	assert.Equal(t, "111", final.DiscordID)
	assert.Equal(t, "222", final.RobloxID)
	assert.Equal(t, int64(3), final.Version)
}

type contendedRepo struct {
	storage.IdentityRepository
}

func (contendedRepo) CompareAndSwap(context.Context, *models.AppellantIdentity, int64) (bool, error) {
	return false, nil
}

func TestLinkGivesUpAfterRepeatedConflicts(t *testing.T) {
	l := NewLinker(contendedRepo{storage.NewMemoryRepositories().Identities})
	_, err := l.Link(context.Background(), nil, models.PlatformDiscord, discordAlice)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

type fakeProvider struct {
	refreshes atomic.Int32
	release   chan struct{}
}

func (f *fakeProvider) Platform() models.Platform    { return models.PlatformDiscord }
func (f *fakeProvider) AuthorizeURL(s string) string { return "https://auth.example/?state=" + s }
func (f *fakeProvider) ExchangeCode(_ context.Context, code string) (platform.TokenSet, error) {
	if code == "bad" {
		return platform.TokenSet{}, errors.New("invalid_grant")
	}
	return platform.TokenSet{AccessToken: "at-" + code, RefreshToken: "rt", ExpiresIn: 3600}, nil
}
func (f *fakeProvider) Refresh(context.Context, string) (platform.TokenSet, error) {
	f.refreshes.Add(1)
	if f.release != nil {
		<-f.release
	}
	return platform.TokenSet{AccessToken: "fresh", ExpiresIn: 3600}, nil
}
func (f *fakeProvider) Profile(_ context.Context, at string) (platform.Profile, error) {
	return discordAlice, nil
}

func TestTokenStoreRefreshesInsideMargin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{}
	store := NewTokenStore(storage.NewMemoryRepositories().Tokens, provider).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, models.PlatformDiscord, "111", platform.TokenSet{AccessToken: "old", RefreshToken: "rt", ExpiresIn: 3600}))

	now = now.Add(58 * time.Minute)
	at, err := store.ValidAccessToken(ctx, models.PlatformDiscord, "111")
	require.NoError(t, err)
	assert.Equal(t, "old", at)

	now = now.Add(time.Minute)
	at, err = store.ValidAccessToken(ctx, models.PlatformDiscord, "111")
	require.NoError(t, err)
	assert.Equal(t, "fresh", at)
	assert.Equal(t, int32(1), provider.refreshes.Load())

	_, err = store.ValidAccessToken(ctx, models.PlatformDiscord, "unknown")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTokenStoreCollapsesConcurrentRefreshes(t *testing.T) {
	provider := &fakeProvider{release: make(chan struct{})}
	repo := storage.NewMemoryRepositories().Tokens
	store := NewTokenStore(repo, provider)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, &models.OAuthToken{
		Platform: models.PlatformDiscord, Subject: "111", AccessToken: "old", RefreshToken: "rt",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at, err := store.ValidAccessToken(ctx, models.PlatformDiscord, "111")
			assert.NoError(t, err)
			assert.Equal(t, "fresh", at)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()
	assert.Equal(t, int32(1), provider.refreshes.Load())
}

func TestLoginLinksAndCachesToken(t *testing.T) {
	repos := storage.NewMemoryRepositories()
	provider := &fakeProvider{}
	tokens := NewTokenStore(repos.Tokens, provider)
	l := NewLinker(repos.Identities)
	ctx := context.Background()

	ident, err := l.Login(ctx, nil, provider, tokens, "code1")
	require.NoError(t, err)
	assert.Equal(t, "discord:111", ident.CanonicalID)

	at, err := tokens.ValidAccessToken(ctx, models.PlatformDiscord, "111")
	require.NoError(t, err)
	assert.Equal(t, "at-code1", at)

	_, err = l.Login(ctx, nil, provider, tokens, "bad")
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
}

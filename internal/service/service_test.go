package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csnsor/bs-webpanel-sub000/internal/config"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

type nopReview struct{}

func (nopReview) SendAppeal(context.Context, models.Appeal) (platform.MessageRef, error) {
	return platform.MessageRef{}, nil
}
func (nopReview) EditMessage(context.Context, platform.MessageRef, string, *platform.DecisionTarget) error {
	return nil
}
func (nopReview) DeleteMessage(context.Context, platform.MessageRef) error { return nil }
func (nopReview) PostAudit(context.Context, string) error                 { return nil }

type fakeDiscord struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeDiscord) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/users/@me":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","username":"appeals-bot"}`))
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDiscord) seen(req string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == req {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Service, *fakeDiscord) {
	t.Helper()
	fd := &fakeDiscord{}
	ts := httptest.NewServer(fd)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Session.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Discord.APIBase = ts.URL
	cfg.Discord.BotToken = "bot-token"
	cfg.Discord.TargetGuildID = "100"
	cfg.Gateway.Timeout = 2 * time.Second

	svc, err := New(context.Background(), cfg, nopReview{})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, fd
}

func TestNewUsesMemoryBackendsByDefault(t *testing.T) {
	svc, _ := newTestService(t)

	assert.False(t, svc.Repos.Durable)
	assert.NotNil(t, svc.memClaims)
	assert.Nil(t, svc.Roblox)
	assert.Contains(t, svc.Providers, models.PlatformDiscord)
	assert.NotContains(t, svc.Providers, models.PlatformRoblox)
}

func TestMaintainRemovesDueMembersAndBeats(t *testing.T) {
	svc, fd := newTestService(t)
	ctx := context.Background()

	assert.True(t, svc.Heartbeat().IsZero())

	require.NoError(t, svc.Repos.Removals.Add(ctx, &models.PendingRemoval{
		GuildID: "300", UserID: "42", RemoveAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, svc.Repos.Removals.Add(ctx, &models.PendingRemoval{
		GuildID: "300", UserID: "43", RemoveAt: time.Now().Add(time.Hour),
	}))

	svc.maintain(ctx)

	assert.False(t, svc.Heartbeat().IsZero())
	assert.True(t, fd.seen("DELETE /guilds/300/members/42"))
	assert.False(t, fd.seen("DELETE /guilds/300/members/43"))

	due, err := svc.Repos.Removals.Due(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "43", due[0].UserID)
}

func TestMaintainPrunesIdleRateLimitAddresses(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.IPLimiter.Allow("203.0.113.9"))
	svc.maintain(context.Background())
	assert.Equal(t, 1, svc.IPLimiter.Tracked())

	later := time.Now().Add(2 * time.Minute)
	svc.IPLimiter.WithClock(func() time.Time { return later })
	svc.maintain(context.Background())
	assert.Equal(t, 0, svc.IPLimiter.Tracked())
}

func TestHealthReflectsHeartbeat(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.Handler()

	get := func() (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["worker"])
	assert.Equal(t, true, body["gateway"])

	svc.maintain(context.Background())

	code, body = get()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
}

func TestInvalidateStatusHandlesEveryVariant(t *testing.T) {
	svc, _ := newTestService(t)

	svc.invalidateStatus(&models.DiscordAppeal{})
	svc.invalidateStatus(&models.RobloxAppeal{DiscordUserID: "42"})
	svc.invalidateStatus(nil)
}

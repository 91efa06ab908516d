package decision

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

type fakeBans struct {
	revokes atomic.Int32
	fail    atomic.Bool
	// delay widens the window in which duplicates overlap
	delay time.Duration
}

func (f *fakeBans) GetBan(context.Context, string) (*platform.Ban, error) { return nil, nil }

func (f *fakeBans) RevokeRestriction(context.Context, string) (int, error) {
	time.Sleep(f.delay)
	if f.fail.Load() {
		return http.StatusInternalServerError, errors.New("discord down")
	}
	f.revokes.Add(1)
	return http.StatusNoContent, nil
}

type guildCall struct {
	op, guild, user string
}

type fakeGuilds struct {
	mu    sync.Mutex
	calls []guildCall
	// users who share no guild with the bot until added to one
	noSharedGuild map[string]bool
	joined        map[string]bool
}

func (f *fakeGuilds) record(op, guild, user string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, guildCall{op, guild, user})
}

func (f *fakeGuilds) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.op+":"+c.guild)
	}
	return out
}

func (f *fakeGuilds) RemoveMember(_ context.Context, guildID, userID string) (int, error) {
	f.record("remove", guildID, userID)
	return http.StatusNotFound, nil
}

func (f *fakeGuilds) AddMember(_ context.Context, guildID, userID, _ string) (int, error) {
	f.record("add", guildID, userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joined == nil {
		f.joined = make(map[string]bool)
	}
	f.joined[userID] = true
	return http.StatusCreated, nil
}

func (f *fakeGuilds) SendDirectMessage(_ context.Context, userID string, _ platform.DirectMessage) (int, error) {
	f.record("dm", "", userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noSharedGuild[userID] && !f.joined[userID] {
		return http.StatusForbidden, errors.New("cannot send messages to this user")
	}
	return http.StatusOK, nil
}

type reviewCall struct {
	op      string
	text    string
	buttons bool
}

type fakeReview struct {
	mu         sync.Mutex
	calls      []reviewCall
	failDelete bool
}

func (f *fakeReview) add(c reviewCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeReview) SendAppeal(context.Context, models.Appeal) (platform.MessageRef, error) {
	return platform.MessageRef{}, nil
}

func (f *fakeReview) EditMessage(_ context.Context, _ platform.MessageRef, text string, actions *platform.DecisionTarget) error {
	f.add(reviewCall{op: "edit", text: text, buttons: actions != nil})
	return nil
}

func (f *fakeReview) DeleteMessage(context.Context, platform.MessageRef) error {
	f.add(reviewCall{op: "delete"})
	if f.failDelete {
		return errors.New("message can't be deleted")
	}
	return nil
}

func (f *fakeReview) PostAudit(_ context.Context, text string) error {
	f.add(reviewCall{op: "audit", text: text})
	return nil
}

func (f *fakeReview) last() reviewCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeReview) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type fakeTokens struct{}

func (fakeTokens) ValidAccessToken(_ context.Context, _ models.Platform, subject string) (string, error) {
	return "token-" + subject, nil
}

type fakeDecliner struct {
	declined atomic.Int32
	fail     bool
	lastSeen time.Time
}

func (f *fakeDecliner) MarkDeclined(_ context.Context, _ models.Platform, _ string, banSeen time.Time) error {
	if f.fail {
		return errors.New("store down")
	}
	f.declined.Add(1)
	f.lastSeen = banSeen
	return nil
}

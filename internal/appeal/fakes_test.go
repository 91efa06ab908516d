package appeal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

type fakeBans struct {
	mu   sync.Mutex
	bans map[string]*platform.Ban
}

func newFakeBans() *fakeBans { return &fakeBans{bans: make(map[string]*platform.Ban)} }

func (f *fakeBans) set(userID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reason == "" {
		delete(f.bans, userID)
		return
	}
	f.bans[userID] = &platform.Ban{UserID: userID, Reason: reason}
}

// setSince reports a ban with a platform-known start time.
func (f *fakeBans) setSince(userID, reason string, since time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans[userID] = &platform.Ban{UserID: userID, Reason: reason, Since: &since}
}

func (f *fakeBans) GetBan(_ context.Context, userID string) (*platform.Ban, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bans[userID]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeBans) RevokeRestriction(_ context.Context, userID string) (int, error) {
	f.set(userID, "")
	return 204, nil
}

type fakeReview struct {
	mu   sync.Mutex
	sent []models.Appeal
	fail bool
}

func (f *fakeReview) SendAppeal(_ context.Context, a models.Appeal) (platform.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return platform.MessageRef{}, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, a)
	return platform.MessageRef{ChatID: -100, MessageID: len(f.sent)}, nil
}

func (f *fakeReview) EditMessage(context.Context, platform.MessageRef, string, *platform.DecisionTarget) error {
	return nil
}

func (f *fakeReview) DeleteMessage(context.Context, platform.MessageRef) error { return nil }

func (f *fakeReview) PostAudit(context.Context, string) error { return nil }

func (f *fakeReview) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

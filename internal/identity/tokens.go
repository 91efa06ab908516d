package identity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
)

// refreshMargin treats a token as expired this long before it really is.
const refreshMargin = 60 * time.Second

// TokenStore caches provider tokens per subject and refreshes them.
type TokenStore struct {
	repo      storage.TokenRepository
	providers map[models.Platform]platform.IdentityProvider
	group     singleflight.Group
	now       func() time.Time
}

func NewTokenStore(repo storage.TokenRepository, providers ...platform.IdentityProvider) *TokenStore {
	s := &TokenStore{
		repo:      repo,
		providers: make(map[models.Platform]platform.IdentityProvider),
		now:       time.Now,
	}
	for _, p := range providers {
		s.providers[p.Platform()] = p
	}
	return s
}

func (s *TokenStore) WithClock(now func() time.Time) *TokenStore {
	s.now = now
	return s
}

func (s *TokenStore) Save(ctx context.Context, p models.Platform, subject string, ts platform.TokenSet) error {
	return s.repo.Save(ctx, &models.OAuthToken{
		Platform:     p,
		Subject:      subject,
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(ts.ExpiresIn)*time.Second - refreshMargin),
	})
}

// ValidAccessToken returns a usable access token, refreshing it when the
// cached one is inside the refresh margin. Concurrent refreshes for one
// subject share a single provider call.
func (s *TokenStore) ValidAccessToken(ctx context.Context, p models.Platform, subject string) (string, error) {
	tok, err := s.repo.Get(ctx, p, subject)
	if err != nil {
		return "", fmt.Errorf("%w: load token: %v", apperr.ErrPersistenceUnavailable, err)
	}
	if tok == nil {
		return "", fmt.Errorf("no %s token for %s: %w", p, subject, apperr.ErrNotFound)
	}
	if s.now().Before(tok.ExpiresAt) {
		return tok.AccessToken, nil
	}
	provider, ok := s.providers[p]
	if !ok || tok.RefreshToken == "" {
		return "", fmt.Errorf("%s token for %s expired: %w", p, subject, apperr.ErrNotFound)
	}

	v, err, _ := s.group.Do(string(p)+":"+subject, func() (interface{}, error) {
		ts, err := provider.Refresh(ctx, tok.RefreshToken)
		if err != nil {
			return "", apperr.Gateway("refresh token", err)
		}
		if ts.RefreshToken == "" {
			ts.RefreshToken = tok.RefreshToken
		}
		if err := s.Save(ctx, p, subject, ts); err != nil {
			return "", fmt.Errorf("%w: save token: %v", apperr.ErrPersistenceUnavailable, err)
		}
		return ts.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

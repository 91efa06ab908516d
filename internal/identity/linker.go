// Package identity folds platform logins into one appellant record and
// keeps the provider tokens needed for later guild operations.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
	"github.com/csnsor/bs-webpanel-sub000/internal/token"
)

const maxMergeAttempts = 3

// CanonicalID derives the internal appellant id from the linked accounts.
func CanonicalID(discordID, robloxID, key string) string {
	switch {
	case discordID != "" && robloxID != "":
		sum := sha256.Sum256([]byte(discordID + ":" + robloxID))
		return "link:" + hex.EncodeToString(sum[:16])
	case discordID != "":
		return "discord:" + discordID
	case robloxID != "":
		return "roblox:" + robloxID
	default:
		return key
	}
}

// Merge writes the incoming platform profile into ident. Only the incoming
// platform's fields change, so merging A then B equals merging B then A.
func Merge(ident *models.AppellantIdentity, p models.Platform, prof platform.Profile) {
	name := prof.DisplayName
	if name == "" {
		name = prof.Name
	}
	switch p {
	case models.PlatformDiscord:
		ident.DiscordID = prof.ID
		if name != "" {
			ident.DiscordName = name
		}
	case models.PlatformRoblox:
		ident.RobloxID = prof.ID
		if name != "" {
			ident.RobloxName = name
		}
	}
	ident.DisplayName = ident.DiscordName
	if ident.DisplayName == "" {
		ident.DisplayName = ident.RobloxName
	}
	ident.CanonicalID = CanonicalID(ident.DiscordID, ident.RobloxID, ident.Key)
}

// Linker persists merged identities with compare-and-swap on Version.
type Linker struct {
	repo  storage.IdentityRepository
	newID func() string
}

func NewLinker(repo storage.IdentityRepository) *Linker {
	return &Linker{
		repo:  repo,
		newID: func() string { return "anon:" + uuid.NewString() },
	}
}

// Link folds a login into the session's appellant record. With no session
// the record already holding this platform id is reused, otherwise a new
// one is created. A lost CAS reloads and merges again.
func (l *Linker) Link(ctx context.Context, session *token.SessionClaims, p models.Platform, prof platform.Profile) (*models.AppellantIdentity, error) {
	if prof.ID == "" {
		return nil, apperr.Invalid("profile without id")
	}
	key, err := l.resolveKey(ctx, session, p, prof.ID)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxMergeAttempts; attempt++ {
		current, err := l.repo.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: load identity: %v", apperr.ErrPersistenceUnavailable, err)
		}
		next := models.AppellantIdentity{Key: key}
		var expected int64
		if current != nil {
			next = *current
			expected = current.Version
		} else if session != nil && session.Key == key {
			seedFromSession(&next, session)
		}
		Merge(&next, p, prof)

		ok, err := l.repo.CompareAndSwap(ctx, &next, expected)
		if err != nil {
			return nil, fmt.Errorf("%w: save identity: %v", apperr.ErrPersistenceUnavailable, err)
		}
		if ok {
			return &next, nil
		}
		logger.Debugf("Identity %s changed concurrently, merging again (attempt %d)", key, attempt)
	}
	return nil, fmt.Errorf("link identity %s: %w", key, storage.ErrConflict)
}

func (l *Linker) resolveKey(ctx context.Context, session *token.SessionClaims, p models.Platform, platformID string) (string, error) {
	if session != nil && session.Key != "" {
		return session.Key, nil
	}
	existing, err := l.repo.FindByPlatform(ctx, p, platformID)
	if err != nil {
		return "", fmt.Errorf("%w: find identity: %v", apperr.ErrPersistenceUnavailable, err)
	}
	if existing != nil {
		return existing.Key, nil
	}
	return l.newID(), nil
}

// seedFromSession restores a record from its signed session when the store
// lost it, e.g. after a restart on the in-memory backend.
func seedFromSession(ident *models.AppellantIdentity, s *token.SessionClaims) {
	ident.DiscordID = s.DiscordID
	ident.DiscordName = s.DiscordName
	ident.RobloxID = s.RobloxID
	ident.RobloxName = s.RobloxName
}

// Claims renders the session payload for ident.
func Claims(ident *models.AppellantIdentity) token.SessionClaims {
	return token.SessionClaims{
		Key:         ident.Key,
		InternalID:  ident.CanonicalID,
		DiscordID:   ident.DiscordID,
		DiscordName: ident.DiscordName,
		RobloxID:    ident.RobloxID,
		RobloxName:  ident.RobloxName,
		DisplayName: ident.DisplayName,
		Version:     ident.Version,
	}
}

// Login completes an authorization-code callback: code exchange, profile
// fetch, token caching and linking.
func (l *Linker) Login(ctx context.Context, session *token.SessionClaims, provider platform.IdentityProvider, tokens *TokenStore, code string) (*models.AppellantIdentity, error) {
	ts, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, apperr.Gateway("exchange code", err)
	}
	prof, err := provider.Profile(ctx, ts.AccessToken)
	if err != nil {
		return nil, apperr.Gateway("fetch profile", err)
	}
	if tokens != nil {
		if err := tokens.Save(ctx, provider.Platform(), prof.ID, ts); err != nil {
			logger.Warningf("Failed to cache %s token for %s: %v", provider.Platform(), prof.ID, err)
		}
	}
	ident, err := l.Link(ctx, session, provider.Platform(), prof)
	if err != nil {
		return nil, err
	}
	logger.Infof("Linked %s account %s to %s", provider.Platform(), prof.ID, ident.CanonicalID)
	return ident, nil
}

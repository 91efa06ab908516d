package storage

import (
	"context"
	"errors"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

var (
	ErrNotFound   = apperr.ErrNotFound
	ErrDuplicate  = errors.New("duplicate key")
	ErrConflict   = errors.New("version conflict")
	ErrNotPending = errors.New("appeal is no longer pending")
)

// AppealRepository stores appeals of both platforms.
type AppealRepository interface {
	// Create inserts a new appeal and fails with ErrDuplicate on an existing id.
	Create(ctx context.Context, a models.Appeal) error
	Get(ctx context.Context, p models.Platform, appealID string) (models.Appeal, error)
	// ApplyDecision moves a pending appeal to its final status in one write.
	ApplyDecision(ctx context.Context, p models.Platform, appealID string, d models.Decision) error
	ListByUser(ctx context.Context, p models.Platform, userID string, limit int) ([]models.Appeal, error)
	// HasOpen reports a pending or accepted appeal created at or after since.
	HasOpen(ctx context.Context, p models.Platform, userID string, since time.Time) (bool, error)
}

// AppellantRepository holds per-platform eligibility state.
type AppellantRepository interface {
	Get(ctx context.Context, p models.Platform, userID string) (*models.AppellantState, error)
	// Update applies fn atomically, creating the row when missing.
	Update(ctx context.Context, p models.Platform, userID string, fn func(*models.AppellantState) error) (*models.AppellantState, error)
}

// SessionRepository tracks consumed form tokens.
type SessionRepository interface {
	IsUsed(ctx context.Context, tokenHash string) (bool, error)
	MarkUsed(ctx context.Context, s *models.AppealSession) error
	LastSubmit(ctx context.Context, p models.Platform, userID string) (time.Time, error)
}

type ContextRepository interface {
	Upsert(ctx context.Context, c *models.BannedUserContext) error
	Get(ctx context.Context, userID string) (*models.BannedUserContext, error)
}

// IdentityRepository persists linked identities with optimistic versioning.
type IdentityRepository interface {
	Get(ctx context.Context, key string) (*models.AppellantIdentity, error)
	FindByPlatform(ctx context.Context, p models.Platform, platformID string) (*models.AppellantIdentity, error)
	// CompareAndSwap writes ident when the stored version equals expected
	// (zero meaning "absent") and bumps ident.Version on success.
	CompareAndSwap(ctx context.Context, ident *models.AppellantIdentity, expected int64) (bool, error)
}

type TokenRepository interface {
	Save(ctx context.Context, t *models.OAuthToken) error
	Get(ctx context.Context, p models.Platform, subject string) (*models.OAuthToken, error)
}

type RemovalRepository interface {
	Add(ctx context.Context, r *models.PendingRemoval) error
	Remove(ctx context.Context, guildID, userID string) error
	Due(ctx context.Context, now time.Time) ([]models.PendingRemoval, error)
}

// Repositories bundles every repository behind one backend.
type Repositories struct {
	Appeals    AppealRepository
	Appellants AppellantRepository
	Sessions   SessionRepository
	Contexts   ContextRepository
	Identities IdentityRepository
	Tokens     TokenRepository
	Removals   RemovalRepository

	// Durable is false for the process-local fallback.
	Durable bool
	ping    func(ctx context.Context) error
}

// Ping checks backend connectivity.
func (r *Repositories) Ping(ctx context.Context) error {
	if r.ping == nil {
		return nil
	}
	return r.ping(ctx)
}

package storage

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// NewMemoryRepositories returns process-local repositories used when the
// database is disabled. State does not survive a restart.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Appeals:    &MemoryAppealRepository{rows: xsync.NewMapOf[string, models.Appeal]()},
		Appellants: &MemoryAppellantRepository{rows: xsync.NewMapOf[string, *models.AppellantState]()},
		Sessions:   &MemorySessionRepository{rows: xsync.NewMapOf[string, models.AppealSession]()},
		Contexts:   &MemoryContextRepository{rows: xsync.NewMapOf[string, *models.BannedUserContext]()},
		Identities: &MemoryIdentityRepository{rows: xsync.NewMapOf[string, models.AppellantIdentity]()},
		Tokens:     &MemoryTokenRepository{rows: xsync.NewMapOf[string, models.OAuthToken]()},
		Removals:   &MemoryRemovalRepository{rows: xsync.NewMapOf[string, models.PendingRemoval]()},
		Durable:    false,
	}
}

func platformKey(p models.Platform, id string) string {
	return string(p) + ":" + id
}

func cloneAppeal(a models.Appeal) models.Appeal {
	switch v := a.(type) {
	case *models.DiscordAppeal:
		cp := *v
		cp.MessageCache = append([]models.ContextEntry(nil), v.MessageCache...)
		return &cp
	case *models.RobloxAppeal:
		cp := *v
		cp.MessageCache = append([]models.ContextEntry(nil), v.MessageCache...)
		return &cp
	default:
		return a
	}
}

type MemoryAppealRepository struct {
	rows *xsync.MapOf[string, models.Appeal]
}

func (r *MemoryAppealRepository) Create(_ context.Context, a models.Appeal) error {
	c := a.Common()
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if _, loaded := r.rows.LoadOrStore(platformKey(a.Platform(), c.AppealID), cloneAppeal(a)); loaded {
		return ErrDuplicate
	}
	return nil
}

func (r *MemoryAppealRepository) Get(_ context.Context, p models.Platform, appealID string) (models.Appeal, error) {
	a, ok := r.rows.Load(platformKey(p, appealID))
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAppeal(a), nil
}

func (r *MemoryAppealRepository) ApplyDecision(_ context.Context, p models.Platform, appealID string, d models.Decision) error {
	var result error
	r.rows.Compute(platformKey(p, appealID), func(old models.Appeal, loaded bool) (models.Appeal, bool) {
		if !loaded {
			result = ErrNotFound
			return old, true
		}
		if old.Common().Status != models.StatusPending {
			result = ErrNotPending
			return old, false
		}
		next := cloneAppeal(old)
		c := next.Common()
		decidedAt := d.DecisionAt
		c.Status = d.Status
		c.DecisionBy = d.DecisionBy
		c.DecisionAt = &decidedAt
		c.DMDelivered = d.DMDelivered
		c.Notes = d.Notes
		c.UpdatedAt = time.Now()
		return next, false
	})
	return result
}

func (r *MemoryAppealRepository) ListByUser(_ context.Context, p models.Platform, userID string, limit int) ([]models.Appeal, error) {
	var out []models.Appeal
	r.rows.Range(func(_ string, a models.Appeal) bool {
		if a.Platform() == p && a.Common().UserID == userID {
			out = append(out, cloneAppeal(a))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Common().CreatedAt.After(out[j].Common().CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAppealRepository) HasOpen(_ context.Context, p models.Platform, userID string, since time.Time) (bool, error) {
	found := false
	r.rows.Range(func(_ string, a models.Appeal) bool {
		c := a.Common()
		if a.Platform() == p && c.UserID == userID && !c.CreatedAt.Before(since) &&
			(c.Status == models.StatusPending || c.Status == models.StatusAccepted) {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

type MemoryAppellantRepository struct {
	rows *xsync.MapOf[string, *models.AppellantState]
}

func (r *MemoryAppellantRepository) Get(_ context.Context, p models.Platform, userID string) (*models.AppellantState, error) {
	s, ok := r.rows.Load(platformKey(p, userID))
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Update runs fn under the map's per-key lock; other keys are not blocked.
func (r *MemoryAppellantRepository) Update(_ context.Context, p models.Platform, userID string, fn func(*models.AppellantState) error) (*models.AppellantState, error) {
	var (
		out  *models.AppellantState
		ferr error
	)
	r.rows.Compute(platformKey(p, userID), func(old *models.AppellantState, loaded bool) (*models.AppellantState, bool) {
		next := models.AppellantState{Platform: p, UserID: userID, CreatedAt: time.Now()}
		if loaded {
			next = *old
		}
		if ferr = fn(&next); ferr != nil {
			return old, !loaded
		}
		next.UpdatedAt = time.Now()
		cp := next
		out = &cp
		return &next, false
	})
	if ferr != nil {
		return nil, ferr
	}
	return out, nil
}

type MemorySessionRepository struct {
	rows *xsync.MapOf[string, models.AppealSession]
}

func (r *MemorySessionRepository) IsUsed(_ context.Context, tokenHash string) (bool, error) {
	_, ok := r.rows.Load(tokenHash)
	return ok, nil
}

func (r *MemorySessionRepository) MarkUsed(_ context.Context, s *models.AppealSession) error {
	row := *s
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	r.rows.Store(s.TokenHash, row)
	return nil
}

func (r *MemorySessionRepository) LastSubmit(_ context.Context, p models.Platform, userID string) (time.Time, error) {
	var last time.Time
	r.rows.Range(func(_ string, s models.AppealSession) bool {
		if s.Platform == p && s.UserID == userID && s.LastSubmit.After(last) {
			last = s.LastSubmit
		}
		return true
	})
	return last, nil
}

type MemoryContextRepository struct {
	rows *xsync.MapOf[string, *models.BannedUserContext]
}

func (r *MemoryContextRepository) Upsert(_ context.Context, c *models.BannedUserContext) error {
	cp := *c
	cp.Messages = append([]models.ContextEntry(nil), c.Messages...)
	cp.UpdatedAt = time.Now()
	r.rows.Store(c.UserID, &cp)
	return nil
}

func (r *MemoryContextRepository) Get(_ context.Context, userID string) (*models.BannedUserContext, error) {
	c, ok := r.rows.Load(userID)
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Messages = append([]models.ContextEntry(nil), c.Messages...)
	return &cp, nil
}

type MemoryIdentityRepository struct {
	rows *xsync.MapOf[string, models.AppellantIdentity]
}

func (r *MemoryIdentityRepository) Get(_ context.Context, key string) (*models.AppellantIdentity, error) {
	ident, ok := r.rows.Load(key)
	if !ok {
		return nil, nil
	}
	return &ident, nil
}

func (r *MemoryIdentityRepository) FindByPlatform(_ context.Context, p models.Platform, platformID string) (*models.AppellantIdentity, error) {
	var found *models.AppellantIdentity
	r.rows.Range(func(_ string, ident models.AppellantIdentity) bool {
		if (p == models.PlatformDiscord && ident.DiscordID == platformID) ||
			(p == models.PlatformRoblox && ident.RobloxID == platformID) {
			if found == nil || ident.UpdatedAt.After(found.UpdatedAt) {
				cp := ident
				found = &cp
			}
		}
		return true
	})
	return found, nil
}

func (r *MemoryIdentityRepository) CompareAndSwap(_ context.Context, ident *models.AppellantIdentity, expected int64) (bool, error) {
	swapped := false
	r.rows.Compute(ident.Key, func(old models.AppellantIdentity, loaded bool) (models.AppellantIdentity, bool) {
		current := int64(0)
		if loaded {
			current = old.Version
		}
		if current != expected {
			return old, !loaded
		}
		next := *ident
		next.Version = expected + 1
		next.UpdatedAt = time.Now()
		if !loaded {
			next.CreatedAt = next.UpdatedAt
		} else {
			next.CreatedAt = old.CreatedAt
		}
		swapped = true
		return next, false
	})
	if swapped {
		ident.Version = expected + 1
	}
	return swapped, nil
}

type MemoryTokenRepository struct {
	rows *xsync.MapOf[string, models.OAuthToken]
}

func (r *MemoryTokenRepository) Save(_ context.Context, t *models.OAuthToken) error {
	row := *t
	row.UpdatedAt = time.Now()
	r.rows.Store(platformKey(t.Platform, t.Subject), row)
	return nil
}

func (r *MemoryTokenRepository) Get(_ context.Context, p models.Platform, subject string) (*models.OAuthToken, error) {
	t, ok := r.rows.Load(platformKey(p, subject))
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type MemoryRemovalRepository struct {
	rows *xsync.MapOf[string, models.PendingRemoval]
}

func (r *MemoryRemovalRepository) Add(_ context.Context, pr *models.PendingRemoval) error {
	row := *pr
	row.UpdatedAt = time.Now()
	r.rows.Store(row.GuildID+":"+row.UserID, row)
	return nil
}

func (r *MemoryRemovalRepository) Remove(_ context.Context, guildID, userID string) error {
	r.rows.Delete(guildID + ":" + userID)
	return nil
}

func (r *MemoryRemovalRepository) Due(_ context.Context, now time.Time) ([]models.PendingRemoval, error) {
	var out []models.PendingRemoval
	r.rows.Range(func(_ string, pr models.PendingRemoval) bool {
		if !pr.RemoveAt.After(now) {
			out = append(out, pr)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RemoveAt.Before(out[j].RemoveAt) })
	return out, nil
}

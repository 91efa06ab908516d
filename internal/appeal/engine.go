// Package appeal implements the appeal lifecycle: ban observation,
// eligibility, form issuance and idempotent submission.
package appeal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/idempotency"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/msgcache"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/ratelimit"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
	"github.com/csnsor/bs-webpanel-sub000/internal/token"
	"github.com/csnsor/bs-webpanel-sub000/internal/translate"
)

type Options struct {
	Window      time.Duration
	FormTTL     time.Duration
	ReasonMax   int
	EvidenceMax int
	// stamped on new appeals
	DiscordGuildID   string
	RobloxUniverseID string
}

// Deps are the collaborators of an Engine. Cache and Translator may be nil.
type Deps struct {
	Bans       map[models.Platform]platform.BanGateway
	Repos      *storage.Repositories
	Claims     idempotency.Store
	Signer     *token.Signer
	IPLimiter  *ratelimit.IPLimiter
	Cooldown   *ratelimit.Cooldown
	Cache      *msgcache.Cache
	Review     platform.ReviewChannel
	Translator translate.Translator
}

type Engine struct {
	opts Options
	Deps
	now   func() time.Time
	newID func() string
}

func NewEngine(opts Options, deps Deps) *Engine {
	if deps.Translator == nil {
		deps.Translator = translate.Noop{}
	}
	return &Engine{
		opts:  opts,
		Deps:  deps,
		now:   time.Now,
		newID: NewAppealID,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// NewAppealID returns a short random id that fits in review callback data.
func NewAppealID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// AppellantKey identifies one platform account across limiter tables.
func AppellantKey(p models.Platform, userID string) string {
	return string(p) + ":" + userID
}

// NewCooldown builds the per-appellant cooldown backed by the durable
// submission log.
func NewCooldown(period time.Duration, sessions storage.SessionRepository) *ratelimit.Cooldown {
	return ratelimit.NewCooldown(period, ratelimit.LastSubmitFunc(func(ctx context.Context, key string) (time.Time, error) {
		name, userID, ok := strings.Cut(key, ":")
		if !ok {
			return time.Time{}, fmt.Errorf("malformed appellant key %q", key)
		}
		return sessions.LastSubmit(ctx, models.Platform(name), userID)
	}))
}

// Eligibility is the outcome of the ordered eligibility rules. Reason is
// empty when the appellant may submit.
type Eligibility struct {
	Platform     models.Platform         `json:"platform"`
	UserID       string                  `json:"user_id"`
	Ban          *platform.Ban           `json:"-"`
	BanReason    string                  `json:"ban_reason,omitempty"`
	BanFirstSeen time.Time               `json:"ban_first_seen,omitempty"`
	Deadline     time.Time               `json:"deadline,omitempty"`
	Eligible     bool                    `json:"eligible"`
	Reason       apperr.IneligibleReason `json:"reason,omitempty"`
}

// Err is nil when eligible and an *apperr.IneligibleError otherwise.
func (el *Eligibility) Err() error {
	if el.Eligible {
		return nil
	}
	return apperr.Ineligible(el.Reason)
}

func (e *Engine) gateway(p models.Platform) (platform.BanGateway, error) {
	gw, ok := e.Bans[p]
	if !ok {
		return nil, apperr.Invalid("platform %s is not enabled", p)
	}
	return gw, nil
}

// Evaluate applies the rules in order, first match wins: no active ban,
// declined for this ban, window closed, already submitted.
func (e *Engine) Evaluate(ctx context.Context, p models.Platform, userID string) (*Eligibility, error) {
	gw, err := e.gateway(p)
	if err != nil {
		return nil, err
	}
	ban, err := gw.GetBan(ctx, userID)
	if err != nil {
		return nil, apperr.Gateway("get ban", err)
	}

	el := &Eligibility{Platform: p, UserID: userID}
	if ban == nil {
		if err := e.ClearBan(ctx, p, userID); err != nil {
			logger.Warningf("Failed to clear ban state for %s: %v", AppellantKey(p, userID), err)
		}
		el.Reason = apperr.ReasonNoBan
		return el, nil
	}
	el.Ban = ban
	el.BanReason = ban.Reason

	now := e.now()
	state, err := e.banState(ctx, p, userID, ban, now)
	if err != nil {
		return nil, err
	}
	el.BanFirstSeen = *state.BanFirstSeen
	el.Deadline = el.BanFirstSeen.Add(e.opts.Window)

	switch {
	case state.DeclinedForCurrentBan():
		el.Reason = apperr.ReasonDeclined
	case now.After(el.Deadline):
		el.Reason = apperr.ReasonWindowClosed
	case state.LockedForCurrentBan():
		el.Reason = apperr.ReasonAlreadySubmitted
	default:
		open, err := e.Repos.Appeals.HasOpen(ctx, p, userID, el.BanFirstSeen)
		if err != nil {
			logger.Warningf("Open appeal lookup failed for %s: %v", AppellantKey(p, userID), err)
		} else if open {
			el.Reason = apperr.ReasonAlreadySubmitted
		}
	}
	el.Eligible = el.Reason == ""
	return el, nil
}

// banState returns the appellant row, recording first-seen for a ban that
// has not been observed before. A platform-reported start later than the
// recorded one means the ban was replaced, which ends any decline or lock.
func (e *Engine) banState(ctx context.Context, p models.Platform, userID string, ban *platform.Ban, now time.Time) (*models.AppellantState, error) {
	state, err := e.Repos.Appellants.Get(ctx, p, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: appellant state: %v", apperr.ErrPersistenceUnavailable, err)
	}
	since, known := bannedAt(ban, now)
	replaced := func(seen *time.Time) bool { return known && since.After(*seen) }

	if state != nil && state.BanFirstSeen != nil && !replaced(state.BanFirstSeen) {
		return state, nil
	}
	state, err = e.Repos.Appellants.Update(ctx, p, userID, func(s *models.AppellantState) error {
		if s.BanFirstSeen == nil || replaced(s.BanFirstSeen) {
			first := now
			if known {
				first = since
			}
			s.BanFirstSeen = &first
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: appellant state: %v", apperr.ErrPersistenceUnavailable, err)
	}
	return state, nil
}

// bannedAt is the platform-reported start of the ban; a start in the future
// is ignored until it has passed.
func bannedAt(ban *platform.Ban, now time.Time) (time.Time, bool) {
	if ban.Since == nil || ban.Since.After(now) {
		return time.Time{}, false
	}
	return *ban.Since, true
}

// ObserveBan records a ban seen at the given time. A ban later than the
// recorded one replaces it, which ends any decline or lock from the old ban.
func (e *Engine) ObserveBan(ctx context.Context, p models.Platform, userID string, at time.Time) error {
	_, err := e.Repos.Appellants.Update(ctx, p, userID, func(s *models.AppellantState) error {
		if s.BanFirstSeen == nil || at.After(*s.BanFirstSeen) {
			first := at
			s.BanFirstSeen = &first
		}
		return nil
	})
	return err
}

// ClearBan forgets the active ban after an unban.
func (e *Engine) ClearBan(ctx context.Context, p models.Platform, userID string) error {
	state, err := e.Repos.Appellants.Get(ctx, p, userID)
	if err != nil || state == nil || state.BanFirstSeen == nil {
		return err
	}
	_, err = e.Repos.Appellants.Update(ctx, p, userID, func(s *models.AppellantState) error {
		s.BanFirstSeen = nil
		return nil
	})
	return err
}

// MarkDeclined makes the appellant ineligible for the ban first seen at
// banSeen, the one the appeal was filed against. A zero banSeen means the
// current ban. Declining an older ban leaves a newer one appealable.
func (e *Engine) MarkDeclined(ctx context.Context, p models.Platform, userID string, banSeen time.Time) error {
	now := e.now()
	_, err := e.Repos.Appellants.Update(ctx, p, userID, func(s *models.AppellantState) error {
		if s.BanFirstSeen == nil {
			first := now
			if !banSeen.IsZero() {
				first = banSeen
			}
			s.BanFirstSeen = &first
		}
		seen := *s.BanFirstSeen
		if !banSeen.IsZero() {
			seen = banSeen
		}
		s.DeclinedBanSeen = &seen
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: mark declined: %v", apperr.ErrPersistenceUnavailable, err)
	}
	return nil
}

func (e *Engine) lock(ctx context.Context, p models.Platform, userID string, at time.Time) error {
	_, err := e.Repos.Appellants.Update(ctx, p, userID, func(s *models.AppellantState) error {
		if s.BanFirstSeen != nil {
			seen := *s.BanFirstSeen
			s.LockedBanSeen = &seen
		}
		last := at
		s.LastSubmit = &last
		return nil
	})
	return err
}

package appeal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/metrics"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/token"
)

// submitClaimTTL bounds the per-appellant claim held while one submission
// is in flight.
const submitClaimTTL = time.Minute

// Form is what the appeal page needs: eligibility, the ban's message
// context and, when eligible, a fresh form token.
type Form struct {
	*Eligibility
	Token     string                `json:"form_token,omitempty"`
	ExpiresAt time.Time             `json:"expires_at,omitempty"`
	Context   []models.ContextEntry `json:"message_context,omitempty"`
}

// PrepareForm evaluates eligibility and issues a form token bound to the
// current ban and message-context snapshot.
func (e *Engine) PrepareForm(ctx context.Context, p models.Platform, userID string) (*Form, error) {
	el, err := e.Evaluate(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	form := &Form{Eligibility: el}
	if !el.Eligible {
		return form, nil
	}
	if p == models.PlatformDiscord && e.Cache != nil {
		form.Context = e.Cache.Context(ctx, userID)
	}
	now := e.now()
	form.Token, err = e.Signer.SignForm(token.FormClaims{
		Platform:      string(p),
		UserID:        userID,
		BanFirstSeen:  el.BanFirstSeen.Unix(),
		ContextDigest: contextDigest(form.Context),
	})
	if err != nil {
		return nil, err
	}
	form.ExpiresAt = now.Add(e.opts.FormTTL)
	return form, nil
}

func contextDigest(entries []models.ContextEntry) string {
	if len(entries) == 0 {
		return ""
	}
	h := sha256.New()
	for _, en := range entries {
		h.Write([]byte(en.MessageID))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Submission is a filled-in appeal form.
type Submission struct {
	FormToken    string
	Reason       string
	Evidence     string
	Username     string
	AcceptLang   string
	IP           string
	ForwardedFor string
	UserAgent    string
	// Session is the appellant's login, if any.
	Session *token.SessionClaims
}

// Submit accepts a form exactly once. The form-token claim is taken before
// any other work, so concurrent replays of one token resolve to a single
// winner; the durable session table catches replays across instances and
// restarts. Claims are released when the submission does not go through.
func (e *Engine) Submit(ctx context.Context, s Submission) (a models.Appeal, err error) {
	label := "unknown"
	defer func() {
		metrics.Submissions.WithLabelValues(label, apperr.Label(err)).Inc()
		var rl *apperr.RateLimitedError
		if errors.As(err, &rl) {
			metrics.RateLimited.WithLabelValues(rl.Scope).Inc()
		}
	}()

	claims, err := e.Signer.ParseForm(s.FormToken)
	if err != nil {
		return nil, err
	}
	p, err := models.ParsePlatform(claims.Platform)
	if err != nil {
		return nil, apperr.ErrInvalidToken
	}
	label = string(p)
	userID := claims.UserID

	if err := e.IPLimiter.Allow(s.IP); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(s.Reason)
	evidence := strings.TrimSpace(s.Evidence)
	if reason == "" {
		return nil, apperr.Invalid("reason is required")
	}
	if n := utf8.RuneCountInString(reason); n > e.opts.ReasonMax {
		return nil, apperr.Invalid("reason is %d characters, limit is %d", n, e.opts.ReasonMax)
	}
	if n := utf8.RuneCountInString(evidence); n > e.opts.EvidenceMax {
		return nil, apperr.Invalid("evidence is %d characters, limit is %d", n, e.opts.EvidenceMax)
	}

	hash := token.Hash(s.FormToken)
	formKey := "form:" + hash
	won, err := e.Claims.Claim(ctx, formKey, e.opts.FormTTL)
	if err != nil {
		return nil, apperr.Gateway("claim form token", err)
	}
	if !won {
		return nil, apperr.ErrDuplicateSubmission
	}
	committed := false
	defer func() {
		if !committed {
			e.release(ctx, formKey)
		}
	}()

	used, err := e.Repos.Sessions.IsUsed(ctx, hash)
	if err != nil {
		logger.Warningf("Form token lookup failed, relying on the claim store: %v", err)
	} else if used {
		return nil, apperr.ErrDuplicateSubmission
	}

	key := AppellantKey(p, userID)
	submitKey := "submit:" + key
	won, err = e.Claims.Claim(ctx, submitKey, submitClaimTTL)
	if err != nil {
		return nil, apperr.Gateway("claim appellant", err)
	}
	if !won {
		return nil, apperr.Ineligible(apperr.ReasonAlreadySubmitted)
	}
	defer e.release(ctx, submitKey)

	el, err := e.Evaluate(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	if !el.Eligible {
		return nil, el.Err()
	}
	if claims.BanFirstSeen != el.BanFirstSeen.Unix() {
		return nil, apperr.ErrInvalidToken
	}
	if err := e.Cooldown.Check(ctx, key); err != nil {
		return nil, err
	}

	a = e.build(ctx, p, userID, el, s, reason, evidence, claims.ContextDigest)
	c := a.Common()

	ref, err := e.Review.SendAppeal(ctx, a)
	if err != nil {
		return nil, apperr.Gateway("send appeal to review", err)
	}
	c.ReviewChatID = ref.ChatID
	c.ReviewMessageID = ref.MessageID
	committed = true
	// the moderators have it now; finish the bookkeeping even if the client left
	ctx = context.WithoutCancel(ctx)

	if err := e.Repos.Appeals.Create(ctx, a); err != nil {
		logger.Errorf("Failed to persist appeal %s (already in review): %v", c.AppealID, err)
	}
	now := c.CreatedAt
	if err := e.Repos.Sessions.MarkUsed(ctx, &models.AppealSession{TokenHash: hash, Platform: p, UserID: userID, LastSubmit: now}); err != nil {
		logger.Errorf("Failed to mark form token used for appeal %s: %v", c.AppealID, err)
	}
	if err := e.lock(ctx, p, userID, now); err != nil {
		logger.Errorf("Failed to lock %s after appeal %s: %v", key, c.AppealID, err)
	}
	e.Cooldown.Record(key, now)

	logger.Infof("Appeal %s submitted by %s", c.AppealID, key)
	return a, nil
}

func (e *Engine) build(ctx context.Context, p models.Platform, userID string, el *Eligibility, s Submission, reason, evidence, digest string) models.Appeal {
	a := models.NewAppeal(p)
	c := a.Common()
	c.AppealID = e.newID()
	c.UserID = userID
	c.Username = s.Username
	c.BanReason = el.BanReason
	c.BanFirstSeen = el.BanFirstSeen
	c.Evidence = evidence
	c.Status = models.StatusPending
	c.IP = s.IP
	c.ForwardedFor = s.ForwardedFor
	c.UserAgent = s.UserAgent
	c.CreatedAt = e.now()

	tr := e.Translator.Translate(ctx, reason)
	c.AppealReason = tr.Translated
	c.AppealReasonOriginal = tr.Original
	lang := s.AcceptLang
	if lang == "" {
		lang = tr.Language
	}
	c.UserLang = models.MatchLanguage(lang)

	if s.Session != nil {
		c.InternalUserID = s.Session.InternalID
		if c.Username == "" {
			c.Username = s.Session.DisplayName
		}
	}

	switch v := a.(type) {
	case *models.DiscordAppeal:
		v.GuildID = e.opts.DiscordGuildID
		if e.Cache != nil {
			v.MessageCache = e.Cache.Context(ctx, userID)
			if d := contextDigest(v.MessageCache); d != digest {
				logger.Debugf("Message context for %s changed since the form was issued", userID)
			}
		}
	case *models.RobloxAppeal:
		v.UniverseID = e.opts.RobloxUniverseID
		if s.Session != nil {
			v.DiscordUserID = s.Session.DiscordID
		}
	}
	return a
}

func (e *Engine) release(ctx context.Context, key string) {
	if err := e.Claims.Release(context.WithoutCancel(ctx), key); err != nil {
		logger.Warningf("Failed to release claim %s: %v", key, err)
	}
}

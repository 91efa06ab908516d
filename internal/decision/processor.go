// Package decision applies moderator accept/decline decisions exactly once.
package decision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/crash"
	"github.com/csnsor/bs-webpanel-sub000/internal/idempotency"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/metrics"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
)

const (
	colorAccepted = 0x2ecc71
	colorDeclined = 0xe74c3c
)

type Options struct {
	ClaimTTL          time.Duration
	AppealGuildID     string
	ReaddGuildID      string
	DMGuildID         string
	RemoveFromDMGuild bool
	RemovalDelay      time.Duration
}

// AccessTokens yields stored OAuth tokens for guild joins.
type AccessTokens interface {
	ValidAccessToken(ctx context.Context, p models.Platform, subject string) (string, error)
}

// Decliner records a decline against the ban first seen at banSeen.
type Decliner interface {
	MarkDeclined(ctx context.Context, p models.Platform, userID string, banSeen time.Time) error
}

type Deps struct {
	Bans   map[models.Platform]platform.BanGateway
	Guilds platform.GuildGateway
	Review platform.ReviewChannel
	Claims idempotency.Store
	Repos  *storage.Repositories
	Tokens AccessTokens
	State  Decliner
	// OnDecided runs after a decision is stored, if set.
	OnDecided func(a models.Appeal)
}

// Actor is the moderator behind a decision event.
type Actor struct {
	ID        string
	Name      string
	Moderator bool
}

// Event is a decision as delivered by the review channel. Target was fixed
// when the review message was created.
type Event struct {
	Action  platform.Action
	Target  platform.DecisionTarget
	Actor   Actor
	Message platform.MessageRef
}

// Outcome describes an applied decision.
type Outcome struct {
	Status      models.AppealStatus
	DMDelivered bool
	Notes       string
}

type Processor struct {
	opts Options
	Deps
	now func() time.Time
}

func NewProcessor(opts Options, deps Deps) *Processor {
	return &Processor{opts: opts, Deps: deps, now: time.Now}
}

func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// ClaimKey is the idempotency key of an appeal's decision.
func ClaimKey(appealID string) string {
	return "decision:" + appealID
}

// Process runs one decision event. The claim is taken before any I/O so a
// concurrent duplicate loses deterministically; a failed required step
// releases it and leaves the appeal untouched for a retry.
func (p *Processor) Process(ctx context.Context, ev Event) (out *Outcome, err error) {
	defer func() {
		metrics.Decisions.WithLabelValues(string(ev.Action), apperr.Label(err)).Inc()
	}()

	if !ev.Action.Valid() {
		return nil, apperr.Invalid("unknown action %q", ev.Action)
	}
	if !ev.Actor.Moderator {
		logger.Warningf("Decision on appeal %s by non-moderator %s rejected", ev.Target.AppealID, ev.Actor.ID)
		return nil, apperr.ErrPermissionDenied
	}

	key := ClaimKey(ev.Target.AppealID)
	won, err := p.Claims.Claim(ctx, key, p.opts.ClaimTTL)
	if err != nil {
		return nil, apperr.Gateway("claim decision", err)
	}
	if !won {
		logger.Infof("Appeal %s already being processed, ignoring %s from %s", ev.Target.AppealID, ev.Action, ev.Actor.ID)
		return nil, apperr.ErrDuplicateDecision
	}
	// claimed: finish or roll back regardless of the caller
	ctx = context.WithoutCancel(ctx)

	processing := fmt.Sprintf(models.GetTranslation(models.LangEnglish, "review_processing"), ev.Action, ev.Actor.Name)
	if err := p.Review.EditMessage(ctx, ev.Message, processing, nil); err != nil {
		logger.Warningf("Failed to mark appeal %s as processing: %v", ev.Target.AppealID, err)
	}

	a, err := p.load(ctx, ev.Target)
	if err != nil {
		p.rollback(ctx, ev, key, err)
		return nil, err
	}
	if a.Common().Status != models.StatusPending {
		logger.Infof("Appeal %s is already %s", ev.Target.AppealID, a.Common().Status)
		p.retire(ctx, ev.Message, fmt.Sprintf(models.GetTranslation(models.LangEnglish, "decision_done"), ev.Target.AppealID, a.Common().Status))
		return nil, apperr.ErrDuplicateDecision
	}

	var res *Outcome
	err = crash.Guard("decision-"+ev.Target.AppealID, func() error {
		var ferr error
		res, ferr = p.apply(ctx, ev, a)
		return ferr
	})
	if err != nil {
		p.rollback(ctx, ev, key, err)
		return nil, err
	}

	p.record(ctx, ev, a, res)
	return res, nil
}

func (p *Processor) load(ctx context.Context, t platform.DecisionTarget) (models.Appeal, error) {
	a, err := p.Repos.Appeals.Get(ctx, t.Platform, t.AppealID)
	if err == nil {
		if a.Common().UserID != t.UserID {
			return nil, apperr.Invalid("appeal %s does not belong to %s", t.AppealID, t.UserID)
		}
		return a, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: load appeal: %v", apperr.ErrPersistenceUnavailable, err)
	}
	// the review message is authoritative when the record never made it to the store
	logger.Warningf("Appeal %s not in store, deciding from review message", t.AppealID)
	a = models.NewAppeal(t.Platform)
	c := a.Common()
	c.AppealID = t.AppealID
	c.UserID = t.UserID
	c.Status = models.StatusPending
	c.UserLang = models.LangEnglish
	return a, nil
}

func (p *Processor) apply(ctx context.Context, ev Event, a models.Appeal) (*Outcome, error) {
	if ev.Action == platform.ActionAccept {
		return p.accept(ctx, a)
	}
	return p.decline(ctx, a)
}

func (p *Processor) accept(ctx context.Context, a models.Appeal) (*Outcome, error) {
	c := a.Common()
	var notes []string

	gw, ok := p.Bans[a.Platform()]
	if !ok {
		return nil, apperr.Invalid("platform %s is not enabled", a.Platform())
	}
	status, err := gw.RevokeRestriction(ctx, c.UserID)
	if err != nil || !platform.IsRemovalSuccess(status) {
		return nil, apperr.Gateway("unban", fmt.Errorf("status %d: %v", status, err))
	}
	notes = append(notes, "Unban OK")

	dmUser := c.UserID
	if ra, ok := a.(*models.RobloxAppeal); ok {
		dmUser = ra.DiscordUserID
	} else {
		notes = append(notes, p.removeFromAppealGuild(ctx, c.UserID))
		notes = append(notes, p.readd(ctx, c.UserID))
	}

	delivered, note := p.notify(ctx, dmUser, a, true)
	notes = append(notes, note)
	return &Outcome{Status: models.StatusAccepted, DMDelivered: delivered, Notes: strings.Join(notes, "; ")}, nil
}

func (p *Processor) decline(ctx context.Context, a models.Appeal) (*Outcome, error) {
	c := a.Common()
	var notes []string

	if err := p.State.MarkDeclined(ctx, a.Platform(), c.UserID, c.BanFirstSeen); err != nil {
		return nil, fmt.Errorf("mark declined: %w", err)
	}
	notes = append(notes, "Declined for the appealed ban")

	dmUser := c.UserID
	if ra, ok := a.(*models.RobloxAppeal); ok {
		dmUser = ra.DiscordUserID
	} else {
		notes = append(notes, p.removeFromAppealGuild(ctx, c.UserID))
	}

	delivered, note := p.notify(ctx, dmUser, a, false)
	notes = append(notes, note)
	return &Outcome{Status: models.StatusDeclined, DMDelivered: delivered, Notes: strings.Join(notes, "; ")}, nil
}

func (p *Processor) removeFromAppealGuild(ctx context.Context, userID string) string {
	if p.opts.AppealGuildID == "" || p.Guilds == nil {
		return "Appeal guild removal skipped"
	}
	status, err := p.Guilds.RemoveMember(ctx, p.opts.AppealGuildID, userID)
	if err != nil || !platform.IsRemovalSuccess(status) {
		logger.Warningf("Failed to remove %s from appeal guild: status %d: %v", userID, status, err)
		return fmt.Sprintf("Appeal guild removal Fail (%d)", status)
	}
	return "Appeal guild removal OK"
}

func (p *Processor) readd(ctx context.Context, userID string) string {
	if p.opts.ReaddGuildID == "" || p.Guilds == nil || p.Tokens == nil {
		return "Re-add skipped"
	}
	at, err := p.Tokens.ValidAccessToken(ctx, models.PlatformDiscord, userID)
	if err != nil {
		logger.Infof("No usable token to re-add %s: %v", userID, err)
		return "Re-add skipped (no token)"
	}
	status, err := p.Guilds.AddMember(ctx, p.opts.ReaddGuildID, userID, at)
	if err != nil {
		logger.Warningf("Failed to re-add %s: status %d: %v", userID, status, err)
		return fmt.Sprintf("Re-add Fail (%d)", status)
	}
	return "Re-add OK"
}

// notify sends the decision DM. When the user shares no guild with the bot
// it joins them to the DM guild with their stored token, retries, and
// schedules the transient membership for removal.
func (p *Processor) notify(ctx context.Context, userID string, a models.Appeal, accepted bool) (bool, string) {
	if userID == "" || p.Guilds == nil {
		return false, "DM skipped"
	}
	msg := directMessage(a, accepted)
	status, err := p.Guilds.SendDirectMessage(ctx, userID, msg)
	if err == nil {
		return true, "DM OK"
	}
	if status != http.StatusForbidden || p.opts.DMGuildID == "" || p.Tokens == nil {
		logger.Infof("DM to %s failed: %v", userID, err)
		return false, fmt.Sprintf("DM Fail (%d)", status)
	}

	at, terr := p.Tokens.ValidAccessToken(ctx, models.PlatformDiscord, userID)
	if terr != nil {
		return false, fmt.Sprintf("DM Fail (%d, no token)", status)
	}
	if joined, jerr := p.Guilds.AddMember(ctx, p.opts.DMGuildID, userID, at); jerr != nil {
		logger.Warningf("Failed to add %s to DM guild: status %d: %v", userID, joined, jerr)
		return false, fmt.Sprintf("DM Fail (%d)", status)
	}
	if p.opts.RemoveFromDMGuild {
		pr := &models.PendingRemoval{GuildID: p.opts.DMGuildID, UserID: userID, RemoveAt: p.now().Add(p.opts.RemovalDelay)}
		if err := p.Repos.Removals.Add(ctx, pr); err != nil {
			logger.Errorf("Failed to schedule DM guild removal for %s: %v", userID, err)
		}
	}
	status, err = p.Guilds.SendDirectMessage(ctx, userID, msg)
	if err != nil {
		return false, fmt.Sprintf("DM Fail via DM guild (%d)", status)
	}
	return true, "DM OK via DM guild"
}

func directMessage(a models.Appeal, accepted bool) platform.DirectMessage {
	lang := a.Common().UserLang
	if accepted {
		return platform.DirectMessage{
			Title: models.GetTranslation(lang, "dm_accepted_title"),
			Body:  fmt.Sprintf(models.GetTranslation(lang, "dm_accepted_body"), a.Common().AppealID),
			Color: colorAccepted,
		}
	}
	return platform.DirectMessage{
		Title: models.GetTranslation(lang, "dm_declined_title"),
		Body:  fmt.Sprintf(models.GetTranslation(lang, "dm_declined_body"), a.Common().AppealID),
		Color: colorDeclined,
	}
}

func (p *Processor) rollback(ctx context.Context, ev Event, key string, cause error) {
	if err := p.Claims.Release(ctx, key); err != nil {
		logger.Errorf("Failed to release decision claim for %s: %v", ev.Target.AppealID, err)
	}
	logger.Errorf("Decision %s on appeal %s failed: %v", ev.Action, ev.Target.AppealID, cause)
	text := fmt.Sprintf(models.GetTranslation(models.LangEnglish, "review_failed"), ev.Action, ev.Target.AppealID, cause)
	target := ev.Target
	if err := p.Review.EditMessage(ctx, ev.Message, text, &target); err != nil {
		logger.Warningf("Failed to restore review message for %s: %v", ev.Target.AppealID, err)
	}
}

func (p *Processor) record(ctx context.Context, ev Event, a models.Appeal, res *Outcome) {
	c := a.Common()
	d := models.Decision{
		Status:      res.Status,
		DecisionBy:  ev.Actor.ID,
		DecisionAt:  p.now(),
		DMDelivered: res.DMDelivered,
		Notes:       res.Notes,
	}
	if err := p.Repos.Appeals.ApplyDecision(ctx, a.Platform(), c.AppealID, d); err != nil {
		logger.Errorf("Failed to store decision for appeal %s: %v", c.AppealID, err)
	}
	c.Status = d.Status
	c.DecisionBy = d.DecisionBy
	c.DecisionAt = &d.DecisionAt
	c.DMDelivered = d.DMDelivered
	c.Notes = d.Notes

	audit := fmt.Sprintf("Appeal %s (%s user %s) %s by %s (%s). %s",
		c.AppealID, a.Platform(), c.UserID, res.Status, ev.Actor.Name, ev.Actor.ID, res.Notes)
	if err := p.Review.PostAudit(ctx, audit); err != nil {
		logger.Warningf("Failed to post audit for appeal %s: %v", c.AppealID, err)
	}
	p.retire(ctx, ev.Message, fmt.Sprintf(models.GetTranslation(models.LangEnglish, "decision_done"), c.AppealID, res.Status))
	if p.OnDecided != nil {
		p.OnDecided(a)
	}
	logger.Infof("Appeal %s %s by %s: %s", c.AppealID, res.Status, ev.Actor.ID, res.Notes)
}

// retire deletes the review message, or strips its buttons when deletion
// fails, so it cannot be acted on again.
func (p *Processor) retire(ctx context.Context, ref platform.MessageRef, text string) {
	err := p.Review.DeleteMessage(ctx, ref)
	if err == nil {
		return
	}
	logger.Warningf("Failed to delete review message %d: %v", ref.MessageID, err)
	if err := p.Review.EditMessage(ctx, ref, text, nil); err != nil {
		logger.Warningf("Failed to rewrite review message %d: %v", ref.MessageID, err)
	}
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/decision"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/metrics"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

// Decider applies a moderator decision.
type Decider interface {
	Process(ctx context.Context, ev decision.Event) (*decision.Outcome, error)
}

// Callbacks turns button presses in the review chat into decision events.
type Callbacks struct {
	bot        *telego.Bot
	decider    Decider
	chatID     int64
	moderators map[int64]struct{}
}

func NewCallbacks(bot *telego.Bot, decider Decider, chatID int64, moderatorIDs []int64) *Callbacks {
	mods := make(map[int64]struct{}, len(moderatorIDs))
	for _, id := range moderatorIDs {
		mods[id] = struct{}{}
	}
	return &Callbacks{bot: bot, decider: decider, chatID: chatID, moderators: mods}
}

// Register attaches the callback and command handlers to bh.
func (c *Callbacks) Register(bh *th.BotHandler) {
	bh.HandleCallbackQuery(func(ctx *th.Context, query telego.CallbackQuery) error {
		return c.HandleCallbackQuery(ctx.Context(), query)
	})

	bh.HandleMessage(func(ctx *th.Context, message telego.Message) error {
		return c.handleStats(ctx.Context(), message)
	}, th.CommandEqual("stats"))
}

// HandleCallbackQuery processes one accept/decline button press.
func (c *Callbacks) HandleCallbackQuery(ctx context.Context, query telego.CallbackQuery) error {
	if query.Data == "" {
		return nil
	}
	metrics.IncCallbacks()
	logger.Infof("Received callback query: %s from %d", query.Data, query.From.ID)

	action, target, err := platform.DecodeCallback(query.Data)
	if err != nil {
		logger.Warningf("Invalid callback data: %v", err)
		return c.answer(ctx, query.ID, models.GetTranslation(models.LangEnglish, "invalid_callback"), true)
	}

	msg, ok := query.Message.(*telego.Message)
	if !ok || msg.Chat.ID != c.chatID {
		logger.Warningf("Ignoring decision callback outside the review chat from %d", query.From.ID)
		return c.answer(ctx, query.ID, models.GetTranslation(models.LangEnglish, "invalid_callback"), true)
	}

	ev := decision.Event{
		Action: action,
		Target: target,
		Actor: decision.Actor{
			ID:        strconv.FormatInt(query.From.ID, 10),
			Name:      displayName(query.From),
			Moderator: c.isModerator(ctx, query.From.ID),
		},
		Message: platform.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID},
	}

	out, err := c.decider.Process(ctx, ev)
	if err != nil && !apperr.IsIdempotencyHit(err) && !errors.Is(err, apperr.ErrPermissionDenied) {
		metrics.IncErrors()
		logger.Errorf("Decision %s on appeal %s failed: %v", action, target.AppealID, err)
	}

	text, alert := answerFor(err, out, target)
	return c.answer(ctx, query.ID, text, alert)
}

// answerFor picks the callback answer shown to the moderator.
func answerFor(err error, out *decision.Outcome, target platform.DecisionTarget) (string, bool) {
	lang := models.LangEnglish
	switch {
	case err == nil && out != nil:
		return fmt.Sprintf(models.GetTranslation(lang, "decision_done"), target.AppealID, out.Status), false
	case errors.Is(err, apperr.ErrPermissionDenied):
		return models.GetTranslation(lang, "perm_denied"), true
	case errors.Is(err, apperr.ErrDuplicateDecision):
		return models.GetTranslation(lang, "already_processed"), false
	case errors.Is(err, apperr.ErrInvalidInput):
		return models.GetTranslation(lang, "invalid_callback"), true
	default:
		return fmt.Sprintf(models.GetTranslation(lang, "decision_failed"), target.AppealID), true
	}
}

func (c *Callbacks) answer(ctx context.Context, queryID, text string, alert bool) error {
	err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		logger.Warningf("Error answering callback query: %v", err)
	}
	return err
}

// isModerator accepts configured moderator ids and admins of the review chat.
func (c *Callbacks) isModerator(ctx context.Context, userID int64) bool {
	if _, ok := c.moderators[userID]; ok {
		return true
	}
	isAdmin, err := isUserAdmin(ctx, c.bot, c.chatID, userID)
	if err != nil {
		logger.Warningf("Failed to check admin status of %d: %v", userID, err)
		return false
	}
	return isAdmin
}

func isUserAdmin(ctx context.Context, bot *telego.Bot, chatID int64, userID int64) (bool, error) {
	admins, err := bot.GetChatAdministrators(ctx, &telego.GetChatAdministratorsParams{
		ChatID: telego.ChatID{ID: chatID},
	})
	if err != nil {
		return false, err
	}

	for _, admin := range admins {
		if admin.MemberUser().ID == userID {
			return true, nil
		}
	}

	return false, nil
}

func (c *Callbacks) handleStats(ctx context.Context, message telego.Message) error {
	if message.Chat.ID != c.chatID {
		return nil
	}
	_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: message.Chat.ID},
		Text:   strings.TrimSpace(metrics.GetDetailedStatus()),
	})
	return err
}

func displayName(u telego.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

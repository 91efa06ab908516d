package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/mymmrac/telego"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

// Telegram rejects longer message texts.
const maxMessageRunes = 4000

// Review posts appeals to the moderators' chat and implements
// platform.ReviewChannel.
type Review struct {
	bot       *telego.Bot
	chatID    int64
	logChatID int64
}

func NewReview(bot *telego.Bot, chatID, logChatID int64) *Review {
	if logChatID == 0 {
		logChatID = chatID
	}
	return &Review{bot: bot, chatID: chatID, logChatID: logChatID}
}

func (r *Review) SendAppeal(ctx context.Context, a models.Appeal) (platform.MessageRef, error) {
	c := a.Common()
	target := platform.DecisionTarget{Platform: a.Platform(), AppealID: c.AppealID, UserID: c.UserID}
	msg, err := r.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:      telego.ChatID{ID: r.chatID},
		Text:        RenderAppeal(a),
		ParseMode:   "HTML",
		ReplyMarkup: decisionKeyboard(target),
	})
	if err != nil {
		return platform.MessageRef{}, err
	}
	return platform.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

func (r *Review) EditMessage(ctx context.Context, ref platform.MessageRef, text string, actions *platform.DecisionTarget) error {
	params := &telego.EditMessageTextParams{
		ChatID:    telego.ChatID{ID: ref.ChatID},
		MessageID: ref.MessageID,
		Text:      html.EscapeString(text),
		ParseMode: "HTML",
	}
	if actions != nil {
		params.ReplyMarkup = decisionKeyboard(*actions)
	} else {
		params.ReplyMarkup = &telego.InlineKeyboardMarkup{InlineKeyboard: [][]telego.InlineKeyboardButton{}}
	}
	_, err := r.bot.EditMessageText(ctx, params)
	return err
}

func (r *Review) DeleteMessage(ctx context.Context, ref platform.MessageRef) error {
	return r.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: ref.ChatID},
		MessageID: ref.MessageID,
	})
}

func (r *Review) PostAudit(ctx context.Context, text string) error {
	_, err := r.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: r.logChatID},
		Text:      html.EscapeString(text),
		ParseMode: "HTML",
	})
	return err
}

func decisionKeyboard(t platform.DecisionTarget) *telego.InlineKeyboardMarkup {
	return &telego.InlineKeyboardMarkup{InlineKeyboard: [][]telego.InlineKeyboardButton{{
		{
			Text:         models.GetTranslation(models.LangEnglish, "accept_button"),
			CallbackData: platform.EncodeCallback(platform.ActionAccept, t),
		},
		{
			Text:         models.GetTranslation(models.LangEnglish, "decline_button"),
			CallbackData: platform.EncodeCallback(platform.ActionDecline, t),
		},
	}}}
}

// RenderAppeal formats an appeal as a Telegram HTML message. Sections that
// would push the text past the message limit are dropped whole so no tag
// is left open.
func RenderAppeal(a models.Appeal) string {
	c := a.Common()
	e := html.EscapeString

	var head strings.Builder
	fmt.Fprintf(&head, "<b>%s</b>\n", e(fmt.Sprintf(models.GetTranslation(models.LangEnglish, "review_title"), a.Platform(), c.AppealID)))
	fmt.Fprintf(&head, "User: %s (<code>%s</code>)\n", e(c.Username), e(c.UserID))
	if v, ok := a.(*models.RobloxAppeal); ok && v.DiscordUserID != "" {
		fmt.Fprintf(&head, "Linked Discord: <code>%s</code>\n", e(v.DiscordUserID))
	}
	fmt.Fprintf(&head, "Ban reason: %s\n", e(truncate(c.BanReason, 300)))
	if !c.BanFirstSeen.IsZero() {
		fmt.Fprintf(&head, "Banned: %s\n", c.BanFirstSeen.UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&head, "Language: %s\n", e(c.UserLang))

	sections := []string{
		head.String(),
		fmt.Sprintf("\n<b>Appeal</b>\n<blockquote>%s</blockquote>\n", e(truncate(c.AppealReason, 1500))),
	}
	if c.AppealReasonOriginal != "" && c.AppealReasonOriginal != c.AppealReason {
		sections = append(sections, fmt.Sprintf("<b>Original</b>\n<blockquote>%s</blockquote>\n", e(truncate(c.AppealReasonOriginal, 1000))))
	}
	if c.Evidence != "" {
		sections = append(sections, fmt.Sprintf("<b>Evidence</b>\n%s\n", e(truncate(c.Evidence, 800))))
	}
	if len(c.MessageCache) > 0 {
		var b strings.Builder
		b.WriteString("\n<b>Recent messages</b>\n")
		for _, m := range c.MessageCache {
			channel := m.ChannelName
			if channel == "" {
				channel = m.ChannelID
			}
			fmt.Fprintf(&b, "• [#%s] %s\n", e(channel), e(truncate(m.Content, 150)))
		}
		sections = append(sections, b.String())
	}

	var out strings.Builder
	used := 0
	for _, section := range sections {
		n := utf8.RuneCountInString(section)
		if used+n > maxMessageRunes {
			continue
		}
		out.WriteString(section)
		used += n
	}
	return out.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

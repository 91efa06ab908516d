package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"github.com/csnsor/bs-webpanel-sub000/internal/config"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// BotService represents the Telegram bot service
type BotService struct {
	Bot     *telego.Bot
	Handler *th.BotHandler
}

// Start starts the bot handler; it blocks until Stop.
func (b *BotService) Start() {
	if err := b.Handler.Start(); err != nil {
		logger.Errorf("Bot handler stopped: %v", err)
	}
}

// Stop stops the bot handler
func (b *BotService) Stop() {
	if err := b.Handler.Stop(); err != nil {
		logger.Warningf("Bot handler stop: %v", err)
	}
}

// NewBot creates the API client without contacting Telegram.
func NewBot(cfg *config.Config, opts ...telego.BotOption) (*telego.Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if len(opts) == 0 {
		opts = append(opts, telego.WithDefaultLogger(false, true))
	}
	bot, err := telego.NewBot(cfg.Bot.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}
	return bot, nil
}

// Initialize connects the bot, chooses webhook or long polling delivery and
// registers the review chat handlers.
func Initialize(ctx context.Context, bot *telego.Bot, cfg *config.Config, ws *WebhookServer, callbacks *Callbacks) (*BotService, error) {
	botUser, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	logger.Infof("Authorized on account %s", botUser.Username)

	setCommands(ctx, bot, cfg.Review.ChatID)

	var updates <-chan telego.Update
	if cfg.Bot.Webhook.Endpoint != "" {
		secretToken := cfg.Bot.Webhook.SecretToken
		if secretToken == "" {
			secretToken = "secure_webhook_token_" + cfg.Bot.Token[len(cfg.Bot.Token)-6:]
		}
		updates, err = SetupWebhook(ctx, bot, ws, cfg.Bot.Webhook.Endpoint, cfg.Bot.Webhook.DebugPath, secretToken)
		if err != nil {
			return nil, fmt.Errorf("failed to setup webhook: %w", err)
		}
	} else {
		// a leftover webhook blocks getUpdates
		if err := bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{}); err != nil {
			return nil, fmt.Errorf("failed to delete existing webhook: %w", err)
		}
		logger.Infof("No webhook endpoint configured, using long polling")
		updates, err = bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
			AllowedUpdates: []string{"message", "callback_query"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start long polling: %w", err)
		}
	}

	bh, err := th.NewBotHandler(bot, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot handler: %w", err)
	}
	callbacks.Register(bh)

	return &BotService{Bot: bot, Handler: bh}, nil
}

// setCommands publishes the command menu in the review chat.
func setCommands(ctx context.Context, bot *telego.Bot, chatID int64) {
	commands := []telego.BotCommand{{
		Command:     "stats",
		Description: models.GetTranslation(models.LangEnglish, "cmd_desc_stats"),
	}}

	err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
		Scope:    &telego.BotCommandScopeChat{Type: telego.ScopeTypeChat, ChatID: telego.ChatID{ID: chatID}},
	})
	if err != nil {
		logger.Warningf("Failed to set bot commands: %v", err)
	}
}

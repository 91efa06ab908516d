// Package service wires storage, gateways and the appeal engines into one
// process and runs its background maintenance.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/appeal"
	"github.com/csnsor/bs-webpanel-sub000/internal/config"
	"github.com/csnsor/bs-webpanel-sub000/internal/decision"
	"github.com/csnsor/bs-webpanel-sub000/internal/discord"
	"github.com/csnsor/bs-webpanel-sub000/internal/gateway"
	"github.com/csnsor/bs-webpanel-sub000/internal/identity"
	"github.com/csnsor/bs-webpanel-sub000/internal/idempotency"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/metrics"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/msgcache"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/ratelimit"
	"github.com/csnsor/bs-webpanel-sub000/internal/roblox"
	"github.com/csnsor/bs-webpanel-sub000/internal/server"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
	"github.com/csnsor/bs-webpanel-sub000/internal/token"
	"github.com/csnsor/bs-webpanel-sub000/internal/translate"
)

// Service holds every long-lived component of the appeals process.
type Service struct {
	cfg *config.Config

	Repos     *storage.Repositories
	Claims    idempotency.Store
	memClaims *idempotency.MemoryStore
	redis     *idempotency.RedisStore

	Discord   *discord.Client
	Roblox    *roblox.Client
	Providers map[models.Platform]platform.IdentityProvider

	States    *token.StateManager
	Signer    *token.Signer
	IPLimiter *ratelimit.IPLimiter
	Cooldown  *ratelimit.Cooldown
	Cache     *msgcache.Cache
	Engine    *appeal.Engine
	Status    *appeal.StatusFeed
	Linker    *identity.Linker
	Tokens    *identity.TokenStore
	Processor *decision.Processor

	heartbeat atomic.Int64
}

// New builds the service. review is the moderators' channel; it is created
// by the caller because the bot also needs the decision processor.
func New(ctx context.Context, cfg *config.Config, review platform.ReviewChannel) (*Service, error) {
	s := &Service{cfg: cfg}

	if err := s.initStorage(); err != nil {
		return nil, err
	}
	if err := s.initClaims(ctx); err != nil {
		return nil, err
	}
	s.initGateways()

	signer, err := token.NewSigner(cfg.Session.Secret, cfg.Session.TTL, cfg.Session.FormTTL, cfg.Session.Epoch)
	if err != nil {
		return nil, err
	}
	s.Signer = signer
	s.States = token.NewStateManager(cfg.Session.StateTTL)
	s.IPLimiter = ratelimit.NewIPLimiter(cfg.Appeal.IPWindow, cfg.Appeal.IPMaxRequests, cfg.Appeal.IPTableCap)
	s.Cooldown = appeal.NewCooldown(cfg.Appeal.Cooldown, s.Repos.Sessions)

	s.Cache = msgcache.New(msgcache.Options{
		Size:             cfg.MessageCache.Size,
		TTL:              cfg.MessageCache.TTL,
		SnapshotInterval: snapshotInterval(cfg.MessageCache),
	}, s.Repos.Contexts)

	var translator translate.Translator = translate.Noop{}
	if cfg.Translate.Endpoint != "" {
		translator = translate.NewHTTPTranslator(cfg.Translate.Endpoint, cfg.Translate.APIKey, cfg.Translate.Target,
			gateway.NewClient(gateway.NoRetry, cfg.Gateway.Timeout))
	}

	bans := map[models.Platform]platform.BanGateway{models.PlatformDiscord: s.Discord}
	if s.Roblox != nil {
		bans[models.PlatformRoblox] = s.Roblox
	}

	s.Engine = appeal.NewEngine(appeal.Options{
		Window:           cfg.Appeal.Window,
		FormTTL:          cfg.Session.FormTTL,
		ReasonMax:        cfg.Appeal.ReasonMax,
		EvidenceMax:      cfg.Appeal.EvidenceMax,
		DiscordGuildID:   cfg.Discord.TargetGuildID,
		RobloxUniverseID: cfg.Roblox.UniverseID,
	}, appeal.Deps{
		Bans:       bans,
		Repos:      s.Repos,
		Claims:     s.Claims,
		Signer:     s.Signer,
		IPLimiter:  s.IPLimiter,
		Cooldown:   s.Cooldown,
		Cache:      s.Cache,
		Review:     review,
		Translator: translator,
	})
	s.Status = appeal.NewStatusFeed(s.Repos.Appeals, cfg.Status.CacheSize, cfg.Status.CacheTTL)

	providers := make([]platform.IdentityProvider, 0, len(s.Providers))
	for _, p := range s.Providers {
		providers = append(providers, p)
	}
	s.Linker = identity.NewLinker(s.Repos.Identities)
	s.Tokens = identity.NewTokenStore(s.Repos.Tokens, providers...)

	s.Processor = decision.NewProcessor(decision.Options{
		ClaimTTL:          cfg.Decision.ClaimTTL,
		AppealGuildID:     cfg.Discord.AppealGuildID,
		ReaddGuildID:      cfg.Discord.ReaddGuildID,
		DMGuildID:         cfg.Discord.DMGuildID,
		RemoveFromDMGuild: cfg.Discord.RemoveFromDMGuild,
		RemovalDelay:      cfg.Discord.RemovalDelay,
	}, decision.Deps{
		Bans:      bans,
		Guilds:    s.Discord,
		Review:    review,
		Claims:    s.Claims,
		Repos:     s.Repos,
		Tokens:    s.Tokens,
		State:     s.Engine,
		OnDecided: s.invalidateStatus,
	})

	return s, nil
}

func (s *Service) initStorage() error {
	if !s.cfg.Database.Enabled {
		logger.Info("Database support is disabled, using in-memory repositories")
		s.Repos = storage.NewMemoryRepositories()
		return nil
	}
	if err := storage.Initialize(s.cfg); err != nil {
		return err
	}
	if err := storage.Migrate(storage.GetDB()); err != nil {
		return err
	}
	s.Repos = storage.NewGormRepositories(storage.GetDB())
	logger.Info("Database connection established and repositories initialized")
	return nil
}

func (s *Service) initClaims(ctx context.Context) error {
	if s.cfg.Redis.URL == "" {
		s.memClaims = idempotency.NewMemoryStore()
		s.Claims = s.memClaims
		return nil
	}
	rs, err := idempotency.NewRedisStore(ctx, s.cfg.Redis.URL, "appeals:")
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.redis = rs
	s.Claims = rs
	return nil
}

func (s *Service) initGateways() {
	cfg := s.cfg
	api := gateway.DefaultPolicy
	api.MaxRetries = cfg.Gateway.MaxRetries
	api.MaxWait = cfg.Gateway.MaxWait
	api.OnRetry = func(time.Duration) { metrics.GatewayRetries.Inc() }

	s.Discord = discord.NewClient(discord.Config{
		APIBase:       cfg.Discord.APIBase,
		BotToken:      cfg.Discord.BotToken,
		ClientID:      cfg.Discord.ClientID,
		ClientSecret:  cfg.Discord.ClientSecret,
		RedirectURI:   cfg.Discord.RedirectURI,
		TargetGuildID: cfg.Discord.TargetGuildID,
	}, gateway.NewClient(api, cfg.Gateway.Timeout), gateway.NewClient(gateway.NoRetry, cfg.Gateway.Timeout))
	s.Providers = map[models.Platform]platform.IdentityProvider{models.PlatformDiscord: s.Discord}

	if cfg.Roblox.Enabled {
		s.Roblox = roblox.NewClient(roblox.Config{
			AuthBase:     cfg.Roblox.AuthBase,
			APIBase:      cfg.Roblox.APIBase,
			ClientID:     cfg.Roblox.ClientID,
			ClientSecret: cfg.Roblox.ClientSecret,
			RedirectURI:  cfg.Roblox.RedirectURI,
			APIKey:       cfg.Roblox.APIKey,
			UniverseID:   cfg.Roblox.UniverseID,
		}, gateway.NewClient(gateway.NoRetry, cfg.Gateway.Timeout))
		s.Providers[models.PlatformRoblox] = s.Roblox
	}
}

func snapshotInterval(mc config.MessageCacheConfig) time.Duration {
	if !mc.Snapshots {
		return 0
	}
	return mc.SnapshotInterval
}

func (s *Service) invalidateStatus(a models.Appeal) {
	switch v := a.(type) {
	case *models.DiscordAppeal:
		s.Status.Invalidate(v.UserID, "")
	case *models.RobloxAppeal:
		s.Status.Invalidate(v.DiscordUserID, v.UserID)
	}
}

// Handler builds the portal API for mounting on the public listener.
func (s *Service) Handler() http.Handler {
	return server.New(server.Options{
		TrustProxy:    s.cfg.Server.TrustProxy,
		SecureCookies: s.cfg.Server.SecureCookies,
		CookieName:    s.cfg.Session.Cookie,
		RelaySecret:   s.cfg.Relay.Secret,
		GuildID:       s.cfg.Discord.TargetGuildID,
	}, server.Deps{
		Engine:    s.Engine,
		Status:    s.Status,
		States:    s.States,
		Signer:    s.Signer,
		Linker:    s.Linker,
		Tokens:    s.Tokens,
		Providers: s.Providers,
		Cache:     s.Cache,
		Probes: server.Probes{
			Gateway:     s.Discord.Ping,
			Store:       s.Repos.Ping,
			Idempotency: s.Claims.Ping,
			Heartbeat:   s.Heartbeat,
			StaleAfter:  3 * maintenanceInterval,
		},
	}).Handler()
}

// Close releases external connections.
func (s *Service) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warningf("Error closing redis: %v", err)
		}
	}
	if db := storage.GetDB(); db != nil && s.Repos.Durable {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// global configuration structure
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Bot          BotConfig          `mapstructure:"bot"`
	Review       ReviewConfig       `mapstructure:"review"`
	Discord      DiscordConfig      `mapstructure:"discord"`
	Roblox       RobloxConfig       `mapstructure:"roblox"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Session      SessionConfig      `mapstructure:"session"`
	Appeal       AppealConfig       `mapstructure:"appeal"`
	MessageCache MessageCacheConfig `mapstructure:"message_cache"`
	Decision     DecisionConfig     `mapstructure:"decision"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Translate    TranslateConfig    `mapstructure:"translate"`
	Status       StatusConfig       `mapstructure:"status"`
	Relay        RelayConfig        `mapstructure:"relay"`
}

// public HTTP listener; the telegram webhook shares it
type ServerConfig struct {
	ListenPort    string `mapstructure:"listen_port"`
	CertFile      string `mapstructure:"cert_file"`
	KeyFile       string `mapstructure:"key_file"`
	TrustProxy    bool   `mapstructure:"trust_proxy"`
	SecureCookies bool   `mapstructure:"secure_cookies"`
}

// Telegram bot configuration
type BotConfig struct {
	Token   string        `mapstructure:"token"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// webhook configuration; an empty endpoint switches to long polling
type WebhookConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	SecretToken string `mapstructure:"secret_token"`
	DebugPath   string `mapstructure:"debug_path"`
}

// moderator review chat
type ReviewConfig struct {
	ChatID       int64   `mapstructure:"chat_id"`
	LogChatID    int64   `mapstructure:"log_chat_id"`
	ModeratorIDs []int64 `mapstructure:"moderator_ids"`
}

type DiscordConfig struct {
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	BotToken          string        `mapstructure:"bot_token"`
	RedirectURI       string        `mapstructure:"redirect_uri"`
	APIBase           string        `mapstructure:"api_base"`
	TargetGuildID     string        `mapstructure:"target_guild_id"`
	AppealGuildID     string        `mapstructure:"appeal_guild_id"`
	ReaddGuildID      string        `mapstructure:"readd_guild_id"`
	DMGuildID         string        `mapstructure:"dm_guild_id"`
	RemoveFromDMGuild bool          `mapstructure:"remove_from_dm_guild_after_dm"`
	RemovalDelay      time.Duration `mapstructure:"removal_delay"`
}

type RobloxConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	APIKey       string `mapstructure:"api_key"`
	UniverseID   string `mapstructure:"universe_id"`
	AuthBase     string `mapstructure:"auth_base"`
	APIBase      string `mapstructure:"api_base"`
}

// logging configuration
type LoggerConfig struct {
	Directory string            `mapstructure:"directory"`
	Rotation  LogRotationConfig `mapstructure:"rotation"`
	Level     string            `mapstructure:"level"`
}

// log rotation settings
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Charset  string `mapstructure:"charset"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SessionConfig struct {
	Secret   string        `mapstructure:"secret"`
	TTL      time.Duration `mapstructure:"ttl"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
	FormTTL  time.Duration `mapstructure:"form_ttl"`
	Epoch    int64         `mapstructure:"epoch"`
	Cookie   string        `mapstructure:"cookie"`
}

type AppealConfig struct {
	Window        time.Duration `mapstructure:"window"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	IPWindow      time.Duration `mapstructure:"ip_window"`
	IPMaxRequests int           `mapstructure:"ip_max_requests"`
	IPTableCap    int           `mapstructure:"ip_table_cap"`
	ReasonMax     int           `mapstructure:"reason_max"`
	EvidenceMax   int           `mapstructure:"evidence_max"`
}

type MessageCacheConfig struct {
	Size             int           `mapstructure:"size"`
	TTL              time.Duration `mapstructure:"ttl"`
	Snapshots        bool          `mapstructure:"snapshots"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type DecisionConfig struct {
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

type GatewayConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	MaxWait    time.Duration `mapstructure:"max_wait"`
}

type TranslateConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Target   string `mapstructure:"target"`
}

type StatusConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

// signed relay of discord gateway events
type RelayConfig struct {
	Secret string `mapstructure:"secret"`
}

var cfg *Config

// Load reads the YAML file at configPath. Environment variables prefixed
// with APPEALS_ override file values (APPEALS_DISCORD_BOT_TOKEN etc).
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("APPEALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	log.Printf("Using config file: %s", v.ConfigFileUsed())

	loaded, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg = loaded
	return cfg, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	c, err := decode(v)
	if err != nil {
		panic(err)
	}
	return c
}

func decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects settings that would break invariants at runtime.
func (c *Config) Validate() error {
	if c.Appeal.IPMaxRequests <= 0 {
		return fmt.Errorf("appeal.ip_max_requests must be positive")
	}
	if c.MessageCache.Size <= 0 {
		return fmt.Errorf("message_cache.size must be positive")
	}
	if c.Gateway.MaxRetries < 0 || c.Gateway.MaxRetries > 1 {
		return fmt.Errorf("gateway.max_retries must be 0 or 1")
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

func Get() *Config {
	if cfg == nil {
		log.Fatal("Configuration not initialized, call Load() first")
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_port", "8443")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.secure_cookies", true)

	v.SetDefault("bot.webhook.debug_path", "/debug")

	v.SetDefault("discord.api_base", "https://discord.com/api/v10")
	v.SetDefault("discord.remove_from_dm_guild_after_dm", true)
	v.SetDefault("discord.removal_delay", 10*time.Minute)

	v.SetDefault("roblox.enabled", false)
	v.SetDefault("roblox.auth_base", "https://apis.roblox.com/oauth")
	v.SetDefault("roblox.api_base", "https://apis.roblox.com")

	v.SetDefault("logger.directory", "logs")
	v.SetDefault("logger.rotation.max_size", 10)
	v.SetDefault("logger.rotation.max_backups", 30)
	v.SetDefault("logger.rotation.max_age", 90)
	v.SetDefault("logger.rotation.compress", true)
	v.SetDefault("logger.level", "INFO")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.sslmode", "require")

	v.SetDefault("session.ttl", 7*24*time.Hour)
	v.SetDefault("session.state_ttl", 15*time.Minute)
	v.SetDefault("session.form_ttl", 15*time.Minute)
	v.SetDefault("session.epoch", 1)
	v.SetDefault("session.cookie", "bs_session")

	v.SetDefault("appeal.window", 7*24*time.Hour)
	v.SetDefault("appeal.cooldown", 300*time.Second)
	v.SetDefault("appeal.ip_window", 60*time.Second)
	v.SetDefault("appeal.ip_max_requests", 8)
	v.SetDefault("appeal.ip_table_cap", 10000)
	v.SetDefault("appeal.reason_max", 2000)
	v.SetDefault("appeal.evidence_max", 1500)

	v.SetDefault("message_cache.size", 15)
	v.SetDefault("message_cache.ttl", time.Hour)
	v.SetDefault("message_cache.snapshots", false)
	v.SetDefault("message_cache.snapshot_interval", time.Minute)

	v.SetDefault("decision.claim_ttl", time.Hour)

	v.SetDefault("gateway.timeout", 8*time.Second)
	v.SetDefault("gateway.max_retries", 1)
	v.SetDefault("gateway.max_wait", 5*time.Second)

	v.SetDefault("translate.target", "en")

	v.SetDefault("status.cache_ttl", 5*time.Second)
	v.SetDefault("status.cache_size", 4096)
}

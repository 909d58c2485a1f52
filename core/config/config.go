package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// DropPendingUpdates discards updates queued while the bot was offline.
	DropPendingUpdates bool `yaml:"drop_pending_updates" envconfig:"TELEGRAM_DROP_PENDING_UPDATES"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// HTTPConfig configures the storefront API server.
type HTTPConfig struct {
	Listen         string   `yaml:"listen" envconfig:"HTTP_LISTEN"`
	Port           int      `yaml:"port" envconfig:"PORT"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	// StaticDir is served at "/" when set.
	StaticDir       string `yaml:"static_dir" envconfig:"HTTP_STATIC_DIR"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds" envconfig:"HTTP_SHUTDOWN_TIMEOUT_SECONDS"`
}

// ShopConfig carries storefront presentation settings used in bot messages.
type ShopConfig struct {
	Name     string `yaml:"name" envconfig:"SHOP_NAME"`
	URL      string `yaml:"url" envconfig:"SHOP_URL"`
	Currency string `yaml:"currency" envconfig:"SHOP_CURRENCY"`
	// About is an optional line shown in the /start greeting.
	About string `yaml:"about" envconfig:"SHOP_ABOUT"`
}

// AuthConfig controls the chat login handshake.
type AuthConfig struct {
	// SessionTTL bounds the lifetime of a login code; 0 -> default
	SessionTTL time.Duration `yaml:"session_ttl" envconfig:"AUTH_SESSION_TTL"`
	// SweepInterval controls how often expired sessions are purged from memory.
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"AUTH_SWEEP_INTERVAL"`
}

// SessionsConfig selects the session store backend.
type SessionsConfig struct {
	Backend       string `yaml:"backend" envconfig:"SESSIONS_BACKEND"`
	RedisAddr     string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
}

// DatabaseConfig holds Postgres settings for the optional order audit log.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"DB_ENABLED"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	// MigrationsDir defaults to ./migrations relative to the working directory.
	MigrationsDir string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// BackendMemory keeps login sessions in process memory.
	BackendMemory = "memory"
	// BackendRedis keeps login sessions in Redis.
	BackendRedis = "redis"
)

const (
	defaultHTTPPort        = 3000
	defaultShutdownTimeout = 10
	defaultCurrency        = "₽"
	defaultShopName        = "Shop"
	defaultSessionTTL      = 10 * time.Minute
	defaultSweepInterval   = time.Minute
	defaultRedisPrefix     = "login:"
)

// Config aggregates the application configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	HTTP     HTTPConfig     `yaml:"http"`
	Shop     ShopConfig     `yaml:"shop"`
	// Admins lists order notification recipients: chat IDs or @channel usernames.
	Admins   []string       `yaml:"admins" envconfig:"ADMIN_ID"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
// A missing file is tolerated so deployments can rely on the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultHTTPPort
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be within 1..65535")
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.HTTP.AllowedOrigins = cleanList(cfg.HTTP.AllowedOrigins)
	for _, origin := range cfg.HTTP.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid http.allowed_origins value %q", origin)
		}
	}

	cfg.Admins = cleanList(cfg.Admins)

	if strings.TrimSpace(cfg.Shop.Name) == "" {
		cfg.Shop.Name = defaultShopName
	}
	if strings.TrimSpace(cfg.Shop.Currency) == "" {
		cfg.Shop.Currency = defaultCurrency
	}

	if cfg.Auth.SessionTTL < 0 {
		return fmt.Errorf("auth.session_ttl must be >= 0")
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = defaultSessionTTL
	}
	if cfg.Auth.SweepInterval <= 0 {
		cfg.Auth.SweepInterval = defaultSweepInterval
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Sessions.Backend))
	if backend == "" {
		backend = BackendMemory
	}
	switch backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(cfg.Sessions.RedisAddr) == "" {
			return fmt.Errorf("sessions.redis_addr is required when sessions.backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid sessions.backend %q; allowed: memory, redis", cfg.Sessions.Backend)
	}
	cfg.Sessions.Backend = backend
	if cfg.Sessions.RedisPrefix == "" {
		cfg.Sessions.RedisPrefix = defaultRedisPrefix
	}

	if cfg.Database.Enabled {
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required when database.enabled is true")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
	}
	return nil
}

// HTTPAddr returns the listen address of the API server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Listen, c.HTTP.Port)
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

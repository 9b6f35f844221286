// Package config loads service settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the full runtime configuration.
type Config struct {
	AppEnv           string `env:"APP_ENV,default=development"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
	LogFormat        string `env:"LOG_FORMAT,default=text"`
	MetricsNamespace string `env:"METRICS_NAMESPACE,default=support_gateway"`

	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR,default=:8080"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL"`
	PublicBasePath string `env:"PUBLIC_BASE_PATH"`
	SiteURL        string `env:"SITE_URL"`

	DatabaseDriver string `env:"DATABASE_DRIVER,default=postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DatabaseSchema string `env:"DATABASE_SCHEMA,default=public"`
	SQLitePath     string `env:"SQLITE_PATH,default=data/inbox.db"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	RedisTLS      bool          `env:"REDIS_TLS,default=false"`
	RedisPrefix   string        `env:"REDIS_PREFIX,default=support"`
	RedisTimeout  time.Duration `env:"REDIS_TIMEOUT,default=2s"`

	TelegramToken           string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIBase         string        `env:"TELEGRAM_API_BASE,default=https://api.telegram.org"`
	TelegramWebhookSecret   string        `env:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramWebhookPath     string        `env:"TELEGRAM_WEBHOOK_PATH,default=/telegram/webhook"`
	TelegramOperatorChatIDs []int64       `env:"TELEGRAM_OPERATOR_CHAT_IDS"`
	TelegramTimeout         time.Duration `env:"TELEGRAM_TIMEOUT,default=5s"`
	TelegramAckTimeout      time.Duration `env:"TELEGRAM_ACK_TIMEOUT,default=3s"`
	ForwardTimeout          time.Duration `env:"FORWARD_TIMEOUT,default=10s"`
	UpdateDedupeTTL         time.Duration `env:"UPDATE_DEDUPE_TTL,default=24h"`

	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT,default=587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM"`
	SMTPFromName string        `env:"SMTP_FROM_NAME"`
	SMTPSSL      bool          `env:"SMTP_SSL,default=false"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT,default=10s"`

	AdminAPIToken string `env:"ADMIN_API_TOKEN"`

	ContactRateLimit  int           `env:"CONTACT_RATE_LIMIT,default=10"`
	ContactRateWindow time.Duration `env:"CONTACT_RATE_WINDOW,default=1m"`
	// ContactTrustedProxies lists CIDRs allowed to set X-Forwarded-For besides private networks.
	ContactTrustedProxies []string `env:"CONTACT_TRUSTED_PROXIES"`

	InboxLogCommands bool   `env:"INBOX_LOG_COMMANDS,default=true"`
	DefaultLanguage  string `env:"DEFAULT_LANGUAGE,default=uk"`
}

// Load reads the process environment. Callers that open the store run Validate.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &cfg, l); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if !strings.HasPrefix(c.TelegramWebhookPath, "/") {
		errs = append(errs, errors.New("TELEGRAM_WEBHOOK_PATH must start with /"))
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}
	return errors.Join(errs...)
}

// RequireTelegram reports a missing bot token for commands that talk to the platform.
func (c *Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// WebhookURL is the public URL the platform should call, or "" without PUBLIC_BASE_URL.
func (c *Config) WebhookURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + strings.TrimRight(c.PublicBasePath, "/") + c.TelegramWebhookPath
}

package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"support-gateway/internal/cache"
	"support-gateway/internal/config"
	"support-gateway/internal/dispatch"
	"support-gateway/internal/gateway"
	"support-gateway/internal/logging"
	"support-gateway/internal/mailer"
	"support-gateway/internal/menu"
	"support-gateway/internal/metrics"
	"support-gateway/internal/notify"
	"support-gateway/internal/repo"
	"support-gateway/internal/telegram"
	"support-gateway/migrations"
)

// app holds the wired collaborators shared by serve and poll.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	repo       repo.Repository
	redis      *cache.Redis
	telegram   *telegram.Client
	processor  *gateway.Processor
	notifier   *notify.Notifier
	dispatcher *dispatch.Dispatcher
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		repository repo.Repository
		files      fs.FS
	)
	switch cfg.DatabaseDriver {
	case "sqlite":
		r, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		repository, files = r, migrations.SQLite()
	default:
		r, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		repository, files = r, migrations.Postgres()
	}

	if err := repository.RunMigrations(ctx, files); err != nil {
		repository.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)
	return repository, nil
}

func newTelegram(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *telegram.Client {
	return telegram.New(telegram.Config{
		Token:   cfg.TelegramToken,
		BaseURL: cfg.TelegramAPIBase,
		Timeout: cfg.TelegramTimeout,
	}, logger, m)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.RequireTelegram(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Registry(cfg.MetricsNamespace),
	}

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.repo = repository

	if cfg.RedisAddr != "" {
		a.redis = cache.New(cache.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			UseTLS:    cfg.RedisTLS,
			KeyPrefix: cfg.RedisPrefix,
			Timeout:   cfg.RedisTimeout,
		}, logger)
		if err := a.redis.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	} else {
		logger.Warn("REDIS_ADDR not set; update de-duplication and contact rate limiting disabled")
	}

	fallback, ok := menu.ParseLang(cfg.DefaultLanguage)
	if !ok {
		a.Close()
		return nil, fmt.Errorf("unsupported DEFAULT_LANGUAGE %q", cfg.DefaultLanguage)
	}
	catalog, err := menu.LoadCatalog(fallback)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load locales: %w", err)
	}

	a.telegram = newTelegram(cfg, logger, a.metrics)
	a.notifier = notify.New(a.telegram, catalog, cfg.TelegramOperatorChatIDs, logger)
	if len(cfg.TelegramOperatorChatIDs) == 0 {
		logger.Warn("TELEGRAM_OPERATOR_CHAT_IDS not set; operator forwarding disabled")
	}

	smtp := mailer.New(mailer.Config{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.SMTPFrom,
		FromName:    cfg.SMTPFromName,
		ImplicitTLS: cfg.SMTPSSL,
		Timeout:     cfg.SMTPTimeout,
	}, logger)
	if !smtp.Enabled() {
		logger.Warn("SMTP_HOST not set; e-mail replies will fail")
	}
	a.dispatcher = dispatch.New(catalog, a.repo, a.telegram, smtp, cfg.SMTPTimeout, logger, a.metrics)

	deps := gateway.Deps{
		Menu:      menu.New(catalog, cfg.SiteURL),
		Store:     a.repo,
		Prefs:     a.repo,
		Messenger: a.telegram,
		Forwarder: a.notifier,
	}
	if a.redis != nil {
		deps.Dedupe = a.redis
	}
	a.processor = gateway.NewProcessor(gateway.Config{
		LogCommands:    cfg.InboxLogCommands,
		DedupeTTL:      cfg.UpdateDedupeTTL,
		AckTimeout:     cfg.TelegramAckTimeout,
		ForwardTimeout: cfg.ForwardTimeout,
	}, deps, logger, a.metrics)

	return a, nil
}

// Close waits for background forwarding and releases connections.
func (a *app) Close() {
	if a.processor != nil {
		a.processor.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed closing redis", "error", err)
		}
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

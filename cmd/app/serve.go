package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"support-gateway/internal/admin"
	"support-gateway/internal/contact"
	"support-gateway/internal/gateway"
	"support-gateway/internal/httpserver"
)

const adminPrefix = "/api/admin"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Telegram webhook, admin inbox API and contact form",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting support gateway", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if url := cfg.WebhookURL(); url != "" {
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", url)
	}
	if cfg.TelegramWebhookSecret == "" {
		logger.Warn("TELEGRAM_WEBHOOK_SECRET not set; webhook requests are not authenticated")
	}
	if cfg.AdminAPIToken == "" {
		logger.Warn("ADMIN_API_TOKEN not set; admin API rejects every request")
	}

	handlers := httpserver.Handlers{
		TelegramWebhook: gateway.NewWebhookHandler(logger, a.metrics, cfg.TelegramWebhookSecret, a.processor),
		WebhookPath:     cfg.TelegramWebhookPath,
		Admin:           admin.New(admin.Config{Prefix: adminPrefix, Token: cfg.AdminAPIToken}, a.repo, a.dispatcher, logger, a.metrics),
		AdminPrefix:     adminPrefix,
	}
	var limiter contact.Limiter
	if a.redis != nil {
		limiter = a.redis
	}
	proxies, err := contact.ParseCIDRs(cfg.ContactTrustedProxies)
	if err != nil {
		return fmt.Errorf("CONTACT_TRUSTED_PROXIES: %w", err)
	}
	handlers.Contact = contact.NewHandler(contact.Config{
		RateLimit:      cfg.ContactRateLimit,
		RateWindow:     cfg.ContactRateWindow,
		ForwardTimeout: cfg.ForwardTimeout,
		TrustedProxies: proxies,
	}, a.repo, limiter, a.notifier, logger, a.metrics)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, a.metrics, handlers, cfg.PublicBasePath)
	deps := httpserver.Dependencies{Repository: a.repo}
	if a.redis != nil {
		deps.Redis = a.redis
	}
	httpSrv.SetDependencies(deps)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	return nil
}

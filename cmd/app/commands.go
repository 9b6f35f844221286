package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"support-gateway/internal/gateway"
	"support-gateway/internal/metrics"
	"support-gateway/internal/telegram"
)

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Process updates by long polling instead of the webhook (local development)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.telegram.DeleteWebhook(ctx, false); err != nil {
				return fmt.Errorf("delete webhook: %w", err)
			}
			bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.TelegramToken, a.telegram.APIEndpoint())
			if err != nil {
				return fmt.Errorf("init bot api: %w", err)
			}
			return gateway.Poll(ctx, bot, a.processor, logger)
		},
	}
}

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}

	var (
		url            string
		dropPending    bool
		maxConnections int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Register the webhook URL with Telegram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfgURL, secret, err := webhookClient()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfgURL
			}
			if url == "" {
				return errors.New("webhook url required: pass --url or set PUBLIC_BASE_URL")
			}
			err = client.SetWebhook(cmd.Context(), telegram.WebhookConfig{
				URL:                url,
				SecretToken:        secret,
				AllowedUpdates:     gateway.AllowedUpdates,
				DropPendingUpdates: dropPending,
				MaxConnections:     maxConnections,
			})
			if err != nil {
				return fmt.Errorf("set webhook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", url)
			return nil
		},
	}
	set.Flags().StringVar(&url, "url", "", "public webhook URL (default: PUBLIC_BASE_URL + base path + TELEGRAM_WEBHOOK_PATH)")
	set.Flags().BoolVar(&dropPending, "drop-pending", false, "drop updates queued while no webhook was set")
	set.Flags().IntVar(&maxConnections, "max-connections", 0, "maximum simultaneous webhook connections (0 keeps Telegram's default)")

	var dropOnDelete bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, _, err := webhookClient()
			if err != nil {
				return err
			}
			if err := client.DeleteWebhook(cmd.Context(), dropOnDelete); err != nil {
				return fmt.Errorf("delete webhook: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
	del.Flags().BoolVar(&dropOnDelete, "drop-pending", false, "drop pending updates")

	info := &cobra.Command{
		Use:   "info",
		Short: "Print the current webhook status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, _, err := webhookClient()
			if err != nil {
				return err
			}
			wi, err := client.GetWebhookInfo(cmd.Context())
			if err != nil {
				return fmt.Errorf("get webhook info: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(wi)
		},
	}

	cmd.AddCommand(set, del, info)
	return cmd
}

func webhookClient() (*telegram.Client, string, string, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, "", "", err
	}
	if err := cfg.RequireTelegram(); err != nil {
		return nil, "", "", err
	}
	client := newTelegram(cfg, logger, metrics.Registry(cfg.MetricsNamespace))
	return client, cfg.WebhookURL(), cfg.TelegramWebhookSecret, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repository, err := openRepository(ctx, cfg, logger)
			if err != nil {
				return err
			}
			repository.Close()
			return nil
		},
	}
}

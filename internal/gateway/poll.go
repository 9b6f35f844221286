package gateway

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Poll feeds long-polled updates to the processor until ctx is cancelled.
// The webhook must be deleted first; Telegram refuses getUpdates while one is set.
func Poll(ctx context.Context, bot *tgbotapi.BotAPI, processor UpdateProcessor, logger *slog.Logger) error {
	logger = logger.With("component", "telegram_poll")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = AllowedUpdates
	updates := bot.GetUpdatesChan(u)

	logger.Info("telegram polling started", "bot", bot.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			logger.Info("telegram polling stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := processor.HandleUpdate(ctx, update); err != nil {
				logger.Error("failed processing polled update", "error", err, "update_id", update.UpdateID)
			}
		}
	}
}

// AllowedUpdates are the update types the gateway subscribes to.
var AllowedUpdates = []string{"message", "callback_query"}

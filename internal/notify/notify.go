// Package notify forwards new inbox messages to operator chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"

	"support-gateway/internal/inbox"
	"support-gateway/internal/menu"
	"support-gateway/internal/telegram"
)

const maxBodyRunes = 3000

// Sender is the subset of the Telegram client used for notifications.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) telegram.Outcome
}

// Notifier fans a message out to every operator chat.
type Notifier struct {
	logger  *slog.Logger
	sender  Sender
	catalog *menu.Catalog
	chats   []int64
}

// New builds a Notifier. With no chats Forward is a no-op.
func New(sender Sender, catalog *menu.Catalog, chats []int64, logger *slog.Logger) *Notifier {
	return &Notifier{
		logger:  logger.With("component", "notify"),
		sender:  sender,
		catalog: catalog,
		chats:   chats,
	}
}

// Forward sends the operator summary of msg to every configured chat and
// returns the joined errors of the chats that failed.
func (n *Notifier) Forward(ctx context.Context, msg inbox.Message) error {
	if len(n.chats) == 0 {
		return nil
	}
	text := n.Summary(msg)
	var errs []error
	for _, chatID := range n.chats {
		out := n.sender.SendMessage(ctx, chatID, text, telegram.SendOptions{
			ParseMode:      telegram.ParseModeHTML,
			DisablePreview: true,
		})
		if !out.OK() {
			errs = append(errs, fmt.Errorf("operator chat %d: %w", chatID, out.Err))
		}
	}
	if len(errs) == 0 {
		n.logger.Debug("message forwarded to operators", "message_id", msg.ID, "chats", len(n.chats))
	}
	return errors.Join(errs...)
}

// Summary renders the HTML operator card for msg in the fallback language.
func (n *Notifier) Summary(msg inbox.Message) string {
	lang := n.catalog.Fallback()
	t := func(key string, args ...any) string { return n.catalog.Text(lang, key, args...) }

	lines := []string{
		t("operator.title"),
		"",
		t("operator.category", html.EscapeString(n.catalog.Text(lang, "category."+string(msg.Category)))),
		t("operator.name", html.EscapeString(msg.SenderName)),
	}
	if msg.SenderEmail != "" && !inbox.IsPlaceholderEmail(msg.SenderEmail) {
		lines = append(lines, t("operator.email", html.EscapeString(msg.SenderEmail)))
	}
	if msg.SenderPhone != "" {
		lines = append(lines, t("operator.phone", html.EscapeString(msg.SenderPhone)))
	}
	if msg.Handle != "" {
		lines = append(lines, t("operator.handle", html.EscapeString(msg.Handle)))
	}

	keys := make([]string, 0, len(msg.Metadata))
	for k := range msg.Metadata {
		if k == "language" || k == "client_language" || msg.Metadata[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", html.EscapeString(k), html.EscapeString(msg.Metadata[k])))
	}

	lines = append(lines, "", t("operator.message"), html.EscapeString(truncate(msg.Body, maxBodyRunes)))
	lines = append(lines, "", "<code>"+t("operator.id", html.EscapeString(msg.ID))+"</code>")
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

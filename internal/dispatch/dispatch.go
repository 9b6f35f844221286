// Package dispatch delivers operator replies back to the original sender.
package dispatch

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	"support-gateway/internal/inbox"
	"support-gateway/internal/menu"
	"support-gateway/internal/metrics"
	"support-gateway/internal/repo"
	"support-gateway/internal/telegram"
)

const excerptRunes = 100

// ErrNoRecipient is reported when a message has neither a chat user nor a routable e-mail.
var ErrNoRecipient = errors.New("message has no reachable recipient")

// Sender is the Telegram half of the dispatcher.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) telegram.Outcome
}

// Mailer is the e-mail half of the dispatcher.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Outcome describes one delivery attempt.
type Outcome struct {
	OK        bool   `json:"ok"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher picks the channel recorded on a message and delivers a reply through it.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	catalog *menu.Catalog
	prefs   repo.Preferences
	sender  Sender
	mailer  Mailer
	timeout time.Duration
}

// New wires a Dispatcher. Prefs may be nil, in which case replies use the fallback language.
func New(catalog *menu.Catalog, prefs repo.Preferences, sender Sender, mailer Mailer, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		logger:  logger.With("component", "dispatch"),
		metrics: m,
		catalog: catalog,
		prefs:   prefs,
		sender:  sender,
		mailer:  mailer,
		timeout: timeout,
	}
}

// Send delivers text to the sender of msg. A chat user id wins over e-mail;
// the other channel is never tried on failure. recipientEmail overrides the
// stored address for e-mail delivery.
func (d *Dispatcher) Send(ctx context.Context, msg inbox.Message, text, recipientEmail string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var out Outcome
	switch {
	case msg.ChatUserID != 0:
		out = d.sendTelegram(ctx, msg, text)
	default:
		out = d.sendEmail(ctx, msg, text, recipientEmail)
	}

	result := "ok"
	if !out.OK {
		result = "error"
		d.logger.Warn("reply delivery failed", "message_id", msg.ID, "channel", out.Channel, "error", out.Error)
	}
	if d.metrics != nil {
		d.metrics.ReplyDispatch.WithLabelValues(out.Channel, result).Inc()
	}
	return out
}

func (d *Dispatcher) sendTelegram(ctx context.Context, msg inbox.Message, text string) Outcome {
	lang := d.language(ctx, msg.ChatUserID)
	body := d.catalog.Text(lang, "reply.text",
		html.EscapeString(Excerpt(msg.Body, excerptRunes)),
		html.EscapeString(text),
	)
	chatID := msg.ChatID
	if chatID == 0 {
		chatID = msg.ChatUserID
	}
	res := d.sender.SendMessage(ctx, chatID, body, telegram.SendOptions{ParseMode: telegram.ParseModeHTML})
	out := Outcome{OK: res.OK(), Channel: string(inbox.ChannelTelegram), Recipient: telegramRecipient(msg)}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func (d *Dispatcher) sendEmail(ctx context.Context, msg inbox.Message, text, override string) Outcome {
	out := Outcome{Channel: "email"}
	to := strings.TrimSpace(override)
	if to == "" || inbox.IsPlaceholderEmail(to) {
		to = msg.SenderEmail
	}
	if to == "" || inbox.IsPlaceholderEmail(to) {
		out.Error = ErrNoRecipient.Error()
		return out
	}
	out.Recipient = to
	if d.mailer == nil {
		out.Error = "e-mail delivery is not configured"
		return out
	}

	lang := d.catalog.Fallback()
	if l, ok := menu.ParseLang(msg.Metadata["language"]); ok {
		lang = l
	}
	name := msg.SenderName
	if name == "" {
		name = to
	}
	body := d.catalog.Text(lang, "reply.email", name, text, msg.Body)
	if err := d.mailer.Send(ctx, to, d.catalog.Text(lang, "reply.subject"), body); err != nil {
		out.Error = err.Error()
		return out
	}
	out.OK = true
	return out
}

func (d *Dispatcher) language(ctx context.Context, userID int64) menu.Lang {
	fallback := d.catalog.Fallback()
	if d.prefs == nil {
		return fallback
	}
	raw, ok, err := d.prefs.GetLanguage(ctx, userID)
	if err != nil || !ok {
		return fallback
	}
	if lang, valid := menu.ParseLang(raw); valid {
		return lang
	}
	return fallback
}

func telegramRecipient(msg inbox.Message) string {
	if msg.Handle != "" {
		return "@" + msg.Handle
	}
	return msg.SenderName
}

// Excerpt cuts s to at most n runes, adding an ellipsis when it was longer.
func Excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

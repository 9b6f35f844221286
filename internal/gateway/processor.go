// Package gateway ingests Telegram updates: it acknowledges button presses,
// records inbound text in the support inbox and answers with menu screens.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"support-gateway/internal/inbox"
	"support-gateway/internal/menu"
	"support-gateway/internal/metrics"
	"support-gateway/internal/repo"
	"support-gateway/internal/telegram"
)

// Messenger is the outbound half of the Telegram client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) telegram.Outcome
	AnswerCallback(ctx context.Context, callbackID, text string) telegram.Outcome
}

// Deduper claims update ids so platform redeliveries are processed once.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Forwarder passes an actionable inbox message on to human operators.
type Forwarder interface {
	Forward(ctx context.Context, msg inbox.Message) error
}

// Config tunes the processor.
type Config struct {
	// LogCommands persists recognized menu commands as well as free text.
	LogCommands    bool
	DedupeTTL      time.Duration
	AckTimeout     time.Duration
	ForwardTimeout time.Duration
}

// Processor implements UpdateProcessor.
type Processor struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
	menu      *menu.Machine
	store     inbox.Store
	prefs     repo.Preferences
	messenger Messenger
	dedupe    Deduper
	forwarder Forwarder

	background sync.WaitGroup
}

// Deps groups the collaborators of a Processor. Dedupe and Forwarder are optional.
type Deps struct {
	Menu      *menu.Machine
	Store     inbox.Store
	Prefs     repo.Preferences
	Messenger Messenger
	Dedupe    Deduper
	Forwarder Forwarder
}

var errPersist = errors.New("persist inbound message")

// NewProcessor wires a Processor.
func NewProcessor(cfg Config, deps Deps, logger *slog.Logger, m *metrics.Metrics) *Processor {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 3 * time.Second
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = 10 * time.Second
	}
	return &Processor{
		logger:    logger.With("component", "gateway"),
		metrics:   m,
		cfg:       cfg,
		menu:      deps.Menu,
		store:     deps.Store,
		prefs:     deps.Prefs,
		messenger: deps.Messenger,
		dedupe:    deps.Dedupe,
		forwarder: deps.Forwarder,
	}
}

// Wait blocks until background forwarding started by earlier updates has finished.
func (p *Processor) Wait() {
	p.background.Wait()
}

// HandleUpdate processes one update. Only a failure to record an inbound
// message is returned; outbound platform errors are logged and dropped.
func (p *Processor) HandleUpdate(ctx context.Context, update tgbotapi.Update) (err error) {
	kind := updateKind(update)
	if p.metrics != nil {
		p.metrics.UpdatesReceived.WithLabelValues(kind).Inc()
	}

	// Acknowledge before any other call. Answering a redelivered callback twice is harmless.
	if update.CallbackQuery != nil {
		p.answer(ctx, update.CallbackQuery)
	}

	claimKey := ""
	if p.dedupe != nil && update.UpdateID > 0 {
		key := "tg:update:" + strconv.Itoa(update.UpdateID)
		claimCtx, cancel := context.WithTimeout(ctx, p.cfg.AckTimeout)
		fresh, claimErr := p.dedupe.Claim(claimCtx, key, p.cfg.DedupeTTL)
		cancel()
		switch {
		case claimErr != nil:
			p.logger.Warn("update dedupe unavailable, processing anyway", "error", claimErr, "update_id", update.UpdateID)
		case !fresh:
			p.logger.Info("duplicate update dropped", "update_id", update.UpdateID)
			if p.metrics != nil {
				p.metrics.UpdatesDuplicate.Inc()
			}
			return nil
		default:
			claimKey = key
		}
	}

	chatID := chatOf(update)
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("panic while handling update", "panic", rec, "update_id", update.UpdateID)
			p.metrics.Error("gateway_panic")
			if chatID != 0 {
				p.sendScreen(ctx, chatID, p.menu.Render(menu.ScreenError, p.menu.Catalog().Fallback()))
			}
			err = fmt.Errorf("panic handling update %d: %v", update.UpdateID, rec)
		}
		if err != nil && errors.Is(err, errPersist) && claimKey != "" {
			if relErr := p.dedupe.Release(context.WithoutCancel(ctx), claimKey); relErr != nil {
				p.logger.Warn("release update claim failed", "error", relErr, "update_id", update.UpdateID)
			}
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		p.handleCallback(ctx, update.CallbackQuery)
		return nil
	case update.Message != nil:
		return p.handleMessage(ctx, update.UpdateID, update.Message)
	default:
		p.logger.Debug("ignoring update", "update_id", update.UpdateID, "type", kind)
		return nil
	}
}

func (p *Processor) answer(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	ackCtx, cancel := context.WithTimeout(ctx, p.cfg.AckTimeout)
	defer cancel()
	p.logOutcome(p.messenger.AnswerCallback(ackCtx, cq.ID, ""))
}

func (p *Processor) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	chatID := cq.From.ID
	if cq.Message != nil && cq.Message.Chat != nil {
		chatID = cq.Message.Chat.ID
	}

	lang, _ := p.language(ctx, cq.From.ID)
	res := p.menu.HandleToken(cq.Data, lang)
	if res.SetLanguage != "" {
		if err := p.prefs.SetLanguage(ctx, cq.From.ID, string(res.SetLanguage)); err != nil {
			p.logger.Error("store language preference failed", "error", err, "user_id", cq.From.ID)
			p.metrics.Error("gateway_preferences")
		}
	}
	p.sendScreen(ctx, chatID, res.Screen)
}

func (p *Processor) handleMessage(ctx context.Context, updateID int, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID
	lang, hasPref := p.language(ctx, msg.From.ID)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		p.sendScreen(ctx, chatID, p.menu.Render(menu.ScreenUnknown, lang))
		return nil
	}

	directive := menu.IsDirective(text)
	var stored *inbox.Message
	if !directive || p.cfg.LogCommands {
		rec, err := p.record(ctx, updateID, msg, text, directive, lang)
		if err != nil {
			p.sendScreen(ctx, chatID, p.menu.Render(menu.ScreenError, lang))
			return err
		}
		stored = rec
	}

	switch {
	case directive:
		screen, _ := p.menu.HandleCommand(text, lang, hasPref)
		p.sendScreen(ctx, chatID, screen)
	case strings.HasPrefix(text, "/"):
		p.sendScreen(ctx, chatID, p.menu.Render(menu.ScreenUnknown, lang))
	default:
		p.forward(stored)
		p.sendScreen(ctx, chatID, p.menu.Render(menu.ScreenAck, lang))
	}
	return nil
}

func (p *Processor) record(ctx context.Context, updateID int, msg *tgbotapi.Message, text string, directive bool, lang menu.Lang) (*inbox.Message, error) {
	kind := inbox.KindIncoming
	category := inbox.CategoryGeneral
	if directive {
		kind = inbox.KindCommand
	} else if msg.ReplyToMessage != nil {
		if c, ok := p.menu.CategoryFromPrompt(msg.ReplyToMessage.Text); ok {
			category = c
		}
	}

	meta := map[string]string{"language": string(lang)}
	if msg.From.LanguageCode != "" {
		meta["client_language"] = msg.From.LanguageCode
	}

	rec, err := p.store.CreateMessage(ctx, inbox.NewMessage{
		Channel:     inbox.ChannelTelegram,
		Kind:        kind,
		SenderName:  displayName(msg.From),
		SenderEmail: inbox.PlaceholderEmail(msg.From.ID),
		ChatUserID:  msg.From.ID,
		ChatID:      msg.Chat.ID,
		Handle:      msg.From.UserName,
		Body:        text,
		Category:    category,
		Metadata:    meta,
		UpdateID:    int64(updateID),
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.InboxWrites.WithLabelValues("create", "error").Inc()
		}
		return nil, fmt.Errorf("%w: %w", errPersist, err)
	}
	if p.metrics != nil {
		p.metrics.InboxWrites.WithLabelValues("create", "ok").Inc()
	}
	return rec, nil
}

// forward hands the message to operators after the response path, bounded by its own timeout.
func (p *Processor) forward(msg *inbox.Message) {
	if p.forwarder == nil || msg == nil {
		return
	}
	p.background.Add(1)
	go func(m inbox.Message) {
		defer p.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ForwardTimeout)
		defer cancel()
		if err := p.forwarder.Forward(ctx, m); err != nil {
			p.logger.Warn("forward to operators failed", "error", err, "message_id", m.ID)
			p.metrics.Error("gateway_forward")
		}
	}(*msg)
}

func (p *Processor) language(ctx context.Context, userID int64) (menu.Lang, bool) {
	fallback := p.menu.Catalog().Fallback()
	raw, ok, err := p.prefs.GetLanguage(ctx, userID)
	if err != nil {
		p.logger.Warn("read language preference failed", "error", err, "user_id", userID)
		return fallback, false
	}
	if !ok {
		return fallback, false
	}
	lang, valid := menu.ParseLang(raw)
	if !valid {
		return fallback, true
	}
	return lang, true
}

// sendScreen renders a screen as one message, plus a force-reply prompt when the screen asks for input.
func (p *Processor) sendScreen(ctx context.Context, chatID int64, screen menu.Screen) {
	p.logOutcome(p.messenger.SendMessage(ctx, chatID, screen.Text, telegram.SendOptions{
		ParseMode:      telegram.ParseModeHTML,
		Keyboard:       Keyboard(screen),
		DisablePreview: true,
	}))
	if screen.Prompt != "" {
		p.logOutcome(p.messenger.SendMessage(ctx, chatID, screen.Prompt, telegram.SendOptions{ForceReply: true}))
	}
}

func (p *Processor) logOutcome(o telegram.Outcome) {
	if o.OK() {
		return
	}
	p.logger.Warn("telegram call failed", "method", o.Method, "chat_id", o.ChatID, "error", o.Err)
	p.metrics.Error("telegram_" + o.Method)
}

// Keyboard converts screen buttons into Telegram inline buttons.
func Keyboard(screen menu.Screen) [][]telegram.InlineButton {
	if len(screen.Rows) == 0 {
		return nil
	}
	rows := make([][]telegram.InlineButton, 0, len(screen.Rows))
	for _, row := range screen.Rows {
		out := make([]telegram.InlineButton, 0, len(row))
		for _, b := range row {
			btn := telegram.InlineButton{Text: b.Label}
			switch {
			case b.Token != "":
				btn.CallbackData = b.Token
			case b.WebAppURL != "":
				btn.WebApp = &telegram.WebAppInfo{URL: b.WebAppURL}
			default:
				btn.URL = b.URL
			}
			out = append(out, btn)
		}
		rows = append(rows, out)
	}
	return rows
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return fmt.Sprintf("Telegram %d", u.ID)
}

func updateKind(u tgbotapi.Update) string {
	switch {
	case u.CallbackQuery != nil:
		return "callback_query"
	case u.Message != nil:
		return "message"
	default:
		return "other"
	}
}

func chatOf(u tgbotapi.Update) int64 {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID
	}
	return 0
}

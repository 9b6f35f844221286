// Package telegram is a thin Bot API client for the calls the gateway makes.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"support-gateway/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	ParseModeHTML  = "HTML"
)

var (
	// ErrUnauthorized indicates Telegram rejected the bot token.
	ErrUnauthorized = errors.New("telegram rejected bot token")
)

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s: %d %s (retry after %ds)", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Outcome is the result of one outbound call. Callers that swallow platform
// errors still receive it and decide explicitly.
type Outcome struct {
	Method    string
	ChatID    int64
	MessageID int
	Err       error
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Config holds Telegram client configuration.
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// Client issues Bot API calls with a per-call timeout.
type Client struct {
	logger  *slog.Logger
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	metrics *metrics.Metrics
}

// New creates a new Telegram client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "telegram"),
		baseURL: base,
		token:   cfg.Token,
		timeout: timeout,
		http:    &http.Client{},
		metrics: m,
	}
}

// APIEndpoint returns the printf endpoint format expected by tgbotapi.NewBotAPIWithAPIEndpoint.
func (c *Client) APIEndpoint() string {
	return c.baseURL + "/bot%s/%s"
}

// WebAppInfo opens a Telegram Web App.
type WebAppInfo struct {
	URL string `json:"url"`
}

// InlineButton is one inline keyboard button. Set exactly one of CallbackData, URL or WebApp.
type InlineButton struct {
	Text         string      `json:"text"`
	CallbackData string      `json:"callback_data,omitempty"`
	URL          string      `json:"url,omitempty"`
	WebApp       *WebAppInfo `json:"web_app,omitempty"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type forceReplyMarkup struct {
	ForceReply            bool   `json:"force_reply"`
	InputFieldPlaceholder string `json:"input_field_placeholder,omitempty"`
}

// SendOptions tunes a sendMessage call.
type SendOptions struct {
	ParseMode        string
	Keyboard         [][]InlineButton
	ForceReply       bool
	ReplyToMessageID int
	DisablePreview   bool
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	ReplyMarkup           any    `json:"reply_markup,omitempty"`
	ReplyToMessageID      int    `json:"reply_to_message_id,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// SendMessage sends text to chatID. A keyboard takes precedence over ForceReply.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) Outcome {
	req := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             opts.ParseMode,
		ReplyToMessageID:      opts.ReplyToMessageID,
		DisableWebPagePreview: opts.DisablePreview,
	}
	switch {
	case len(opts.Keyboard) > 0:
		req.ReplyMarkup = inlineKeyboardMarkup{InlineKeyboard: opts.Keyboard}
	case opts.ForceReply:
		req.ReplyMarkup = forceReplyMarkup{ForceReply: true}
	}

	var sent tgbotapi.Message
	err := c.call(ctx, "sendMessage", req, &sent)
	return Outcome{Method: "sendMessage", ChatID: chatID, MessageID: sent.MessageID, Err: err}
}

// AnswerCallback acknowledges a callback query, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) Outcome {
	req := struct {
		CallbackQueryID string `json:"callback_query_id"`
		Text            string `json:"text,omitempty"`
	}{CallbackQueryID: callbackID, Text: text}
	err := c.call(ctx, "answerCallbackQuery", req, nil)
	return Outcome{Method: "answerCallbackQuery", Err: err}
}

// WebhookConfig describes a setWebhook call.
type WebhookConfig struct {
	URL                string
	SecretToken        string
	AllowedUpdates     []string
	DropPendingUpdates bool
	MaxConnections     int
}

// SetWebhook registers the webhook URL with Telegram.
func (c *Client) SetWebhook(ctx context.Context, cfg WebhookConfig) error {
	req := struct {
		URL                string   `json:"url"`
		SecretToken        string   `json:"secret_token,omitempty"`
		AllowedUpdates     []string `json:"allowed_updates,omitempty"`
		DropPendingUpdates bool     `json:"drop_pending_updates,omitempty"`
		MaxConnections     int      `json:"max_connections,omitempty"`
	}{cfg.URL, cfg.SecretToken, cfg.AllowedUpdates, cfg.DropPendingUpdates, cfg.MaxConnections}
	return c.call(ctx, "setWebhook", req, nil)
}

// DeleteWebhook removes the webhook so getUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	req := struct {
		DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
	}{dropPending}
	return c.call(ctx, "deleteWebhook", req, nil)
}

// GetWebhookInfo reports the current webhook registration.
func (c *Client) GetWebhookInfo(ctx context.Context) (*tgbotapi.WebhookInfo, error) {
	var info tgbotapi.WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", struct{}{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) call(ctx context.Context, method string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	var resp tgbotapi.APIResponse
	if err := c.do(ctx, method, body, &resp); err != nil {
		return err
	}
	if !resp.Ok {
		return classifyAPIError(method, resp)
	}
	if dest == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, dest); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, body []byte, dest *tgbotapi.APIResponse) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", redact(err, c.token))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "support-gateway/telegram-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(method, "error", start)
		return fmt.Errorf("telegram %s request: %w", method, redact(err, c.token))
	}
	defer res.Body.Close()
	c.observe(method, strconv.Itoa(res.StatusCode), start)

	bodyBytes, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		if res.StatusCode >= 300 {
			return classifyHTTPError(method, res.StatusCode, string(bodyBytes))
		}
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !dest.Ok && dest.ErrorCode == 0 {
		dest.ErrorCode = res.StatusCode
	}
	return nil
}

func (c *Client) observe(method, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.TelegramRequests.WithLabelValues(method, status).Inc()
	c.metrics.TelegramLatency.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
}

func classifyAPIError(method string, resp tgbotapi.APIResponse) error {
	apiErr := &APIError{Method: method, Code: resp.ErrorCode, Description: resp.Description}
	if resp.Parameters != nil {
		apiErr.RetryAfter = resp.Parameters.RetryAfter
	}
	if resp.ErrorCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	}
	return apiErr
}

func classifyHTTPError(method string, status int, body string) error {
	snippet := strings.TrimSpace(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, snippet)
	}
	return fmt.Errorf("telegram %s: status=%d body=%s", method, status, snippet)
}

// redact strips the bot token from URL errors before they reach logs.
func redact(err error, token string) error {
	var urlErr *url.Error
	if token != "" && errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, token, "<token>")
	}
	return err
}

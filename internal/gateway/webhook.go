package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"support-gateway/internal/metrics"
)

// SecretHeader carries the secret_token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// UpdateProcessor handles one decoded update. A returned error means the update
// was not durably recorded and the platform should redeliver it.
type UpdateProcessor interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// WebhookHandler verifies the webhook secret and forwards updates.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    string
	processor UpdateProcessor
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables the header check.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, secret string, processor UpdateProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "telegram_webhook"),
		metrics:   m,
		secret:    secret,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		h.metrics.Error("telegram_webhook_auth")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		h.metrics.Error("telegram_webhook")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to read body"})
		return
	}
	defer r.Body.Close()

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		// Redelivery cannot fix a malformed body, so it is acknowledged and dropped.
		h.logger.Warn("malformed update dropped", "error", err, "bytes", len(body))
		h.metrics.Error("telegram_webhook_decode")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if err := h.processor.HandleUpdate(r.Context(), update); err != nil {
		h.logger.Error("failed processing update", "error", err, "update_id", update.UpdateID)
		h.metrics.Error("telegram_webhook_process")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to process update"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

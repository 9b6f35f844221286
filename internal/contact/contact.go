// Package contact accepts submissions from the public site forms and files
// them in the support inbox.
package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"support-gateway/internal/inbox"
	"support-gateway/internal/metrics"
)

const maxBodyBytes = 64 << 10

// Limiter admits at most limit events per window for a key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Forwarder passes the stored submission on to operators.
type Forwarder interface {
	Forward(ctx context.Context, msg inbox.Message) error
}

// Config tunes the form endpoint.
type Config struct {
	RateLimit      int
	RateWindow     time.Duration
	ForwardTimeout time.Duration
	// TrustedProxies may set X-Forwarded-For in addition to loopback and private peers.
	TrustedProxies []*net.IPNet
}

// Handler serves POST /api/contact.
type Handler struct {
	cfg       Config
	store     inbox.Store
	limiter   Limiter
	forwarder Forwarder
	clientIP  echo.IPExtractor
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler wires the form endpoint. Limiter and Forwarder may be nil.
func NewHandler(cfg Config, store inbox.Store, limiter Limiter, forwarder Forwarder, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = 10 * time.Second
	}
	trust := make([]echo.TrustOption, 0, len(cfg.TrustedProxies))
	for _, n := range cfg.TrustedProxies {
		trust = append(trust, echo.TrustIPRange(n))
	}
	return &Handler{
		cfg:       cfg,
		store:     store,
		limiter:   limiter,
		forwarder: forwarder,
		clientIP:  echo.ExtractIPFromXFFHeader(trust...),
		logger:    logger.With("component", "contact"),
		metrics:   m,
	}
}

// Submission is the JSON body posted by the site forms.
type Submission struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Message     string `json:"message"`
	Model       string `json:"model"`
	CarModel    string `json:"carModel"`
	MotoModel   string `json:"motoModel"`
	VIN         string `json:"vin"`
	Budget      string `json:"budget"`
	Wishes      string `json:"wishes"`
	CompanyName string `json:"companyName"`
	Website     string `json:"website"`
	Language    string `json:"locale"`
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func clean(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

// ToNewMessage validates the submission and maps it onto an inbox record.
func (s Submission) ToNewMessage() (inbox.NewMessage, error) {
	category, err := inbox.ParseCategory(s.Type)
	if err != nil {
		return inbox.NewMessage{}, err
	}

	email := clean(s.Email)
	if email == "" {
		return inbox.NewMessage{}, errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return inbox.NewMessage{}, fmt.Errorf("invalid email %q", email)
	}

	model := clean(firstNonEmpty(s.Model, s.CarModel, s.MotoModel))
	if (category == inbox.CategoryAutomotive || category == inbox.CategoryMotorcycle) && model == "" {
		return inbox.NewMessage{}, errors.New("model is required")
	}
	company := clean(s.CompanyName)
	if category == inbox.CategoryPartnership && company == "" {
		return inbox.NewMessage{}, errors.New("companyName is required")
	}

	body := clean(firstNonEmpty(s.Message, s.Wishes))
	if body == "" && model == "" && company == "" {
		return inbox.NewMessage{}, errors.New("message is required")
	}

	meta := map[string]string{}
	for k, v := range map[string]string{
		"model":       model,
		"vin":         clean(s.VIN),
		"budget":      clean(s.Budget),
		"wishes":      clean(s.Wishes),
		"companyName": company,
		"website":     clean(s.Website),
		"language":    clean(s.Language),
	} {
		if v != "" {
			meta[k] = v
		}
	}

	return inbox.NewMessage{
		Channel:     inbox.ChannelWeb,
		Kind:        inbox.KindContactForm,
		SenderName:  firstNonEmpty(clean(s.Name), company),
		SenderEmail: email,
		SenderPhone: clean(s.Phone),
		Body:        body,
		Category:    category,
		Metadata:    meta,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ctx := r.Context()
	if h.limiter != nil {
		ok, err := h.limiter.Allow(ctx, "contact:"+h.clientIP(r), h.cfg.RateLimit, h.cfg.RateWindow)
		switch {
		case err != nil:
			h.logger.Warn("rate limiter unavailable", "error", err)
		case !ok:
			h.observe("rate_limited")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			return
		}
	}

	var sub Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sub); err != nil {
		h.observe("invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	in, err := sub.ToNewMessage()
	if err != nil {
		h.observe("invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	msg, err := h.store.CreateMessage(ctx, in)
	if err != nil {
		h.observe("error")
		h.metrics.Error("contact")
		h.logger.Error("store contact submission failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to process submission"})
		return
	}
	h.observe("stored")
	h.logger.Info("contact submission stored", "message_id", msg.ID, "category", msg.Category)

	if h.forwarder != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.ForwardTimeout)
		if err := h.forwarder.Forward(fctx, *msg); err != nil {
			h.logger.Warn("forward contact submission failed", "message_id", msg.ID, "error", err)
			h.metrics.Error("forward")
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": msg.ID})
}

func (h *Handler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.ContactSubmissions.WithLabelValues(outcome).Inc()
	}
}

// ParseCIDRs parses proxy ranges; a bare IP is treated as a single-host range.
func ParseCIDRs(values []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy range %q: %w", raw, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

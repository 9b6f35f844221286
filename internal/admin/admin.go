// Package admin serves the operator inbox API consumed by the triage UI.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"support-gateway/internal/dispatch"
	"support-gateway/internal/inbox"
	"support-gateway/internal/metrics"
)

// Dispatcher delivers an operator reply to the sender of a message.
type Dispatcher interface {
	Send(ctx context.Context, msg inbox.Message, text, recipientEmail string) dispatch.Outcome
}

// Config controls routing and access.
type Config struct {
	// Prefix is prepended to every route, e.g. "/api/admin".
	Prefix string
	// Token is the bearer token operators present. Empty rejects every request.
	Token string
}

type api struct {
	store      inbox.Store
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New builds the echo application serving the inbox API.
func New(cfg Config, store inbox.Store, dispatcher Dispatcher, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	a := &api{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.With("component", "admin"),
		metrics:    m,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			a.logger.Debug("admin request", "method", v.Method, "path", v.URIPath, "status", v.Status, "error", v.Error)
			return nil
		},
	}))

	g := e.Group(strings.TrimRight(cfg.Prefix, "/"))
	g.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			if cfg.Token == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Token)) == 1, nil
		},
		ErrorHandler: func(error, echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		},
	}))

	g.GET("/messages", a.list)
	g.GET("/messages/:id", a.get)
	g.POST("/messages", a.action)
	g.DELETE("/messages", a.remove)
	g.DELETE("/messages/:id", a.remove)

	return e
}

func (a *api) list(c echo.Context) error {
	ctx := c.Request().Context()
	if ok, _ := strconv.ParseBool(c.QueryParam("stats")); ok {
		stats, err := a.store.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.ByCategory == nil {
			stats.ByCategory = map[inbox.Category]int{}
		}
		return c.JSON(http.StatusOK, stats)
	}

	filter, err := parseFilter(c)
	if err != nil {
		return err
	}
	msgs, err := a.store.ListMessages(ctx, filter)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []inbox.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func parseFilter(c echo.Context) (inbox.Filter, error) {
	var f inbox.Filter
	if raw := c.QueryParam("status"); raw != "" && !strings.EqualFold(raw, "all") {
		s, err := inbox.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	if raw := c.QueryParam("category"); raw != "" && !strings.EqualFold(raw, "all") {
		cat, err := inbox.ParseCategory(raw)
		if err != nil {
			return f, err
		}
		f.Category = cat
	}
	f.Query = c.QueryParam("q")
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (a *api) get(c echo.Context) error {
	msg, err := a.store.GetMessage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

type actionRequest struct {
	Action          string `json:"action"`
	MessageID       string `json:"messageId"`
	Status          string `json:"status"`
	ReplyText       string `json:"replyText"`
	RecipientEmail  string `json:"recipientEmail"`
	OriginalMessage string `json:"originalMessage"`
	UserName        string `json:"userName"`
}

type replyResponse struct {
	*inbox.Message
	Delivery dispatch.Outcome `json:"delivery"`
}

func (a *api) action(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json body")
	}
	if strings.TrimSpace(req.MessageID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageId is required")
	}

	switch req.Action {
	case "updateStatus":
		return a.updateStatus(c, req)
	case "addReply":
		return a.addReply(c, req)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action")
	}
}

func (a *api) updateStatus(c echo.Context, req actionRequest) error {
	status, err := inbox.ParseStatus(req.Status)
	if err != nil {
		return err
	}
	msg, err := a.store.UpdateStatus(c.Request().Context(), req.MessageID, status)
	a.observeWrite("update_status", err)
	if err != nil {
		return err
	}
	a.logger.Info("status changed", "message_id", msg.ID, "status", msg.Status)
	return c.JSON(http.StatusOK, msg)
}

// addReply records the reply first and then attempts delivery. A delivery
// failure leaves the reply and status change in place and is reported in
// the delivery field.
func (a *api) addReply(c echo.Context, req actionRequest) error {
	ctx := c.Request().Context()
	text := strings.TrimSpace(req.ReplyText)
	if text == "" {
		return inbox.ErrEmptyReply
	}
	msg, err := a.store.AppendReply(ctx, req.MessageID, text)
	a.observeWrite("append_reply", err)
	if err != nil {
		return err
	}

	target := *msg
	if target.SenderName == "" {
		target.SenderName = strings.TrimSpace(req.UserName)
	}
	if target.Body == "" {
		target.Body = req.OriginalMessage
	}
	out := a.dispatcher.Send(ctx, target, text, req.RecipientEmail)
	a.logger.Info("reply recorded", "message_id", msg.ID, "status", msg.Status, "channel", out.Channel, "delivered", out.OK)
	return c.JSON(http.StatusOK, replyResponse{Message: msg, Delivery: out})
}

func (a *api) remove(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		id = c.QueryParam("id")
	}
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	err := a.store.DeleteMessage(c.Request().Context(), id)
	a.observeWrite("delete", err)
	if err != nil {
		return err
	}
	a.logger.Info("message deleted", "message_id", id)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (a *api) observeWrite(op string, err error) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.InboxWrites.WithLabelValues(op, status).Inc()
}

// errorHandler maps inbox sentinels to status codes and renders {"error": ...}.
func (a *api) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(code)
		}
	case errors.Is(err, inbox.ErrNotFound):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, inbox.ErrInvalidStatus),
		errors.Is(err, inbox.ErrInvalidCategory),
		errors.Is(err, inbox.ErrEmptyReply),
		errors.Is(err, inbox.ErrMissingSender):
		code, msg = http.StatusBadRequest, err.Error()
	default:
		a.logger.Error("admin request failed", "error", err, "path", c.Request().URL.Path)
		a.metrics.Error("admin")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/memohai/qqbridge/internal/bridge"
	"github.com/memohai/qqbridge/internal/gateway"
	"github.com/memohai/qqbridge/internal/outbound"
)

// StatusReader is the monitor surface read by the accounts endpoints.
type StatusReader interface {
	Snapshot() []bridge.Status
	Status(accountID string) (bridge.Status, bool)
	Probe(accountID string) bridge.ProbeResult
}

// MessageSender delivers manual sends.
type MessageSender interface {
	SendText(ctx context.Context, accountID, to, text string) (outbound.Result, error)
	SendMedia(ctx context.Context, accountID, to, caption, mediaURL string) (outbound.Result, error)
}

type AccountsHandler struct {
	status   StatusReader
	sender   MessageSender
	validate *validator.Validate
	logger   *slog.Logger
}

type AccountStatusResponse struct {
	bridge.Status
	Probe bridge.ProbeResult `json:"probe"`
}

type SendRequest struct {
	Target   string `json:"target" validate:"required"`
	Text     string `json:"text" validate:"required_without=MediaURL"`
	MediaURL string `json:"media_url,omitempty" validate:"omitempty,url"`
}

func NewAccountsHandler(log *slog.Logger, status StatusReader, sender MessageSender) *AccountsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountsHandler{
		status:   status,
		sender:   sender,
		validate: validator.New(),
		logger:   log.With(slog.String("handler", "accounts")),
	}
}

func (h *AccountsHandler) Register(e *echo.Echo) {
	group := e.Group("/accounts")
	group.GET("", h.List)
	group.GET("/:id/status", h.GetStatus)
	group.POST("/:id/send", h.Send)
}

// List godoc
// @Summary List monitored accounts
// @Tags accounts
// @Success 200 {array} bridge.Status
// @Router /accounts [get]
func (h *AccountsHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status.Snapshot())
}

// GetStatus godoc
// @Summary Get account status
// @Description Runtime status of one account together with a connection probe
// @Tags accounts
// @Param id path string true "Account id"
// @Success 200 {object} AccountStatusResponse
// @Failure 404 {object} echo.HTTPError
// @Router /accounts/{id}/status [get]
func (h *AccountsHandler) GetStatus(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	st, ok := h.status.Status(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "account is not monitored")
	}
	return c.JSON(http.StatusOK, AccountStatusResponse{Status: st, Probe: h.status.Probe(id)})
}

// Send godoc
// @Summary Send a message
// @Description Send text or media through the account's active connection
// @Tags accounts
// @Param id path string true "Account id"
// @Param payload body SendRequest true "Message"
// @Success 200 {object} outbound.Result
// @Failure 400 {object} echo.HTTPError
// @Failure 502 {object} echo.HTTPError
// @Failure 503 {object} echo.HTTPError
// @Failure 504 {object} echo.HTTPError
// @Router /accounts/{id}/send [post]
func (h *AccountsHandler) Send(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	var (
		res outbound.Result
		err error
	)
	if strings.TrimSpace(req.MediaURL) != "" {
		res, err = h.sender.SendMedia(ctx, id, req.Target, req.Text, req.MediaURL)
	} else {
		res, err = h.sender.SendText(ctx, id, req.Target, req.Text)
	}
	if err != nil {
		h.logger.Warn("manual send failed",
			slog.String("account_id", id),
			slog.String("target", req.Target),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(sendStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func sendStatus(err error) int {
	var actionErr *gateway.ActionError
	switch {
	case errors.Is(err, outbound.ErrInvalidTarget), errors.Is(err, outbound.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNoActiveConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrSendTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &actionErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/qqbridge/internal/allowlist"
	"github.com/memohai/qqbridge/internal/policy"
)

// AllowlistHandler edits the runtime allow list consulted by the policy gate.
type AllowlistHandler struct {
	store allowlist.Store
}

func NewAllowlistHandler(store allowlist.Store) *AllowlistHandler {
	return &AllowlistHandler{store: store}
}

func (h *AllowlistHandler) Register(e *echo.Echo) {
	group := e.Group("/allowlist")
	group.GET("", h.List)
	group.POST("/:id", h.Add)
	group.DELETE("/:id", h.Remove)
}

func (h *AllowlistHandler) List(c echo.Context) error {
	entries, err := h.store.ReadAllowFrom(c.Request().Context(), policy.Channel)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"allow_from": entries})
}

// Add godoc
// @Summary Approve a sender
// @Tags allowlist
// @Param id path string true "Sender id"
// @Success 204
// @Failure 400 {object} echo.HTTPError
// @Router /allowlist/{id} [post]
func (h *AllowlistHandler) Add(c echo.Context) error {
	if err := h.store.Add(c.Request().Context(), policy.Channel, c.Param("id")); err != nil {
		return allowlistError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Remove godoc
// @Summary Revoke a sender
// @Tags allowlist
// @Param id path string true "Sender id"
// @Success 204
// @Failure 404 {object} echo.HTTPError
// @Router /allowlist/{id} [delete]
func (h *AllowlistHandler) Remove(c echo.Context) error {
	if err := h.store.Remove(c.Request().Context(), policy.Channel, c.Param("id")); err != nil {
		return allowlistError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func allowlistError(err error) error {
	switch {
	case errors.Is(err, allowlist.ErrInvalidEntry):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, allowlist.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

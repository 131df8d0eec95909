package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/qqbridge/internal/healthcheck"
)

// AccountLister returns the ids of every configured account.
type AccountLister func() []string

// SweepReader exposes the results of the scheduled health sweep.
type SweepReader interface {
	Latest(accountID string) ([]healthcheck.CheckResult, time.Time)
}

type HealthHandler struct {
	checker  healthcheck.Checker
	accounts AccountLister
	sweeps   SweepReader
}

type HealthResponse struct {
	Status   string                    `json:"status"`
	Accounts map[string]string         `json:"accounts"`
	Checks   []healthcheck.CheckResult `json:"checks,omitempty"`
}

type SweepResponse struct {
	SweptAt  *time.Time                `json:"swept_at,omitempty"`
	Status   string                    `json:"status"`
	Accounts map[string]string         `json:"accounts"`
	Checks   []healthcheck.CheckResult `json:"checks"`
}

// NewHealthHandler creates the health endpoints. sweeps may be nil, in which
// case /health/sweep is not served.
func NewHealthHandler(checker healthcheck.Checker, accounts AccountLister, sweeps SweepReader) *HealthHandler {
	return &HealthHandler{checker: checker, accounts: accounts, sweeps: sweeps}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/health/checks", h.ListChecks)
	if h.sweeps != nil {
		e.GET("/health/sweep", h.LastSweep)
	}
}

// Health godoc
// @Summary Overall bridge health
// @Description Aggregate status of every configured account. Responds 503 when any check errors.
// @Tags health
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	resp := HealthResponse{Accounts: map[string]string{}}
	var all []healthcheck.CheckResult
	for _, id := range h.accounts() {
		items := h.checker.ListChecks(c.Request().Context(), id)
		resp.Accounts[id] = healthcheck.Overall(items)
		all = append(all, items...)
	}
	resp.Status = healthcheck.Overall(all)
	code := http.StatusOK
	if resp.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// ListChecks godoc
// @Summary List health checks
// @Description List every check for one account, or for all accounts when account_id is omitted
// @Tags health
// @Param account_id query string false "Account id"
// @Success 200 {object} HealthResponse
// @Router /health/checks [get]
func (h *HealthHandler) ListChecks(c echo.Context) error {
	ids := h.accounts()
	if id := strings.TrimSpace(c.QueryParam("account_id")); id != "" {
		ids = []string{id}
	}
	resp := HealthResponse{Accounts: map[string]string{}, Checks: []healthcheck.CheckResult{}}
	for _, id := range ids {
		items := h.checker.ListChecks(c.Request().Context(), id)
		resp.Accounts[id] = healthcheck.Overall(items)
		resp.Checks = append(resp.Checks, items...)
	}
	resp.Status = healthcheck.Overall(resp.Checks)
	return c.JSON(http.StatusOK, resp)
}

// LastSweep godoc
// @Summary Last scheduled health sweep
// @Description Results recorded by the most recent background sweep, without running the checks again
// @Tags health
// @Success 200 {object} SweepResponse
// @Router /health/sweep [get]
func (h *HealthHandler) LastSweep(c echo.Context) error {
	resp := SweepResponse{Accounts: map[string]string{}, Checks: []healthcheck.CheckResult{}}
	for _, id := range h.accounts() {
		items, at := h.sweeps.Latest(id)
		if !at.IsZero() {
			resp.SweptAt = &at
		}
		resp.Accounts[id] = healthcheck.Overall(items)
		resp.Checks = append(resp.Checks, items...)
	}
	resp.Status = healthcheck.Overall(resp.Checks)
	return c.JSON(http.StatusOK, resp)
}

package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/qqbridge/internal/bridge"
	"github.com/memohai/qqbridge/internal/healthcheck"
)

const checkTypeConnection = "qq.connection"

// ConnectionObserver reads runtime account status and probes connections.
type ConnectionObserver interface {
	Status(accountID string) (bridge.Status, bool)
	Probe(accountID string) bridge.ProbeResult
}

// Checker evaluates QQ gateway connection health checks.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
}

// NewChecker creates a connection health checker.
func NewChecker(log *slog.Logger, observer ConnectionObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
	}
}

// ListChecks reports whether the account's gateway connection is live.
func (c *Checker) ListChecks(ctx context.Context, accountID string) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	// Observer is context-free; best effort early cancellation guard.
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn(
			"channel healthcheck dependency is unavailable",
			slog.String("account_id", accountID),
		)
		return []healthcheck.CheckResult{
			{
				ID:      checkTypeConnection + ".service",
				Type:    checkTypeConnection,
				Status:  healthcheck.StatusWarn,
				Summary: "Connection monitor is not available.",
				Detail:  "connection observer is nil",
			},
		}
	}

	probe := c.observer.Probe(accountID)
	status, known := c.observer.Status(accountID)
	item := healthcheck.CheckResult{
		ID:       checkTypeConnection + "." + accountID,
		Type:     checkTypeConnection,
		Subtitle: "qq (" + accountID + ")",
		Status:   healthcheck.StatusError,
		Summary:  fmt.Sprintf("Account %s is not connected.", accountID),
		Detail:   probe.Message,
		Metadata: map[string]any{
			"running":   status.Running,
			"connected": probe.Connected,
		},
	}
	addTime(item.Metadata, "last_connected_at", status.LastConnectedAt)
	addTime(item.Metadata, "last_inbound_at", status.LastInboundAt)
	addTime(item.Metadata, "last_outbound_at", status.LastOutboundAt)

	switch {
	case probe.OK:
		item.Status = healthcheck.StatusOK
		item.Summary = fmt.Sprintf("Account %s is connected.", accountID)
		item.Detail = ""
	case !known || !status.Running:
		item.Status = healthcheck.StatusWarn
		item.Summary = fmt.Sprintf("Account %s is not monitored.", accountID)
	case strings.TrimSpace(status.LastError) != "":
		item.Summary = fmt.Sprintf("Account %s connection failed.", accountID)
		item.Detail = strings.TrimSpace(status.LastError)
	}
	return []healthcheck.CheckResult{item}
}

func addTime(meta map[string]any, key string, t *time.Time) {
	if t == nil || t.Unix() <= 0 {
		return
	}
	meta[key] = t.UTC().Format("2006-01-02T15:04:05Z")
}

package depchecker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/memohai/qqbridge/internal/healthcheck"
)

const (
	checkTypeDependency = "dependency"
	defaultCheckTimeout = 8 * time.Second
)

// PingFunc reports whether a backing service is reachable.
type PingFunc func(ctx context.Context) error

// Checker pings the backing services the bridge depends on. Results are the
// same for every account.
type Checker struct {
	logger  *slog.Logger
	pings   map[string]PingFunc
	timeout time.Duration
}

// NewChecker creates a dependency checker over named ping functions.
func NewChecker(log *slog.Logger, pings map[string]PingFunc) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_dependency")),
		pings:   pings,
		timeout: defaultCheckTimeout,
	}
}

func (c *Checker) ListChecks(ctx context.Context, _ string) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	names := make([]string, 0, len(c.pings))
	for name, ping := range c.pings {
		if ping != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	checks := make([]healthcheck.CheckResult, 0, len(names))
	for _, name := range names {
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		started := time.Now()
		err := c.pings[name](probeCtx)
		elapsed := time.Since(started)
		cancel()

		item := healthcheck.CheckResult{
			ID:       checkTypeDependency + "." + name,
			Type:     checkTypeDependency,
			Subtitle: name,
			Status:   healthcheck.StatusOK,
			Summary:  name + " is reachable.",
			Metadata: map[string]any{"latency_ms": elapsed.Milliseconds()},
		}
		if err != nil {
			c.logger.Warn("dependency healthcheck failed",
				slog.String("dependency", name),
				slog.Any("error", err),
			)
			item.Status = healthcheck.StatusError
			item.Summary = name + " is unreachable."
			item.Detail = err.Error()
		}
		checks = append(checks, item)
	}
	return checks
}

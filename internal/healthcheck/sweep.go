package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 30 * time.Second

// Sweeper runs a checker for every account on a cron schedule and logs
// status transitions.
type Sweeper struct {
	checker  Checker
	accounts func() []string
	logger   *slog.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	last    map[string]string
	results map[string][]CheckResult
	sweptAt time.Time
}

// NewSweeper schedules checker with a cron spec such as "@every 1m".
func NewSweeper(log *slog.Logger, checker Checker, accounts func() []string, schedule string) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		checker:  checker,
		accounts: accounts,
		logger:   log.With(slog.String("component", "healthcheck")),
		cron:     cron.New(),
		last:     map[string]string{},
		results:  map[string][]CheckResult{},
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep checks every account once.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, accountID := range s.accounts() {
		items := s.checker.ListChecks(ctx, accountID)
		s.record(accountID, items)
	}
	s.mu.Lock()
	s.sweptAt = time.Now()
	s.mu.Unlock()
}

func (s *Sweeper) record(accountID string, items []CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[accountID] = items
	for _, item := range items {
		prev, seen := s.last[item.ID]
		s.last[item.ID] = item.Status
		if seen && prev == item.Status {
			continue
		}
		if !seen && item.Status == StatusOK {
			continue
		}
		attrs := []any{
			slog.String("account_id", accountID),
			slog.String("check", item.ID),
			slog.String("from", prev),
			slog.String("to", item.Status),
			slog.String("summary", item.Summary),
		}
		if item.Status == StatusOK {
			s.logger.Info("health check recovered", attrs...)
			continue
		}
		s.logger.Warn("health check degraded", append(attrs, slog.String("detail", item.Detail))...)
	}
}

// Latest returns the most recent results for accountID and the time of the
// last sweep.
func (s *Sweeper) Latest(accountID string) ([]CheckResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append([]CheckResult(nil), s.results[accountID]...)
	return items, s.sweptAt
}

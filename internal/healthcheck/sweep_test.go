package healthcheck

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type switchChecker struct {
	mu     sync.Mutex
	status string
}

func (c *switchChecker) set(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *switchChecker) ListChecks(_ context.Context, accountID string) []CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []CheckResult{{ID: "qq.connection." + accountID, Status: c.status}}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSweeperLogsTransitionsOnly(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	checker := &switchChecker{status: StatusOK}
	sweeper, err := NewSweeper(slog.New(slog.NewTextHandler(out, nil)), checker, func() []string { return []string{"bot"} }, "@every 1h")
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	sweeper.Sweep(context.Background())
	if strings.Contains(out.String(), "health check") {
		t.Fatalf("initial ok must not be logged: %s", out.String())
	}

	checker.set(StatusError)
	sweeper.Sweep(context.Background())
	sweeper.Sweep(context.Background())
	if n := strings.Count(out.String(), "health check degraded"); n != 1 {
		t.Fatalf("expected one degraded line, got %d", n)
	}

	checker.set(StatusOK)
	sweeper.Sweep(context.Background())
	if !strings.Contains(out.String(), "health check recovered") {
		t.Fatalf("expected recovery line: %s", out.String())
	}

	items, at := sweeper.Latest("bot")
	if len(items) != 1 || items[0].Status != StatusOK || at.IsZero() {
		t.Fatalf("unexpected latest: %+v %v", items, at)
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	if _, err := NewSweeper(nil, &switchChecker{}, func() []string { return nil }, "not a schedule"); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestSweeperStartStop(t *testing.T) {
	t.Parallel()

	sweeper, err := NewSweeper(nil, &switchChecker{}, func() []string { return nil }, "@every 1h")
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.Start()
	if err := sweeper.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

package depchecker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	checker := NewChecker(newTestLogger(), map[string]PingFunc{
		"postgres": func(context.Context) error { return nil },
		"amqp":     func(context.Context) error { return errors.New("connection closed") },
		"skipped":  nil,
	})

	items := checker.ListChecks(context.Background(), "bot")
	if len(items) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(items))
	}
	if items[0].ID != "dependency.amqp" || items[0].Status != "error" {
		t.Fatalf("unexpected amqp check: %+v", items[0])
	}
	if items[0].Detail != "connection closed" {
		t.Fatalf("unexpected detail: %s", items[0].Detail)
	}
	if items[1].ID != "dependency.postgres" || items[1].Status != "ok" {
		t.Fatalf("unexpected postgres check: %+v", items[1])
	}
}

func TestCheckerAppliesTimeout(t *testing.T) {
	t.Parallel()

	checker := NewChecker(newTestLogger(), map[string]PingFunc{
		"slow": func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	checker.timeout = 20 * time.Millisecond

	items := checker.ListChecks(context.Background(), "")
	if len(items) != 1 || items[0].Status != "error" {
		t.Fatalf("expected timed out check, got %+v", items)
	}
}

func TestCheckerNoDependencies(t *testing.T) {
	t.Parallel()

	if items := NewChecker(newTestLogger(), nil).ListChecks(context.Background(), "bot"); len(items) != 0 {
		t.Fatalf("expected no checks, got %d", len(items))
	}
}

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const maxDialDelay = 60 * time.Second

// DialOptions configures DialWithRetry.
type DialOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// DialWithRetry connects to RabbitMQ with exponential backoff, giving up
// after RetryAttempts or when ctx ends.
func DialWithRetry(ctx context.Context, opts DialOptions) (*amqp.Connection, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			if attempt > 1 {
				opts.Logger.Info("amqp connected", slog.Int("attempt", attempt))
			}
			return conn, nil
		}
		lastErr = err
		if attempt == opts.RetryAttempts {
			break
		}

		sleep := backoff(opts.Delay, attempt)
		opts.Logger.Warn("amqp dial failed",
			slog.Int("attempt", attempt),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("amqp dial failed after %d attempts: %w", opts.RetryAttempts, lastErr)
}

// backoff doubles base per attempt, capped at maxDialDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if sleep >= maxDialDelay {
			return maxDialDelay
		}
	}
	return sleep
}

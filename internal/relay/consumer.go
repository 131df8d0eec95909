package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/memohai/qqbridge/internal/outbound"
)

const (
	defaultPrefetch   = 10
	defaultWorkers    = 4
	defaultSendBudget = 30 * time.Second
)

// ErrPoison marks a reply that can never succeed: undecodable, invalid, or
// addressed to a malformed target.
var ErrPoison = errors.New("relay: poison message")

// ReplySender delivers replies to QQ. *outbound.Sender implements it.
type ReplySender interface {
	SendText(ctx context.Context, accountID, to, text string) (outbound.Result, error)
	SendMedia(ctx context.Context, accountID, to, caption, mediaURL string) (outbound.Result, error)
}

// ConsumerOptions configures a ReplyConsumer.
type ConsumerOptions struct {
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
	Workers    int
}

// ReplyConsumer consumes reply envelopes and sends them through a ReplySender.
type ReplyConsumer struct {
	conn     *amqp.Connection
	opts     ConsumerOptions
	sender   ReplySender
	validate *validator.Validate
	logger   *slog.Logger

	mu     sync.Mutex
	ch     *amqp.Channel
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewReplyConsumer creates a consumer. Start begins consuming.
func NewReplyConsumer(log *slog.Logger, conn *amqp.Connection, sender ReplySender, opts ConsumerOptions) *ReplyConsumer {
	if log == nil {
		log = slog.Default()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = defaultPrefetch
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &ReplyConsumer{
		conn:     conn,
		opts:     opts,
		sender:   sender,
		validate: validator.New(),
		logger:   log.With(slog.String("component", "relay")),
	}
}

// Start declares the queue, binds it to the exchange and starts the workers.
func (c *ReplyConsumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := c.setup(ch); err != nil {
		_ = ch.Close()
		return err
	}
	deliveries, err := ch.Consume(c.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", c.opts.Queue, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.ch = ch
	c.cancel = cancel
	c.mu.Unlock()

	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker(runCtx, deliveries)
	}
	c.logger.Info("reply consumer started",
		slog.String("queue", c.opts.Queue),
		slog.String("key", c.opts.RoutingKey),
		slog.Int("workers", c.opts.Workers),
	)
	return nil
}

func (c *ReplyConsumer) setup(ch *amqp.Channel) error {
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	if err := ch.ExchangeDeclare(c.opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.opts.Exchange, err)
	}
	q, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.opts.Queue, err)
	}
	if err := ch.QueueBind(q.Name, c.opts.RoutingKey, c.opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

func (c *ReplyConsumer) worker(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, d)
		}
	}
}

// handle acks delivered and poison replies. Failed sends are requeued once;
// a redelivered failure is dropped.
func (c *ReplyConsumer) handle(ctx context.Context, d amqp.Delivery) {
	sendCtx, cancel := context.WithTimeout(ctx, defaultSendBudget)
	defer cancel()

	err := c.process(sendCtx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrPoison):
		c.logger.Warn("reply dropped",
			slog.String("message_id", d.MessageId),
			slog.String("reason", "poison"),
			slog.Any("error", err),
		)
		_ = d.Ack(false)
	default:
		requeue := !d.Redelivered
		c.logger.Error("reply send failed",
			slog.String("message_id", d.MessageId),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
		_ = d.Nack(false, requeue)
	}
}

func (c *ReplyConsumer) process(ctx context.Context, body []byte) error {
	var env ReplyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrPoison, err)
	}
	if env.Meta.Type != "" && env.Meta.Type != TypeReply {
		return fmt.Errorf("%w: unexpected type %q", ErrPoison, env.Meta.Type)
	}
	reply := env.Data
	reply.AccountID = strings.TrimSpace(reply.AccountID)
	reply.Target = strings.TrimSpace(reply.Target)
	if err := c.validate.Struct(reply); err != nil {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}

	var (
		res outbound.Result
		err error
	)
	if reply.MediaURL != "" {
		res, err = c.sender.SendMedia(ctx, reply.AccountID, reply.Target, reply.Text, reply.MediaURL)
	} else {
		res, err = c.sender.SendText(ctx, reply.AccountID, reply.Target, reply.Text)
	}
	if errors.Is(err, outbound.ErrInvalidTarget) || errors.Is(err, outbound.ErrEmptyMessage) {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}
	if err != nil {
		return err
	}
	c.logger.Info("reply sent",
		slog.String("account_id", reply.AccountID),
		slog.String("target", reply.Target),
		slog.String("message_id", res.ID),
		slog.String("correlation_id", env.Meta.CorrelationID),
	)
	return nil
}

// Close stops the workers and closes the consumer channel.
func (c *ReplyConsumer) Close() error {
	c.mu.Lock()
	cancel, ch := c.cancel, c.ch
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	if ch == nil || ch.IsClosed() {
		return nil
	}
	return ch.Close()
}

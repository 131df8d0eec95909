package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/memohai/qqbridge/internal/bridge"
)

// Publisher publishes accepted inbound messages to a topic exchange and
// waits for the broker's confirmation. It implements bridge.Deliverer.
type Publisher struct {
	conn       *amqp.Connection
	exchange   string
	routingKey string
	logger     *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher declares the exchange and opens a confirm-mode channel.
func NewPublisher(log *slog.Logger, conn *amqp.Connection, exchange, routingKey string) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		conn:       conn,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     log.With(slog.String("component", "relay")),
	}
	if _, err := p.channel(); err != nil {
		return nil, err
	}
	return p, nil
}

// channel returns the publishing channel, reopening it after a close.
// Callers hold p.mu or are the constructor.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	p.ch = ch
	return ch, nil
}

// Deliver publishes msg and blocks until the broker acks it.
func (p *Publisher) Deliver(ctx context.Context, msg bridge.Inbound) error {
	env := NewInboundEnvelope(msg, time.Now())
	publishing, err := buildPublishing(env.Meta, env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, p.routingKey, false, false, publishing)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish %s nacked by broker", env.Meta.ID)
	}
	p.logger.Debug("inbound published",
		slog.String("account_id", msg.AccountID),
		slog.String("exchange", p.exchange),
		slog.String("key", p.routingKey),
		slog.String("id", env.Meta.ID),
	)
	return nil
}

// Close closes the publishing channel. The connection is owned by the caller.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	return p.ch.Close()
}

// NewInboundEnvelope wraps msg. The session key doubles as correlation id
// so replies can be matched to their conversation.
func NewInboundEnvelope(msg bridge.Inbound, now time.Time) InboundEnvelope {
	return InboundEnvelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: msg.Routing.SessionKey,
			Producer:      producer,
			Time:          now.UTC(),
			Type:          TypeInbound,
		},
		Data: msg,
	}
}

func buildPublishing(meta Meta, payload any) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal envelope: %w", err)
	}
	cid := meta.CorrelationID
	if cid == "" {
		cid = meta.ID
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     meta.ID,
		CorrelationId: cid,
		Type:          meta.Type,
		Timestamp:     meta.Time,
		AppId:         meta.Producer,
		Body:          body,
	}, nil
}

// Package relay moves messages between the bridge and the routing
// subsystem over RabbitMQ: accepted inbound messages are published to a
// topic exchange and replies are consumed from a queue.
package relay

import (
	"time"

	"github.com/memohai/qqbridge/internal/bridge"
)

// Event types carried in Meta.Type.
const (
	TypeInbound = "qq.inbound.v1"
	TypeReply   = "qq.reply.v1"
)

const producer = "qqbridge"

// Meta identifies one envelope.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope wraps a payload with its metadata.
type Envelope[T any] struct {
	Meta Meta `json:"meta"`
	Data T    `json:"data"`
}

// InboundEnvelope is published for every accepted inbound message.
type InboundEnvelope = Envelope[bridge.Inbound]

// Reply asks the bridge to send a message. Target accepts the same forms
// as the routing context's reply target.
type Reply struct {
	AccountID string `json:"account_id" validate:"required"`
	Target    string `json:"target" validate:"required"`
	Text      string `json:"text" validate:"required_without=MediaURL"`
	MediaURL  string `json:"media_url,omitempty" validate:"omitempty,url"`
}

// ReplyEnvelope is consumed from the reply queue.
type ReplyEnvelope = Envelope[Reply]

// Package bridge connects gateway events to the routing subsystem: inbound
// messages pass the policy gate and media ingestion before delivery, and
// per-account monitors track connection status.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/memohai/qqbridge/internal/config"
	"github.com/memohai/qqbridge/internal/onebot"
)

// Channel names the QQ surface in routing addresses.
const Channel = "qq"

// RoutingContext addresses an accepted message for the routing subsystem.
type RoutingContext struct {
	Channel           string          `json:"channel"`
	AccountID         string          `json:"account_id"`
	From              string          `json:"from"`
	To                string          `json:"to"`
	ReplyTarget       string          `json:"reply_target"`
	SessionKey        string          `json:"session_key"`
	ChatType          onebot.ChatType `json:"chat_type"`
	ConversationLabel string          `json:"conversation_label"`
	SenderID          string          `json:"sender_id"`
	SenderName        string          `json:"sender_name"`
	GroupSubject      string          `json:"group_subject,omitempty"`
	WasMentioned      bool            `json:"was_mentioned"`
	CommandAuthorized bool            `json:"command_authorized"`
}

// Inbound is one accepted message handed to a Deliverer.
type Inbound struct {
	AccountID  string               `json:"account_id"`
	ReceivedAt time.Time            `json:"received_at"`
	Message    onebot.ParsedMessage `json:"message"`
	Routing    RoutingContext       `json:"routing"`
	Raw        json.RawMessage      `json:"raw,omitempty"`
}

// Deliverer hands accepted messages to the routing subsystem.
type Deliverer interface {
	Deliver(ctx context.Context, msg Inbound) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, msg Inbound) error

func (f DelivererFunc) Deliver(ctx context.Context, msg Inbound) error {
	return f(ctx, msg)
}

// AccountResolver resolves account settings by id. config.Config implements it.
type AccountResolver interface {
	ResolveAccount(id string) config.Account
}

// MediaIngester downloads attachments, keeping only those that succeed.
type MediaIngester interface {
	IngestAll(ctx context.Context, accountID string, items []onebot.MediaAttachment, maxBytes int64) []onebot.MediaAttachment
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/qqbridge/internal/config"
	"github.com/memohai/qqbridge/internal/onebot"
	"github.com/memohai/qqbridge/internal/policy"
)

// ErrEmptyMessage marks an inbound message with no text body.
var ErrEmptyMessage = errors.New("bridge: empty message")

// Processor runs one inbound message through the policy gate and media
// ingestion, then hands it to the Deliverer.
type Processor struct {
	gate      *policy.Gate
	media     MediaIngester
	deliverer Deliverer
	accounts  AccountResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor creates a processor. media may be nil, in which case
// attachments are forwarded without local copies.
func NewProcessor(log *slog.Logger, gate *policy.Gate, media MediaIngester, deliverer Deliverer, accounts AccountResolver) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		gate:      gate,
		media:     media,
		deliverer: deliverer,
		accounts:  accounts,
		logger:    log.With(slog.String("component", "bridge")),
		now:       time.Now,
	}
}

// Process evaluates and delivers msg. It reports whether the message was
// delivered; drops are logged and return false with a nil error.
func (p *Processor) Process(ctx context.Context, accountID string, raw json.RawMessage, msg onebot.ParsedMessage) (bool, error) {
	acct := p.accounts.ResolveAccount(accountID)
	if !acct.Enabled {
		p.drop(acct.ID, msg, ErrAccountDisabled)
		return false, nil
	}
	if strings.TrimSpace(msg.RawBody) == "" {
		p.drop(acct.ID, msg, ErrEmptyMessage)
		return false, nil
	}

	verdict := p.gate.Evaluate(ctx, policy.Account{
		ID:             acct.ID,
		DMPolicy:       acct.DMPolicy,
		GroupPolicy:    acct.GroupPolicy,
		AllowFrom:      acct.AllowFrom,
		GroupAllowFrom: acct.GroupAllowFrom,
	}, msg)
	if !verdict.Allowed {
		p.drop(acct.ID, msg, verdict.Err())
		return false, nil
	}

	if len(msg.MediaAttachments) > 0 && p.media != nil {
		msg = msg.WithMedia(p.media.IngestAll(ctx, acct.ID, msg.MediaAttachments, acct.MediaMaxBytes))
	}

	inbound := Inbound{
		AccountID:  acct.ID,
		ReceivedAt: p.now(),
		Message:    msg,
		Routing:    buildRouting(acct, msg, verdict.CommandAuthorized),
		Raw:        raw,
	}
	if err := p.deliverer.Deliver(ctx, inbound); err != nil {
		p.logger.Error("inbound delivery failed",
			slog.String("account_id", acct.ID),
			slog.String("message_id", msg.MessageID),
			slog.String("chat_id", msg.ChatID),
			slog.Any("error", err),
		)
		return false, err
	}
	p.logger.Debug("inbound message delivered",
		slog.String("account_id", acct.ID),
		slog.String("message_id", msg.MessageID),
		slog.String("session_key", inbound.Routing.SessionKey),
		slog.Int("attachments", len(msg.MediaAttachments)),
	)
	return true, nil
}

func (p *Processor) drop(accountID string, msg onebot.ParsedMessage, reason error) {
	p.logger.Info("inbound message dropped",
		slog.String("account_id", accountID),
		slog.String("sender_id", msg.SenderID),
		slog.String("chat_id", msg.ChatID),
		slog.String("chat_type", string(msg.ChatType)),
		slog.Any("reason", reason),
	)
}

func buildRouting(acct config.Account, msg onebot.ParsedMessage, commandAuthorized bool) RoutingContext {
	rc := RoutingContext{
		Channel:           Channel,
		AccountID:         acct.ID,
		To:                Channel + ":" + acct.ID,
		SessionKey:        strings.Join([]string{Channel, acct.ID, string(msg.ChatType), msg.ChatID}, ":"),
		ChatType:          msg.ChatType,
		SenderID:          msg.SenderID,
		SenderName:        msg.SenderName,
		CommandAuthorized: commandAuthorized,
	}
	selfID := msg.SelfID
	if selfID == "" {
		selfID = acct.ID
	}
	rc.WasMentioned = msg.Mentions(selfID)
	if msg.IsGroup() {
		rc.From = Channel + ":group:" + msg.ChatID
		rc.ReplyTarget = "group:" + msg.ChatID
		rc.GroupSubject = msg.GroupSubject
		rc.ConversationLabel = msg.GroupSubject
		if rc.ConversationLabel == "" {
			rc.ConversationLabel = "Group " + msg.ChatID
		}
		return rc
	}
	rc.From = Channel + ":" + msg.SenderID
	rc.ReplyTarget = msg.ChatID
	rc.ConversationLabel = msg.SenderID
	if msg.SenderName != "" {
		rc.ConversationLabel = msg.SenderName + " (" + msg.SenderID + ")"
	}
	return rc
}

package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/qqbridge/internal/config"
	"github.com/memohai/qqbridge/internal/gateway"
	"github.com/memohai/qqbridge/internal/onebot"
)

// ErrEmptyMessage indicates a send with nothing to deliver.
var ErrEmptyMessage = errors.New("outbound message is empty")

// ActionSender issues one correlated action. *gateway.Correlator implements it.
type ActionSender interface {
	Send(ctx context.Context, accountID, action string, params any) (gateway.Ack, error)
}

// AccountResolver resolves per-account limits. config.Config implements it.
type AccountResolver interface {
	ResolveAccount(id string) config.Account
}

// Result identifies the last message delivered by a send.
type Result struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer is notified after every successful delivery.
type Observer func(accountID string, at time.Time)

// Sender delivers replies as QQ private or group messages.
type Sender struct {
	actions  ActionSender
	accounts AccountResolver
	loader   MediaLoader
	logger   *slog.Logger
	observer Observer
}

// NewSender creates a Sender. A nil loader disables media sends, which then
// always take the text fallback.
func NewSender(log *slog.Logger, actions ActionSender, accounts AccountResolver, loader MediaLoader) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		actions:  actions,
		accounts: accounts,
		loader:   loader,
		logger:   log.With(slog.String("component", "outbound")),
	}
}

// Observe registers fn to be called after each delivered message.
func (s *Sender) Observe(fn Observer) {
	s.observer = fn
}

// SendText delivers text to the target, split into chunks of the account's
// text limit. The result identifies the last chunk.
func (s *Sender) SendText(ctx context.Context, accountID, to, text string) (Result, error) {
	target, err := NormalizeTarget(to)
	if err != nil {
		return Result{}, err
	}
	acct := s.resolve(accountID)
	chunks := ChunkText(text, acct.TextChunkLimit)
	if len(chunks) == 0 {
		return Result{}, ErrEmptyMessage
	}
	var last Result
	for i, chunk := range chunks {
		last, err = s.deliver(ctx, acct.ID, target, onebot.TextMessage(chunk))
		if err != nil {
			return Result{}, fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return last, nil
}

// SendMedia delivers an optional caption followed by the media at mediaURL.
// When the media cannot be loaded, has no segment mapping, or is refused by
// the gateway, the caption and the URL are sent as text instead.
func (s *Sender) SendMedia(ctx context.Context, accountID, to, caption, mediaURL string) (Result, error) {
	target, err := NormalizeTarget(to)
	if err != nil {
		return Result{}, err
	}
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return s.SendText(ctx, accountID, to, caption)
	}
	acct := s.resolve(accountID)

	segments, err := s.mediaSegments(ctx, acct, caption, mediaURL)
	if err == nil {
		res, sendErr := s.deliver(ctx, acct.ID, target, segments)
		if sendErr == nil {
			return res, nil
		}
		var actionErr *gateway.ActionError
		if !errors.As(sendErr, &actionErr) {
			return Result{}, sendErr
		}
		err = sendErr
	}
	s.logger.Warn(
		"media send fell back to text",
		slog.String("account_id", acct.ID),
		slog.String("target", target.String()),
		slog.String("media_url", mediaURL),
		slog.Any("error", err),
	)
	return s.deliver(ctx, acct.ID, target, onebot.TextMessage(fallbackText(caption, mediaURL)))
}

func (s *Sender) mediaSegments(ctx context.Context, acct config.Account, caption, mediaURL string) ([]onebot.Segment, error) {
	if s.loader == nil {
		return nil, fmt.Errorf("media loading is not configured")
	}
	loaded, err := s.loader.Load(ctx, mediaURL, acct.MediaMaxBytes)
	if err != nil {
		return nil, err
	}
	return onebot.MediaMessage(caption, loaded.Kind, loaded.Data, loaded.FileName)
}

func (s *Sender) deliver(ctx context.Context, accountID string, target Target, segments []onebot.Segment) (Result, error) {
	message, err := onebot.EncodeSegments(segments)
	if err != nil {
		return Result{}, err
	}
	var (
		action string
		params any
	)
	switch target.Kind {
	case TargetGroup:
		action = onebot.ActionSendGroupMsg
		params = onebot.GroupMessageParams{GroupID: target.ID, Message: message}
	default:
		action = onebot.ActionSendPrivateMsg
		params = onebot.PrivateMessageParams{UserID: target.ID, Message: message}
	}
	ack, err := s.actions.Send(ctx, accountID, action, params)
	if err != nil {
		return Result{}, err
	}
	id := ack.MessageID
	if id == "" {
		id = ack.Echo
	}
	if s.observer != nil {
		s.observer(accountID, ack.At)
	}
	return Result{ID: id, Timestamp: ack.At}, nil
}

func (s *Sender) resolve(accountID string) config.Account {
	if s.accounts == nil {
		return config.Account{ID: accountID, TextChunkLimit: DefaultTextChunkLimit}
	}
	return s.accounts.ResolveAccount(accountID)
}

func fallbackText(caption, mediaURL string) string {
	if strings.TrimSpace(caption) == "" {
		return mediaURL
	}
	return caption + "\n" + mediaURL
}

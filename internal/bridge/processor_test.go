package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/qqbridge/internal/config"
	"github.com/memohai/qqbridge/internal/onebot"
	"github.com/memohai/qqbridge/internal/policy"
)

type fakeAccounts map[string]config.Account

func (f fakeAccounts) ResolveAccount(id string) config.Account {
	if acct, ok := f[id]; ok {
		return acct
	}
	return config.Account{ID: id, Enabled: true, DMPolicy: config.PolicyOpen, GroupPolicy: config.PolicyOpen, MediaMaxBytes: 1 << 20}
}

type recordingDeliverer struct {
	mu   sync.Mutex
	msgs []Inbound
	err  error
	ch   chan Inbound
}

func (r *recordingDeliverer) Deliver(_ context.Context, msg Inbound) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	if r.ch != nil {
		r.ch <- msg
	}
	return r.err
}

func (r *recordingDeliverer) delivered() []Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Inbound(nil), r.msgs...)
}

type fakeIngester struct {
	keep int
}

func (f fakeIngester) IngestAll(_ context.Context, _ string, items []onebot.MediaAttachment, _ int64) []onebot.MediaAttachment {
	out := make([]onebot.MediaAttachment, 0, f.keep)
	for i, item := range items {
		if i >= f.keep {
			break
		}
		item.LocalPath = "/media/" + item.RemoteFileName
		item.ContentType = "image/jpeg"
		out = append(out, item)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(accounts fakeAccounts, media MediaIngester, deliverer Deliverer) *Processor {
	gate := policy.NewGate(quietLogger(), nil, policy.Commands{UseAccessGroups: true, TextCommands: true, Prefix: "/"})
	return NewProcessor(quietLogger(), gate, media, deliverer, accounts)
}

func directMessage(text string) onebot.ParsedMessage {
	return onebot.ParsedMessage{
		MessageID:  "m1",
		Body:       text,
		RawBody:    text,
		SenderID:   "123",
		SenderName: "Alice",
		ChatType:   onebot.ChatTypeDirect,
		ChatID:     "123",
	}
}

func groupMessage(text string, segments ...onebot.Segment) onebot.ParsedMessage {
	return onebot.ParsedMessage{
		MessageID:    "m2",
		Body:         text,
		RawBody:      text,
		SenderID:     "123",
		SenderName:   "Alice",
		ChatType:     onebot.ChatTypeGroup,
		ChatID:       "555",
		GroupSubject: "Group 555",
		Segments:     segments,
	}
}

func TestProcessDeliversDirectMessageWithRouting(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	p := newTestProcessor(fakeAccounts{}, nil, deliverer)

	ok, err := p.Process(context.Background(), "bot", []byte(`{}`), directMessage("hello"))
	require.NoError(t, err)
	require.True(t, ok)

	got := deliverer.delivered()
	require.Len(t, got, 1)
	rc := got[0].Routing
	assert.Equal(t, "qq:123", rc.From)
	assert.Equal(t, "qq:bot", rc.To)
	assert.Equal(t, "123", rc.ReplyTarget)
	assert.Equal(t, "qq:bot:direct:123", rc.SessionKey)
	assert.Equal(t, "Alice (123)", rc.ConversationLabel)
	assert.True(t, rc.CommandAuthorized)
	assert.False(t, rc.WasMentioned)
}

func TestProcessDirectLabelWithoutName(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	p := newTestProcessor(fakeAccounts{}, nil, deliverer)

	msg := directMessage("hello")
	msg.SenderName = ""
	_, err := p.Process(context.Background(), "bot", nil, msg)
	require.NoError(t, err)
	assert.Equal(t, "123", deliverer.delivered()[0].Routing.ConversationLabel)
}

func TestProcessGroupRoutingAndMention(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	p := newTestProcessor(fakeAccounts{}, nil, deliverer)

	msg := groupMessage("@bot hi", onebot.Mention{QQ: "bot"}, onebot.Text{Text: " hi"})
	ok, err := p.Process(context.Background(), "bot", nil, msg)
	require.NoError(t, err)
	require.True(t, ok)

	rc := deliverer.delivered()[0].Routing
	assert.Equal(t, "qq:group:555", rc.From)
	assert.Equal(t, "group:555", rc.ReplyTarget)
	assert.Equal(t, "qq:bot:group:555", rc.SessionKey)
	assert.Equal(t, "Group 555", rc.ConversationLabel)
	assert.True(t, rc.WasMentioned)
}

func TestProcessDropsByPolicy(t *testing.T) {
	t.Parallel()

	accounts := fakeAccounts{
		"strict":  {ID: "strict", Enabled: true, DMPolicy: config.PolicyAllowlist, GroupPolicy: config.PolicyAllowlist, AllowFrom: []string{"999"}},
		"nogroup": {ID: "nogroup", Enabled: true, DMPolicy: config.PolicyOpen, GroupPolicy: config.PolicyDisabled},
		"off":     {ID: "off", Enabled: false},
	}
	deliverer := &recordingDeliverer{}
	p := newTestProcessor(accounts, nil, deliverer)

	cases := []struct {
		account string
		msg     onebot.ParsedMessage
	}{
		{account: "strict", msg: directMessage("hello")},
		{account: "strict", msg: groupMessage("hello")},
		{account: "nogroup", msg: groupMessage("hello")},
		{account: "off", msg: directMessage("hello")},
		{account: "bot", msg: directMessage("   ")},
	}
	for _, tc := range cases {
		ok, err := p.Process(context.Background(), tc.account, nil, tc.msg)
		require.NoError(t, err)
		assert.False(t, ok, "account %s should drop", tc.account)
	}
	assert.Empty(t, deliverer.delivered())
}

func TestProcessLogsDropCause(t *testing.T) {
	t.Parallel()

	accounts := fakeAccounts{
		"nogroup": {ID: "nogroup", Enabled: true, DMPolicy: config.PolicyOpen, GroupPolicy: config.PolicyDisabled},
	}
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	gate := policy.NewGate(quietLogger(), nil, policy.Commands{Prefix: "/"})
	p := NewProcessor(log, gate, nil, &recordingDeliverer{}, accounts)

	_, err := p.Process(context.Background(), "nogroup", nil, groupMessage("hello"))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), policy.ErrPolicyDenied.Error())
	assert.Contains(t, logs.String(), "group messages are disabled")

	logs.Reset()
	_, err = p.Process(context.Background(), "nogroup", nil, directMessage(" "))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), ErrEmptyMessage.Error())
}

func TestProcessBlocksUnauthorizedGroupCommand(t *testing.T) {
	t.Parallel()

	accounts := fakeAccounts{
		"bot": {ID: "bot", Enabled: true, DMPolicy: config.PolicyOpen, GroupPolicy: config.PolicyOpen, AllowFrom: []string{"999"}},
	}
	deliverer := &recordingDeliverer{}
	p := newTestProcessor(accounts, nil, deliverer)

	ok, err := p.Process(context.Background(), "bot", nil, groupMessage("/reset"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Process(context.Background(), "bot", nil, groupMessage("just chatting"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, deliverer.delivered()[0].Routing.CommandAuthorized)
}

func TestProcessKeepsOnlyIngestedMedia(t *testing.T) {
	t.Parallel()

	deliverer := &recordingDeliverer{}
	p := newTestProcessor(fakeAccounts{}, fakeIngester{keep: 1}, deliverer)

	msg := directMessage("[image: a.jpg][image: b.jpg]")
	msg.MediaAttachments = []onebot.MediaAttachment{
		{Kind: onebot.MediaImage, RemoteURL: "http://x/a", RemoteFileName: "a.jpg"},
		{Kind: onebot.MediaImage, RemoteURL: "http://x/b", RemoteFileName: "b.jpg"},
	}
	ok, err := p.Process(context.Background(), "bot", nil, msg)
	require.NoError(t, err)
	require.True(t, ok)

	got := deliverer.delivered()[0].Message.MediaAttachments
	require.Len(t, got, 1)
	assert.Equal(t, "/media/a.jpg", got[0].LocalPath)
	assert.Len(t, msg.MediaAttachments, 2, "input message must not be mutated")
	assert.Empty(t, msg.MediaAttachments[0].LocalPath)
}

func TestProcessReturnsDeliveryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	p := newTestProcessor(fakeAccounts{}, nil, &recordingDeliverer{err: boom})
	ok, err := p.Process(context.Background(), "bot", nil, directMessage("hello"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

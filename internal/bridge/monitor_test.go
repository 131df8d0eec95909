package bridge

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/qqbridge/internal/config"
	"github.com/memohai/qqbridge/internal/gateway"
)

const monitorToken = "tok"

type monitorFixture struct {
	server    *gateway.Server
	monitor   *Monitor
	deliverer *recordingDeliverer
}

func newMonitorFixture(t *testing.T, accounts fakeAccounts) *monitorFixture {
	t.Helper()
	reg := gateway.NewRegistry()
	corr := gateway.NewCorrelator(quietLogger(), reg, time.Second)
	srv := gateway.NewServer(quietLogger(), reg, gateway.NewHub(), corr, gateway.Options{})
	deliverer := &recordingDeliverer{ch: make(chan Inbound, 8)}
	gwCfg := config.GatewayConfig{BindHost: "127.0.0.1", BindPort: 0}
	mon := NewMonitor(quietLogger(), srv, newTestProcessor(accounts, nil, deliverer), gwCfg, accounts)
	t.Cleanup(func() {
		mon.StopAll()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &monitorFixture{server: srv, monitor: mon, deliverer: deliverer}
}

func (f *monitorFixture) dial(t *testing.T, selfID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+monitorToken)
	header.Set(gateway.HeaderSelfID, selfID)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+f.server.Addr()+"/", header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func botAccounts() fakeAccounts {
	return fakeAccounts{
		"bot": {ID: "bot", Enabled: true, Token: monitorToken, DMPolicy: config.PolicyOpen, GroupPolicy: config.PolicyOpen},
		"off": {ID: "off", Enabled: false, Token: monitorToken},
	}
}

func TestMonitorDeliversInboundMessages(t *testing.T) {
	t.Parallel()

	f := newMonitorFixture(t, botAccounts())
	require.NoError(t, f.monitor.Start(context.Background(), "bot"))
	client := f.dial(t, "bot")

	require.Eventually(t, func() bool {
		st, _ := f.monitor.Status("bot")
		return st.Connected
	}, 3*time.Second, 10*time.Millisecond)
	probe := f.monitor.Probe("bot")
	assert.True(t, probe.OK)
	require.NotNil(t, probe.ConnectedAt)
	assert.False(t, probe.ConnectedAt.IsZero())

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(
		`{"post_type":"message","message_type":"private","self_id":"bot","user_id":123,"sender":{"nickname":"Alice"},"message":[{"type":"text","data":{"text":"hi"}}]}`,
	)))
	select {
	case msg := <-f.deliverer.ch:
		assert.Equal(t, "bot", msg.AccountID)
		assert.Equal(t, "hi", msg.Message.Body)
		assert.Equal(t, "qq:123", msg.Routing.From)
	case <-time.After(3 * time.Second):
		t.Fatal("message was not delivered")
	}
	st, ok := f.monitor.Status("bot")
	require.True(t, ok)
	assert.True(t, st.Running)
	assert.NotNil(t, st.LastInboundAt)
}

func TestMonitorRejectsDisabledAndDuplicate(t *testing.T) {
	t.Parallel()

	f := newMonitorFixture(t, botAccounts())
	require.ErrorIs(t, f.monitor.Start(context.Background(), "off"), ErrAccountDisabled)
	require.NoError(t, f.monitor.Start(context.Background(), "bot"))
	require.ErrorIs(t, f.monitor.Start(context.Background(), "bot"), ErrAlreadyRunning)
}

func TestMonitorRearmsListenerAfterIdleTeardown(t *testing.T) {
	t.Parallel()

	f := newMonitorFixture(t, botAccounts())
	require.NoError(t, f.monitor.Start(context.Background(), "bot"))
	client := f.dial(t, "bot")
	require.Eventually(t, func() bool {
		st, _ := f.monitor.Status("bot")
		return st.Connected
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		st, _ := f.monitor.Status("bot")
		return !st.Connected && st.LastDisconnectedAt != nil
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, f.server.Listening, 3*time.Second, 10*time.Millisecond)

	f.dial(t, "bot")
	require.Eventually(t, func() bool {
		st, _ := f.monitor.Status("bot")
		return st.Connected
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMonitorStopKeepsListenerForRemainingAccounts(t *testing.T) {
	t.Parallel()

	accounts := botAccounts()
	accounts["second"] = config.Account{ID: "second", Enabled: true, Token: monitorToken, DMPolicy: config.PolicyOpen, GroupPolicy: config.PolicyOpen}
	f := newMonitorFixture(t, accounts)
	disconnected := make(chan string, 4)
	unsubscribe := f.server.Subscribe("", func(ev gateway.Event) {
		if ev.Type == gateway.EventDisconnected {
			disconnected <- ev.AccountID
		}
	})
	t.Cleanup(unsubscribe)
	require.NoError(t, f.monitor.Start(context.Background(), "bot"))
	require.NoError(t, f.monitor.Start(context.Background(), "second"))
	f.dial(t, "bot")
	require.Eventually(t, func() bool {
		_, ok := f.server.Registry().Get("bot")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	f.monitor.Stop("bot")
	select {
	case id := <-disconnected:
		require.Equal(t, "bot", id)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for bot to disconnect")
	}
	require.Eventually(t, f.server.Listening, 3*time.Second, 10*time.Millisecond)

	st, _ := f.monitor.Status("second")
	assert.True(t, st.Running)
	f.dial(t, "second")
	require.Eventually(t, func() bool {
		st, _ := f.monitor.Status("second")
		return st.Connected
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMonitorCancelDetachesWithoutClosing(t *testing.T) {
	t.Parallel()

	f := newMonitorFixture(t, botAccounts())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.monitor.Start(ctx, "bot"))
	f.dial(t, "bot")
	require.Eventually(t, func() bool {
		_, ok := f.server.Registry().Get("bot")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		st, _ := f.monitor.Status("bot")
		return !st.Running && st.LastStopAt != nil
	}, 3*time.Second, 10*time.Millisecond)
	_, ok := f.server.Registry().Get("bot")
	assert.True(t, ok, "abort must not close the shared connection")

	require.NoError(t, f.monitor.Start(context.Background(), "bot"))
}

func TestMonitorStopClosesConnection(t *testing.T) {
	t.Parallel()

	f := newMonitorFixture(t, botAccounts())
	require.NoError(t, f.monitor.Start(context.Background(), "bot"))
	client := f.dial(t, "bot")
	require.Eventually(t, func() bool {
		_, ok := f.server.Registry().Get("bot")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	f.monitor.Stop("bot")
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return !f.server.Listening() }, 3*time.Second, 10*time.Millisecond)

	st, _ := f.monitor.Status("bot")
	assert.False(t, st.Running)
	assert.False(t, f.monitor.Probe("bot").OK)
}

func TestMonitorMarkOutboundAndSnapshot(t *testing.T) {
	t.Parallel()

	f := newMonitorFixture(t, botAccounts())
	at := time.Unix(1700000000, 0)
	f.monitor.MarkOutbound("b", at)
	f.monitor.MarkOutbound("a", at)

	snap := f.monitor.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].AccountID)
	require.NotNil(t, snap[1].LastOutboundAt)
	assert.Equal(t, at, *snap[1].LastOutboundAt)
}

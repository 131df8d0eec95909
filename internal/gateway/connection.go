package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// socket is the part of *websocket.Conn a Connection writes through.
type socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Heartbeat configures per-connection liveness checks.
type Heartbeat struct {
	Interval    time.Duration
	PingAfter   time.Duration
	IdleTimeout time.Duration
}

// Connection is one authenticated gateway link for an account.
type Connection struct {
	accountID   string
	remoteAddr  string
	connectedAt time.Time
	sock        socket
	now         func() time.Time

	writeMu      sync.Mutex
	lastActivity atomic.Int64
	connected    atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	hbDone   chan struct{}
	hbActive atomic.Bool

	closeErr error
	done     chan struct{}
}

func newConnection(accountID, remoteAddr string, sock socket, now func() time.Time) *Connection {
	if now == nil {
		now = time.Now
	}
	c := &Connection{
		accountID:   accountID,
		remoteAddr:  remoteAddr,
		connectedAt: now(),
		sock:        sock,
		now:         now,
		stop:        make(chan struct{}),
		hbDone:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.connected.Store(true)
	c.Touch()
	return c
}

// AccountID returns the account served by this connection.
func (c *Connection) AccountID() string { return c.accountID }

// RemoteAddr returns the peer address seen at handshake.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// ConnectedAt returns when the handshake completed.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Connected reports whether the connection is still open.
func (c *Connection) Connected() bool { return c.connected.Load() }

// LastActivity returns the time of the last inbound frame or pong.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Touch records inbound activity.
func (c *Connection) Touch() {
	c.lastActivity.Store(c.now().UnixNano())
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection was closed.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// WriteJSON sends v as a text frame.
func (c *Connection) WriteJSON(v any) error {
	if !c.Connected() {
		return ErrNoActiveConnection
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

// Close stops the heartbeat, then closes the socket. It is safe to call more
// than once; only the first reason is kept.
func (c *Connection) Close(reason error) error {
	return c.shutdown(reason, true)
}

func (c *Connection) shutdown(reason error, waitHeartbeat bool) error {
	var err error
	c.stopOnce.Do(func() {
		c.connected.Store(false)
		close(c.stop)
		if waitHeartbeat && c.hbActive.Load() {
			<-c.hbDone
		}
		c.closeErr = reason
		msg := websocket.FormatCloseMessage(closeCode(reason), closeText(reason))
		c.writeMu.Lock()
		_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.sock.Close()
		close(c.done)
	})
	return err
}

func closeCode(reason error) int {
	switch {
	case reason == nil:
		return websocket.CloseNormalClosure
	case errors.Is(reason, ErrServerClosed):
		return websocket.CloseGoingAway
	case errors.Is(reason, ErrLivenessTimeout):
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

func closeText(reason error) string {
	if reason == nil {
		return ""
	}
	return reason.Error()
}

// startHeartbeat runs liveness checks until the connection closes.
func (c *Connection) startHeartbeat(hb Heartbeat) {
	if hb.Interval <= 0 {
		close(c.hbDone)
		return
	}
	c.hbActive.Store(true)
	go func() {
		defer close(c.hbDone)
		ticker := time.NewTicker(hb.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if err := c.tick(hb); err != nil {
					_ = c.shutdown(err, false)
					return
				}
			}
		}
	}()
}

// tick runs one liveness check. Idle past IdleTimeout yields
// ErrLivenessTimeout; idle past PingAfter sends a ping.
func (c *Connection) tick(hb Heartbeat) error {
	if !c.Connected() {
		return nil
	}
	idle := c.now().Sub(c.LastActivity())
	if idle > hb.IdleTimeout {
		return ErrLivenessTimeout
	}
	if idle > hb.PingAfter {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}
	return nil
}

package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/qqbridge/internal/onebot"
)

const (
	// HeaderSelfID carries the account id reported by the gateway process.
	HeaderSelfID = "X-Self-Id"

	DefaultHeartbeatInterval = 10 * time.Second
	DefaultPingAfter         = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxFrameBytes     = 4 << 20
	DefaultAccountID         = "default"
)

// ResponseSink receives action response frames.
type ResponseSink interface {
	Resolve(accountID string, resp onebot.Response) bool
	Abandon(accountID string, cause error) int
}

// Options tunes the server. Zero fields take defaults.
type Options struct {
	Heartbeat     Heartbeat
	MaxFrameBytes int64
	Decoder       onebot.Decoder
	Now           func() time.Time
	// DefaultAccountID receives handshakes that carry no X-Self-Id header.
	DefaultAccountID string
}

// StartOptions identifies the account asking for the listener.
type StartOptions struct {
	BindHost  string
	BindPort  int
	Token     string
	AccountID string
}

// Server accepts reverse WebSocket connections from gateway processes on
// one listener shared by every account.
type Server struct {
	logger    *slog.Logger
	registry  *Registry
	hub       *Hub
	responses ResponseSink
	opts      Options
	upgrader  websocket.Upgrader

	mu            sync.Mutex
	httpSrv       *http.Server
	listener      net.Listener
	requestedAddr string
	tokens        map[string]string
	closed        bool

	conns sync.WaitGroup
}

// NewServer creates a server. responses may be nil.
func NewServer(log *slog.Logger, registry *Registry, hub *Hub, responses ResponseSink, opts Options) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.Heartbeat.Interval <= 0 {
		opts.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if opts.Heartbeat.PingAfter <= 0 {
		opts.Heartbeat.PingAfter = DefaultPingAfter
	}
	if opts.Heartbeat.IdleTimeout <= 0 {
		opts.Heartbeat.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Decoder.Now == nil {
		opts.Decoder.Now = opts.Now
	}
	opts.DefaultAccountID = strings.TrimSpace(opts.DefaultAccountID)
	if opts.DefaultAccountID == "" {
		opts.DefaultAccountID = DefaultAccountID
	}
	return &Server{
		logger:    log.With(slog.String("component", "gateway")),
		registry:  registry,
		hub:       hub,
		responses: responses,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway process is not a browser; origin is not meaningful.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		tokens: map[string]string{},
	}
}

// Registry returns the connection registry the server mutates.
func (s *Server) Registry() *Registry { return s.registry }

// Subscribe registers handler for events of accountID, or of every account
// when accountID is empty.
func (s *Server) Subscribe(accountID string, handler Handler) func() {
	return s.hub.Subscribe(accountID, handler)
}

// Start opens the shared listener, or reuses it when already open, and
// records the account's expected token.
func (s *Server) Start(opts StartOptions) error {
	accountID := strings.TrimSpace(opts.AccountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(opts.Token) == "" {
		return fmt.Errorf("gateway token is required for account %s", accountID)
	}
	addr := net.JoinHostPort(opts.BindHost, strconv.Itoa(opts.BindPort))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.tokens[accountID] = opts.Token

	if s.listener != nil {
		if opts.BindPort != 0 && addr != s.requestedAddr {
			return fmt.Errorf("gateway already listening on %s, cannot bind %s", s.listener.Addr(), addr)
		}
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/", s.handleUpgrade)
	e.GET("/*", s.handleUpgrade)

	srv := &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpSrv = srv
	s.listener = ln
	s.requestedAddr = addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway listener stopped", slog.Any("error", err))
		}
	}()
	s.logger.Info("gateway listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("account_id", accountID),
	)
	return nil
}

// Addr returns the bound listener address, or "" when closed.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listening reports whether the shared listener is open.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Disconnect closes the account's connection, if any. The normal disconnect
// path then runs, including listener teardown when no account remains.
func (s *Server) Disconnect(accountID string) bool {
	conn, ok := s.registry.Get(accountID)
	if !ok {
		return false
	}
	_ = conn.Close(ErrAccountStopped)
	return true
}

// Shutdown closes the listener and every connection, then waits for the
// connection goroutines to exit or ctx to end. Start fails afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.closeListenerLocked()
	s.mu.Unlock()

	for _, conn := range s.registry.Snapshot() {
		_ = conn.Close(ErrServerClosed)
	}
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) closeListenerLocked() {
	if s.httpSrv == nil {
		return
	}
	_ = s.httpSrv.Close()
	s.httpSrv = nil
	s.listener = nil
}

// teardownIfIdle closes the listener once no account is connected.
func (s *Server) teardownIfIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil || !s.registry.IsEmpty() {
		return
	}
	s.logger.Info("no connected accounts, closing gateway listener")
	s.closeListenerLocked()
}

// authenticate resolves the account for a handshake. The claimed account's
// token is required when known, otherwise the default account's token.
func (s *Server) authenticate(header http.Header) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accountID := strings.TrimSpace(header.Get(HeaderSelfID))
	if accountID == "" {
		accountID = s.opts.DefaultAccountID
	}
	expected, ok := s.tokens[accountID]
	if !ok {
		expected = s.tokens[s.opts.DefaultAccountID]
	}
	got := bearerToken(header.Get(echo.HeaderAuthorization))
	if expected == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return accountID, ErrAuthRejected
	}
	return accountID, nil
}

func bearerToken(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return ""
}

func (s *Server) handleUpgrade(c echo.Context) error {
	req := c.Request()
	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("remote", req.RemoteAddr),
			slog.Any("error", err),
		)
		return nil
	}

	accountID, err := s.authenticate(req.Header)
	if err != nil {
		s.logger.Warn("rejecting gateway connection",
			slog.String("remote", req.RemoteAddr),
			slog.String("account_id", accountID),
			slog.String("reason", "invalid token"),
		)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		return nil
	}

	conn, err := s.register(accountID, req.RemoteAddr, ws)
	if err != nil {
		s.logger.Warn("rejecting gateway connection",
			slog.String("remote", req.RemoteAddr),
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error())
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		return nil
	}
	defer s.conns.Done()
	s.serveConn(conn, req.RemoteAddr, ws)
	return nil
}

// register binds ws to accountID unless Shutdown has already begun. It holds
// s.mu so a connection is either visible to Shutdown's snapshot or refused.
func (s *Server) register(accountID, remoteAddr string, ws *websocket.Conn) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	conn := newConnection(accountID, remoteAddr, ws, s.opts.Now)
	ws.SetReadLimit(s.opts.MaxFrameBytes)
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})
	s.conns.Add(1)
	if prev := s.registry.Set(accountID, conn); prev != nil {
		s.logger.Info("replaced existing gateway connection",
			slog.String("account_id", accountID),
			slog.String("previous_remote", prev.RemoteAddr()),
		)
	}
	return conn, nil
}

func (s *Server) serveConn(conn *Connection, remoteAddr string, ws *websocket.Conn) {
	accountID := conn.AccountID()
	conn.startHeartbeat(s.opts.Heartbeat)
	s.logger.Info("gateway connected",
		slog.String("account_id", accountID),
		slog.String("remote", remoteAddr),
	)
	s.hub.Publish(Event{Type: EventConnected, AccountID: accountID, At: s.opts.Now()})

	var cause error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		conn.Touch()
		s.handleFrame(accountID, data)
	}

	_ = conn.Close(cause)
	if reason := conn.Err(); reason != nil {
		cause = reason
	}
	if !s.registry.Release(conn) {
		// A newer connection owns the account now.
		return
	}
	if s.responses != nil {
		s.responses.Abandon(accountID, fmt.Errorf("connection closed: %v", cause))
	}
	s.teardownIfIdle()
	s.logger.Info("gateway disconnected",
		slog.String("account_id", accountID),
		slog.Any("error", cause),
	)
	s.hub.Publish(Event{Type: EventDisconnected, AccountID: accountID, At: s.opts.Now(), Err: cause})
}

func (s *Server) handleFrame(accountID string, data []byte) {
	if resp, ok := onebot.DecodeResponse(data); ok {
		if s.responses != nil {
			s.responses.Resolve(accountID, resp)
		}
		return
	}
	msg, err := s.opts.Decoder.Decode(data)
	if err != nil {
		s.logger.Warn("dropping undecodable frame",
			slog.String("account_id", accountID),
			slog.Int("bytes", len(data)),
			slog.Any("error", err),
		)
		return
	}
	if msg == nil {
		s.logFailedResponse(accountID, data)
		return
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	s.hub.Publish(Event{
		Type:      EventMessage,
		AccountID: accountID,
		At:        s.opts.Now(),
		Raw:       raw,
		Message:   msg,
	})
}

// logFailedResponse surfaces API failures that carry no echo token.
func (s *Server) logFailedResponse(accountID string, data []byte) {
	var resp onebot.Response
	if err := json.Unmarshal(data, &resp); err != nil || resp.Status == "" || resp.OK() {
		return
	}
	s.logger.Warn("gateway reported action failure",
		slog.String("account_id", accountID),
		slog.Int("retcode", resp.RetCode),
		slog.String("message", resp.ErrorMessage()),
	)
}

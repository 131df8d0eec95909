package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memohai/qqbridge/internal/onebot"
)

// DefaultSendTimeout bounds how long Send waits for a response.
const DefaultSendTimeout = 10 * time.Second

// Ack is a successful action response.
type Ack struct {
	Echo      string
	MessageID string
	At        time.Time
}

type sendResult struct {
	ack Ack
	err error
}

type pendingSend struct {
	accountID string
	action    string
	deadline  time.Time
	result    chan sendResult
}

// Correlator sends action frames over registered connections and matches
// responses to callers by echo token.
type Correlator struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
	prefix   string
	seq      atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingSend
}

// NewCorrelator creates a correlator over registry. A non-positive timeout
// selects DefaultSendTimeout.
func NewCorrelator(log *slog.Logger, registry *Registry, timeout time.Duration) *Correlator {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Correlator{
		registry: registry,
		logger:   log.With(slog.String("component", "correlator")),
		timeout:  timeout,
		prefix:   "qqbridge-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-",
		pending:  map[string]*pendingSend{},
	}
}

func (c *Correlator) nextToken() string {
	return c.prefix + strconv.FormatUint(c.seq.Add(1), 10)
}

// Send transmits action over the account's connection and waits for the
// matching response, the timeout, or ctx cancellation.
func (c *Correlator) Send(ctx context.Context, accountID, action string, params any) (Ack, error) {
	conn, ok := c.registry.Get(accountID)
	if !ok || !conn.Connected() {
		return Ack{}, fmt.Errorf("%w: account %s", ErrNoActiveConnection, accountID)
	}

	token := c.nextToken()
	p := &pendingSend{
		accountID: accountID,
		action:    action,
		deadline:  time.Now().Add(c.timeout),
		result:    make(chan sendResult, 1),
	}
	c.mu.Lock()
	c.pending[token] = p
	c.mu.Unlock()

	if err := conn.WriteJSON(onebot.Action{Action: action, Params: params, Echo: token}); err != nil {
		c.take(token)
		return Ack{}, fmt.Errorf("write %s: %w", action, err)
	}

	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	var waitErr error
	select {
	case res := <-p.result:
		return res.ack, res.err
	case <-timer.C:
		waitErr = fmt.Errorf("%w: %s after %s", ErrSendTimeout, action, c.timeout)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if c.take(token) != nil {
		if errors.Is(waitErr, ErrSendTimeout) {
			c.logger.Warn("action timed out",
				slog.String("account_id", accountID),
				slog.String("action", action),
				slog.String("echo", token),
			)
		}
		return Ack{}, waitErr
	}
	// Resolved concurrently with the deadline; the result is already queued.
	res := <-p.result
	return res.ack, res.err
}

// take removes and returns the pending entry for token.
func (c *Correlator) take(token string) *pendingSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[token]
	if !ok {
		return nil
	}
	delete(c.pending, token)
	return p
}

// Resolve completes the pending send matching resp.Echo. Unknown, late and
// duplicate tokens, and responses arriving on another account's connection,
// are ignored. It reports whether a pending send was completed.
func (c *Correlator) Resolve(accountID string, resp onebot.Response) bool {
	token := resp.Echo.String()
	c.mu.Lock()
	p, ok := c.pending[token]
	if ok && p.accountID != accountID {
		ok = false
	}
	if ok {
		delete(c.pending, token)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("response with unknown echo ignored",
			slog.String("account_id", accountID),
			slog.String("echo", token),
		)
		return false
	}

	if !resp.OK() {
		p.result <- sendResult{err: &ActionError{Action: p.action, Code: resp.RetCode, Message: resp.ErrorMessage()}}
		return true
	}
	p.result <- sendResult{ack: Ack{Echo: token, MessageID: resp.MessageID(), At: time.Now()}}
	return true
}

// Abandon fails every pending send for the account, used when its
// connection goes away.
func (c *Correlator) Abandon(accountID string, cause error) int {
	c.mu.Lock()
	var dropped []*pendingSend
	for token, p := range c.pending {
		if p.accountID == accountID {
			dropped = append(dropped, p)
			delete(c.pending, token)
		}
	}
	c.mu.Unlock()
	for _, p := range dropped {
		p.result <- sendResult{err: fmt.Errorf("%w: %v", ErrNoActiveConnection, cause)}
	}
	return len(dropped)
}

// Pending returns the number of outstanding sends.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

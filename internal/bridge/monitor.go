package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/memohai/qqbridge/internal/config"
	"github.com/memohai/qqbridge/internal/gateway"
)

const defaultQueueSize = 256

var (
	// ErrAccountDisabled indicates a monitor start for a disabled account.
	ErrAccountDisabled = errors.New("bridge: account disabled")
	// ErrAlreadyRunning indicates a second monitor for the same account.
	ErrAlreadyRunning = errors.New("bridge: account already monitored")
)

// Gateway is the gateway server surface used by Monitor.
type Gateway interface {
	Start(opts gateway.StartOptions) error
	Subscribe(accountID string, handler gateway.Handler) func()
	Disconnect(accountID string) bool
	Registry() *gateway.Registry
}

// Status is the runtime state of one monitored account.
type Status struct {
	AccountID          string     `json:"account_id"`
	Running            bool       `json:"running"`
	Connected          bool       `json:"connected"`
	LastStartAt        *time.Time `json:"last_start_at,omitempty"`
	LastStopAt         *time.Time `json:"last_stop_at,omitempty"`
	LastConnectedAt    *time.Time `json:"last_connected_at,omitempty"`
	LastDisconnectedAt *time.Time `json:"last_disconnected_at,omitempty"`
	LastInboundAt      *time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt     *time.Time `json:"last_outbound_at,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}

// ProbeResult reports whether an account can send right now.
type ProbeResult struct {
	OK          bool       `json:"ok"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Message     string     `json:"message"`
}

type inboundItem struct {
	ev gateway.Event
}

type accountRun struct {
	ctx         context.Context
	acct        config.Account
	cancel      context.CancelFunc
	unsubscribe func()
	queue       chan inboundItem
	done        chan struct{}
	stopped     chan struct{}
}

// Monitor subscribes accounts to the gateway and feeds their messages to a
// Processor, one worker per account so frames keep arrival order.
type Monitor struct {
	gateway   Gateway
	processor *Processor
	gwCfg     config.GatewayConfig
	accounts  AccountResolver
	logger    *slog.Logger
	now       func() time.Time
	queueSize int

	watch sync.Once

	mu     sync.Mutex
	status map[string]*Status
	runs   map[string]*accountRun
}

// NewMonitor creates a monitor for accounts served by gw.
func NewMonitor(log *slog.Logger, gw Gateway, processor *Processor, gwCfg config.GatewayConfig, accounts AccountResolver) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		gateway:   gw,
		processor: processor,
		gwCfg:     gwCfg,
		accounts:  accounts,
		logger:    log.With(slog.String("component", "monitor")),
		now:       time.Now,
		queueSize: defaultQueueSize,
		status:    map[string]*Status{},
		runs:      map[string]*accountRun{},
	}
}

// Start ensures the listener is open and subscribes accountID until ctx is
// cancelled. Cancellation only detaches the subscription; the connection
// stays open for other consumers. Use Stop to also close the connection.
func (m *Monitor) Start(ctx context.Context, accountID string) error {
	acct := m.accounts.ResolveAccount(accountID)
	if !acct.Enabled {
		return fmt.Errorf("%w: %s", ErrAccountDisabled, acct.ID)
	}

	m.mu.Lock()
	if _, ok := m.runs[acct.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, acct.ID)
	}
	m.mu.Unlock()

	if err := m.gateway.Start(m.startOptions(acct)); err != nil {
		m.update(acct.ID, func(s *Status) { s.LastError = err.Error() })
		return err
	}

	m.watch.Do(func() {
		m.gateway.Subscribe("", m.handleGatewayEvent)
	})

	runCtx, cancel := context.WithCancel(ctx)
	run := &accountRun{
		ctx:     runCtx,
		acct:    acct,
		cancel:  cancel,
		queue:   make(chan inboundItem, m.queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	m.mu.Lock()
	if _, ok := m.runs[acct.ID]; ok {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, acct.ID)
	}
	m.runs[acct.ID] = run
	m.mu.Unlock()

	run.unsubscribe = m.gateway.Subscribe(acct.ID, func(ev gateway.Event) {
		m.handleEvent(runCtx, acct, run, ev)
	})
	now := m.now()
	_, connected := m.gateway.Registry().Get(acct.ID)
	m.update(acct.ID, func(s *Status) {
		s.Running = true
		s.Connected = connected
		s.LastStartAt = &now
		s.LastError = ""
	})
	m.logger.Info("account monitor started", slog.String("account_id", acct.ID))

	go m.work(runCtx, acct.ID, run)
	go func() {
		<-runCtx.Done()
		m.detach(acct.ID, run)
	}()
	return nil
}

// Stop cancels the account's monitor and closes its connection.
func (m *Monitor) Stop(accountID string) {
	m.mu.Lock()
	run := m.runs[accountID]
	m.mu.Unlock()
	if run != nil {
		run.cancel()
		<-run.stopped
	}
	m.gateway.Disconnect(accountID)
}

// StopAll cancels every monitor without closing connections.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	runs := make([]*accountRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.Unlock()
	for _, run := range runs {
		run.cancel()
		<-run.stopped
	}
}

func (m *Monitor) detach(accountID string, run *accountRun) {
	defer close(run.stopped)
	run.unsubscribe()
	<-run.done
	m.mu.Lock()
	if m.runs[accountID] == run {
		delete(m.runs, accountID)
	}
	m.mu.Unlock()
	now := m.now()
	m.update(accountID, func(s *Status) {
		s.Running = false
		s.LastStopAt = &now
	})
	m.logger.Info("account monitor stopped", slog.String("account_id", accountID))
}

func (m *Monitor) startOptions(acct config.Account) gateway.StartOptions {
	return gateway.StartOptions{
		BindHost:  m.gwCfg.BindHost,
		BindPort:  m.gwCfg.BindPort,
		Token:     acct.Token,
		AccountID: acct.ID,
	}
}

// handleEvent runs on the connection's read goroutine. Status changes are
// applied inline; messages are queued for the account worker.
func (m *Monitor) handleEvent(ctx context.Context, acct config.Account, run *accountRun, ev gateway.Event) {
	at := ev.At
	switch ev.Type {
	case gateway.EventConnected:
		m.update(acct.ID, func(s *Status) {
			s.Connected = true
			s.LastConnectedAt = &at
			s.LastError = ""
		})
	case gateway.EventDisconnected:
		m.update(acct.ID, func(s *Status) {
			s.Connected = false
			s.LastDisconnectedAt = &at
			if ev.Err != nil && !errors.Is(ev.Err, gateway.ErrAccountStopped) {
				s.LastError = ev.Err.Error()
			}
		})
	case gateway.EventMessage:
		if ev.Message == nil {
			return
		}
		m.update(acct.ID, func(s *Status) { s.LastInboundAt = &at })
		select {
		case run.queue <- inboundItem{ev: ev}:
		case <-ctx.Done():
		default:
			m.logger.Warn("inbound message dropped",
				slog.String("account_id", acct.ID),
				slog.String("sender_id", ev.Message.SenderID),
				slog.String("reason", "inbound queue full"),
			)
		}
	}
}

// handleGatewayEvent sees disconnects of every account, including ones no
// longer monitored, and reopens the listener for the accounts still running.
func (m *Monitor) handleGatewayEvent(ev gateway.Event) {
	if ev.Type != gateway.EventDisconnected {
		return
	}
	m.rearm()
}

func (m *Monitor) rearm() {
	m.mu.Lock()
	accts := make([]config.Account, 0, len(m.runs))
	for _, run := range m.runs {
		if run.ctx.Err() == nil {
			accts = append(accts, run.acct)
		}
	}
	m.mu.Unlock()

	for _, acct := range accts {
		err := m.gateway.Start(m.startOptions(acct))
		if err == nil || errors.Is(err, gateway.ErrServerClosed) {
			continue
		}
		m.logger.Warn("gateway listener restart failed",
			slog.String("account_id", acct.ID),
			slog.Any("error", err),
		)
		m.update(acct.ID, func(s *Status) { s.LastError = err.Error() })
	}
}

func (m *Monitor) work(ctx context.Context, accountID string, run *accountRun) {
	defer close(run.done)
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-run.queue:
			if m.processor == nil {
				continue
			}
			if _, err := m.processor.Process(ctx, accountID, item.ev.Raw, *item.ev.Message); err != nil {
				m.update(accountID, func(s *Status) { s.LastError = err.Error() })
			}
		}
	}
}

// MarkOutbound records a delivered outbound message.
func (m *Monitor) MarkOutbound(accountID string, at time.Time) {
	m.update(accountID, func(s *Status) { s.LastOutboundAt = &at })
}

func (m *Monitor) update(accountID string, fn func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[accountID]
	if !ok {
		st = &Status{AccountID: accountID}
		m.status[accountID] = st
	}
	fn(st)
}

// Status returns the account's status snapshot.
func (m *Monitor) Status(accountID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[accountID]
	if !ok {
		return Status{AccountID: accountID}, false
	}
	return *st, true
}

// Snapshot returns every known account status ordered by account id.
func (m *Monitor) Snapshot() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, *st)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Probe checks whether the account has a live connection.
func (m *Monitor) Probe(accountID string) ProbeResult {
	if conn, ok := m.gateway.Registry().Get(accountID); ok && conn.Connected() {
		at := conn.ConnectedAt()
		return ProbeResult{OK: true, Connected: true, ConnectedAt: &at, Message: "active connection found"}
	}
	return ProbeResult{
		OK: false,
		Message: fmt.Sprintf(
			"no active connection for account %s; ensure the gateway connects to ws://%s",
			accountID, m.gwCfg.Addr(),
		),
	}
}

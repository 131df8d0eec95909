package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/memohai/qqbridge/internal/onebot"
)

// EventType classifies gateway notifications.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventMessage      EventType = "message"
)

// Event is one notification fanned out to subscribers.
type Event struct {
	Type      EventType
	AccountID string
	At        time.Time
	// Raw and Message are set for EventMessage.
	Raw     json.RawMessage
	Message *onebot.ParsedMessage
	// Err is the close reason for EventDisconnected.
	Err error
}

// Handler receives events. Handlers run on the publishing connection's read
// goroutine, so frames of one connection are delivered in arrival order.
type Handler func(Event)

type subscription struct {
	accountID string
	handler   Handler
}

// Hub fans events out to subscribers. Subscriptions are scoped to one
// account, or to all accounts when the account id is empty.
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]subscription
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[uint64]subscription{}}
}

// Subscribe registers handler and returns a function that removes it. The
// returned function is idempotent.
func (h *Hub) Subscribe(accountID string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = subscription{accountID: strings.TrimSpace(accountID), handler: handler}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.accountID == "" || sub.accountID == ev.AccountID {
			handlers = append(handlers, sub.handler)
		}
	}
	h.mu.RUnlock()
	for _, handler := range handlers {
		handler(ev)
	}
}

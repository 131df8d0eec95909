package gateway

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps account ids to their live connection. It is created via
// NewRegistry and passed explicitly to the server and the correlator.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: map[string]*Connection{},
	}
}

// Get returns the connection registered for the account.
func (r *Registry) Get(accountID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[strings.TrimSpace(accountID)]
	return conn, ok
}

// Set registers conn for the account. A previously registered connection is
// closed and returned.
func (r *Registry) Set(accountID string, conn *Connection) *Connection {
	accountID = strings.TrimSpace(accountID)
	r.mu.Lock()
	prev := r.conns[accountID]
	r.conns[accountID] = conn
	r.mu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close(ErrConnectionReplaced)
		return prev
	}
	return nil
}

// Remove deletes whatever connection is registered for the account.
func (r *Registry) Remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, strings.TrimSpace(accountID))
}

// Release removes conn only if it is still the registered connection for its
// account. It reports whether an entry was removed.
func (r *Registry) Release(conn *Connection) bool {
	if conn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[conn.AccountID()]; ok && current == conn {
		delete(r.conns, conn.AccountID())
		return true
	}
	return false
}

// IsEmpty reports whether no connection is registered.
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns) == 0
}

// Accounts returns the registered account ids in sorted order.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the registered connections.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		items = append(items, conn)
	}
	return items
}

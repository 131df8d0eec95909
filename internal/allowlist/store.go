// Package allowlist persists sender ids approved at runtime, on top of the
// allow lists written in configuration.
package allowlist

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrInvalidEntry indicates a blank sender id or channel.
	ErrInvalidEntry = errors.New("allowlist: invalid entry")
	// ErrNotFound indicates a removal of an id that is not listed.
	ErrNotFound = errors.New("allowlist: entry not found")
)

// Store reads and edits the persisted allow list of a channel.
type Store interface {
	ReadAllowFrom(ctx context.Context, channel string) ([]string, error)
	Add(ctx context.Context, channel, senderID string) error
	Remove(ctx context.Context, channel, senderID string) error
}

// Memory is an in-process Store used when no database is configured.
// Entries do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: map[string][]string{}}
}

func (m *Memory) ReadAllowFrom(_ context.Context, channel string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries[channel]), nil
}

func (m *Memory) Add(_ context.Context, channel, senderID string) error {
	channel, senderID, err := normalize(channel, senderID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.entries[channel], senderID) {
		return nil
	}
	m.entries[channel] = append(m.entries[channel], senderID)
	return nil
}

func (m *Memory) Remove(_ context.Context, channel, senderID string) error {
	channel, senderID, err := normalize(channel, senderID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[channel]
	idx := slices.Index(list, senderID)
	if idx < 0 {
		return ErrNotFound
	}
	m.entries[channel] = slices.Delete(list, idx, idx+1)
	return nil
}

// normalize trims both values and drops a leading "qq:" from the id.
func normalize(channel, senderID string) (string, string, error) {
	channel = strings.TrimSpace(channel)
	senderID = strings.TrimSpace(senderID)
	if len(senderID) > 3 && strings.EqualFold(senderID[:3], "qq:") {
		senderID = strings.TrimSpace(senderID[3:])
	}
	if channel == "" || senderID == "" {
		return "", "", ErrInvalidEntry
	}
	return channel, senderID, nil
}

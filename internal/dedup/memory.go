package dedup

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Memory is a process-lifetime Deduplicator backed by a set. Safe for
// concurrent use.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

var _ Deduplicator = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]struct{})}
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *Memory) Mark(_ context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("dedup: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	return nil
}

func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errors.New("dedup: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = make(map[string]struct{})
	return nil
}

// Len returns the number of recorded keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

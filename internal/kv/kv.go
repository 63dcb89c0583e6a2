// Package kv provides the key/value storage tiers trackers persist tokens and
// session state into: an in-memory session tier, a file-backed local tier and a
// SQLite-backed extension tier.
package kv

import (
	"context"
	"sync"
)

// Store is the get/set/has capability every storage tier exposes.
// Get returns an empty string for missing keys; setting an empty value deletes the key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Has(ctx context.Context, key string) (bool, error)
}

// Memory is a process-lifetime store, used as the session tier.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value for key, or "" if absent.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

// Set stores value under key. An empty value removes the key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == "" {
		delete(m.values, key)
		return nil
	}
	m.values[key] = value
	return nil
}

// Has reports whether key holds a value.
func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok, nil
}

// Package store defines the durable key-value interface the sync engine
// persists its state through.
package store

import (
	"context"
	"sync"
)

// Keys of the independent records owned by the sync engine. Each record is
// recoverable on its own.
const (
	KeyMutationQueue  = "noor:sync:mutation_queue"
	KeySyncTimestamps = "noor:sync:timestamps"
	KeySyncInProgress = "noor:sync:in_progress"
)

// KeyValue is a durable string key-value store.
// Get reports ok=false for a missing key and never returns an error for it.
type KeyValue interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Memory is an in-process KeyValue. It does not survive restarts and is
// intended for tests and ephemeral engines.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get implements KeyValue.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements KeyValue.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Remove implements KeyValue.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Snapshot returns a copy of all stored pairs.
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

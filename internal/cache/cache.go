package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMiss is returned when a key is absent or its TTL has elapsed.
var ErrMiss = errors.New("cache miss")

// Store is the minimal TTL cache contract shared by the location
// override, FX rate, geofence radius and country-currency caches.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	val []byte
	exp time.Time
}

// Memory is an in-process Store used when Redis is not configured and
// in tests. Expired entries are evicted lazily on read.
type Memory struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{store: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !e.exp.IsZero() && m.now().After(e.exp) {
		m.mu.Lock()
		delete(m.store, key)
		m.mu.Unlock()
		return nil, ErrMiss
	}
	return e.val, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := memoryEntry{val: val}
	if ttl > 0 {
		e.exp = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.store[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.store, key)
	m.mu.Unlock()
	return nil
}

// Package cache is the durable price cache: a persisted map from symbol to
// {record, timestamp}. The resolver is its only writer.
package cache

import (
	"sync"
	"time"

	"portfoliowatch/internal/model"
)

// Store is the narrow read/write surface the resolver owns.
type Store interface {
	// Get returns the cached record and its write time. ok is false when the
	// symbol has never been cached.
	Get(symbol string) (rec *model.PriceRecord, at time.Time, ok bool, err error)
	Put(symbol string, rec *model.PriceRecord, at time.Time) error
	Delete(symbol string) error
	Clear() error
	Close() error
}

// MemoryStore is a non-durable Store for tests and as a fallback when the
// on-disk store cannot be opened.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.CacheEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]model.CacheEntry)}
}

func (m *MemoryStore) Get(symbol string) (*model.PriceRecord, time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[symbol]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	rec := e.Data
	return &rec, time.UnixMilli(e.Timestamp), true, nil
}

func (m *MemoryStore) Put(symbol string, rec *model.PriceRecord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[symbol] = model.CacheEntry{Data: *rec, Timestamp: at.UnixMilli()}
	return nil
}

func (m *MemoryStore) Delete(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, symbol)
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]model.CacheEntry)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

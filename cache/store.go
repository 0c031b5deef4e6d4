package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Store is an interface for a response store.
// It keeps JSON values keyed by the full request URL, together with the time they were stored.
// Freshness is never evaluated here: callers compare the entry age against their own TTL,
// and entries stay until they are overwritten, deleted or cleared.
//
// Implementations must be thread-safe!
type Store interface {
	// Get returns the entry for the given key, if it exists.
	Get(key string) (Entry, bool, error)
	// Put stores the value under the given key, replacing any previous entry.
	Put(key string, value json.RawMessage, storedAt time.Time) error
	// Delete removes the entry for the given key.
	Delete(key string) error
	// DeleteWhere removes every entry whose key satisfies the predicate.
	// It returns the number of removed entries.
	DeleteWhere(match func(key string) bool) (int, error)
	// Clear removes all entries.
	Clear() error
	// Len returns the number of stored entries.
	Len() (int, error)
	// Close releases the resources held by the store.
	Close() error
}

// Entry is a stored response value.
// It is only ever replaced as a whole.
type Entry struct {
	Value    json.RawMessage
	StoredAt time.Time
}

// Age returns how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

type MemStore struct {
	mutex *sync.RWMutex
	db    map[string]Entry
}

func NewMemStore() MemStore {
	return MemStore{
		mutex: &sync.RWMutex{},
		db:    make(map[string]Entry),
	}
}

func (m MemStore) Get(key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[key]
	return entry, ok, nil
}

func (m MemStore) Put(key string, value json.RawMessage, storedAt time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = Entry{Value: value, StoredAt: storedAt}
	return nil
}

func (m MemStore) Delete(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemStore) DeleteWhere(match func(key string) bool) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	removed := 0
	for key := range m.db {
		if match(key) {
			delete(m.db, key)
			removed++
		}
	}
	return removed, nil
}

func (m MemStore) Clear() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	clear(m.db)
	return nil
}

func (m MemStore) Len() (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.db), nil
}

func (m MemStore) Close() error {
	return m.Clear()
}

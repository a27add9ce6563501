package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Used for tests and for
// state_storage.type "memory".
type MemoryStore struct {
	mu      sync.RWMutex
	stores  map[string]map[string]CacheRecord
	values  map[string][]byte
	failing error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stores: make(map[string]map[string]CacheRecord),
		values: make(map[string][]byte),
	}
}

// FailWith makes every subsequent call return err until cleared with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = err
}

func (m *MemoryStore) fail(op, key string) error {
	if m.failing == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: m.failing}
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) CreateCacheStore(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create store", name); err != nil {
		return err
	}
	if _, ok := m.stores[name]; !ok {
		m.stores[name] = make(map[string]CacheRecord)
	}
	return nil
}

func (m *MemoryStore) ListCacheStores(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("list stores", ""); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) DeleteCacheStore(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete store", name); err != nil {
		return err
	}
	delete(m.stores, name)
	return nil
}

func (m *MemoryStore) GetCacheEntry(ctx context.Context, storeName, key string) (*CacheRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("get entry", key); err != nil {
		return nil, err
	}
	rec, ok := m.stores[storeName][key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) PutCacheEntry(ctx context.Context, record *CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("put entry", record.Key); err != nil {
		return err
	}
	entries, ok := m.stores[record.StoreName]
	if !ok {
		entries = make(map[string]CacheRecord)
		m.stores[record.StoreName] = entries
	}
	rec := *record
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	entries[record.Key] = rec
	return nil
}

func (m *MemoryStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("get value", key); err != nil {
		return nil, err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) PutValue(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("put value", key); err != nil {
		return err
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

var _ Store = (*MemoryStore)(nil)

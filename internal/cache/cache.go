// Package cache implements named, versioned stores of captured responses.
//
// A store is identified by name and version. Bumping the version opens a new,
// empty store; the old one is reclaimed by DeleteStoresNotMatching at startup.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/store"
)

// ErrStoreClosed is returned by Put against a store that is not open in this
// process, or was reclaimed.
var ErrStoreClosed = errors.New("cache store is not open")

// Entry is an immutable captured response.
type Entry struct {
	Key      string
	Payload  []byte
	Headers  map[string]string
	StoredAt time.Time
}

type Store struct {
	Name    string
	Version int
}

// ID is the physical store name, e.g. "pwa-crm-v1".
func (s Store) ID() string {
	return fmt.Sprintf("%s-v%d", s.Name, s.Version)
}

type Manager struct {
	backend store.Store

	mu   sync.RWMutex
	live map[string]Store
}

func NewManager(backend store.Store) *Manager {
	return &Manager{
		backend: backend,
		live:    make(map[string]Store),
	}
}

// Open returns the store for name+version, creating it if needed.
func (m *Manager) Open(ctx context.Context, name string, version int) (Store, error) {
	s := Store{Name: name, Version: version}
	if strings.TrimSpace(name) == "" {
		return s, fmt.Errorf("cache store name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[s.ID()]; ok {
		return s, nil
	}
	if err := m.backend.CreateCacheStore(ctx, s.ID()); err != nil {
		return s, fmt.Errorf("failed to open cache store %s: %w", s.ID(), err)
	}
	m.live[s.ID()] = s
	return s, nil
}

// Get returns the entry for key, or nil when the store holds none.
func (m *Manager) Get(ctx context.Context, s Store, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.live[s.ID()]; !ok {
		return nil, nil
	}
	rec, err := m.backend.GetCacheEntry(ctx, s.ID(), key)
	if err != nil || rec == nil {
		return nil, err
	}
	return &Entry{
		Key:      rec.Key,
		Payload:  rec.Payload,
		Headers:  rec.Headers,
		StoredAt: rec.StoredAt,
	}, nil
}

// Put replaces any entry stored under key.
func (m *Manager) Put(ctx context.Context, s Store, key string, e Entry) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.live[s.ID()]; !ok {
		return fmt.Errorf("%w: %s", ErrStoreClosed, s.ID())
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	return m.backend.PutCacheEntry(ctx, &store.CacheRecord{
		StoreName: s.ID(),
		Key:       key,
		Payload:   e.Payload,
		Headers:   e.Headers,
		StoredAt:  storedAt,
	})
}

// DeleteStoresNotMatching reclaims every store whose id is not in current.
// Stores are unregistered before their rows are deleted, so readers see
// either the whole store or nothing. Failures are logged and skipped.
func (m *Manager) DeleteStoresNotMatching(ctx context.Context, current []string) {
	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}

	names, err := m.backend.ListCacheStores(ctx)
	if err != nil {
		logger.Log.Warn("Failed to list cache stores", zap.Error(err))
		return
	}

	for _, id := range names {
		if _, ok := keep[id]; ok {
			continue
		}
		m.mu.Lock()
		delete(m.live, id)
		m.mu.Unlock()

		if err := m.backend.DeleteCacheStore(ctx, id); err != nil {
			logger.Log.Warn("Failed to delete cache store", zap.String("store", id), zap.Error(err))
			continue
		}
		logger.Log.Info("Deleted superseded cache store", zap.String("store", id))
	}
}

// Key builds the request identity used as a cache key.
func Key(method, rawURL string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return method + " " + rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	return method + " " + u.String()
}

package store

import (
	"context"
)

type Store interface {
	// Cache stores
	CreateCacheStore(ctx context.Context, name string) error
	ListCacheStores(ctx context.Context) ([]string, error)
	DeleteCacheStore(ctx context.Context, name string) error

	// Cache entries
	GetCacheEntry(ctx context.Context, storeName, key string) (*CacheRecord, error)
	PutCacheEntry(ctx context.Context, record *CacheRecord) error

	// Key/value blobs
	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error

	// General
	Close() error
}

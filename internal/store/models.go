package store

import (
	"fmt"
	"time"
)

type CacheRecord struct {
	StoreName string            `db:"store_name"`
	Key       string            `db:"cache_key"`
	Payload   []byte            `db:"payload"`
	Headers   map[string]string `db:"headers"`
	StoredAt  time.Time         `db:"stored_at"`
}

// StorageError reports a failed read or write against the state store.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

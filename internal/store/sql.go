package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offline-sync-service/internal/database"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cache_stores (
		name TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		store_name TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		payload BLOB NOT NULL,
		headers TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (store_name, key_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS kv_values (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS cache_stores (
		name VARCHAR(128) PRIMARY KEY,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		store_name VARCHAR(128) NOT NULL,
		key_hash CHAR(64) NOT NULL,
		cache_key TEXT NOT NULL,
		payload LONGBLOB NOT NULL,
		headers TEXT NOT NULL,
		stored_at BIGINT NOT NULL,
		PRIMARY KEY (store_name, key_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS kv_values (
		k VARCHAR(255) PRIMARY KEY,
		v LONGBLOB NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

type queries struct {
	createStore string
	putEntry    string
	putValue    string
}

var sqliteQueries = queries{
	createStore: `INSERT OR IGNORE INTO cache_stores (name, created_at) VALUES (?, ?)`,
	putEntry: `INSERT INTO cache_entries (store_name, key_hash, cache_key, payload, headers, stored_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(store_name, key_hash) DO UPDATE SET
			  cache_key = excluded.cache_key,
			  payload = excluded.payload,
			  headers = excluded.headers,
			  stored_at = excluded.stored_at`,
	putValue: `INSERT INTO kv_values (k, v, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
}

var mysqlQueries = queries{
	createStore: `INSERT IGNORE INTO cache_stores (name, created_at) VALUES (?, ?)`,
	putEntry: `INSERT INTO cache_entries (store_name, key_hash, cache_key, payload, headers, stored_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  cache_key = VALUES(cache_key),
			  payload = VALUES(payload),
			  headers = VALUES(headers),
			  stored_at = VALUES(stored_at)`,
	putValue: `INSERT INTO kv_values (k, v, updated_at) VALUES (?, ?, ?)
			  ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = VALUES(updated_at)`,
}

// SQLStore persists cache stores and key/value blobs in the local database.
type SQLStore struct {
	db *database.Database
	q  queries
}

func NewSQLStore(ctx context.Context, db *database.Database) (*SQLStore, error) {
	schema, q := sqliteSchema, sqliteQueries
	if db.Dialect == database.DialectMySQL {
		schema, q = mysqlSchema, mysqlQueries
	}
	for _, stmt := range schema {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &SQLStore{db: db, q: q}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateCacheStore(ctx context.Context, name string) error {
	if _, err := s.db.DB.ExecContext(ctx, s.q.createStore, name, time.Now().UTC().UnixMilli()); err != nil {
		return &StorageError{Op: "create store", Key: name, Err: err}
	}
	return nil
}

func (s *SQLStore) ListCacheStores(ctx context.Context) ([]string, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT name FROM cache_stores ORDER BY name`)
	if err != nil {
		return nil, &StorageError{Op: "list stores", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &StorageError{Op: "list stores", Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list stores", Err: err}
	}
	return names, nil
}

// DeleteCacheStore drops the store and all of its entries in one transaction.
func (s *SQLStore) DeleteCacheStore(ctx context.Context, name string) error {
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE store_name = ?`, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_stores WHERE name = ?`, name)
		return err
	})
	if err != nil {
		return &StorageError{Op: "delete store", Key: name, Err: err}
	}
	return nil
}

func (s *SQLStore) GetCacheEntry(ctx context.Context, storeName, key string) (*CacheRecord, error) {
	query := `SELECT store_name, cache_key, payload, headers, stored_at
			  FROM cache_entries WHERE store_name = ? AND key_hash = ?`

	row := s.db.DB.QueryRowContext(ctx, query, storeName, hashKey(key))

	var (
		rec      CacheRecord
		headers  string
		storedAt int64
	)
	err := row.Scan(&rec.StoreName, &rec.Key, &rec.Payload, &headers, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get entry", Key: key, Err: err}
	}
	if err := json.Unmarshal([]byte(headers), &rec.Headers); err != nil {
		return nil, &StorageError{Op: "decode headers", Key: key, Err: err}
	}
	rec.StoredAt = time.UnixMilli(storedAt).UTC()

	return &rec, nil
}

func (s *SQLStore) PutCacheEntry(ctx context.Context, record *CacheRecord) error {
	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return &StorageError{Op: "encode headers", Key: record.Key, Err: err}
	}
	storedAt := record.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	payload := record.Payload
	if payload == nil {
		payload = []byte{}
	}

	_, err = s.db.DB.ExecContext(ctx, s.q.putEntry,
		record.StoreName,
		hashKey(record.Key),
		record.Key,
		payload,
		string(headers),
		storedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return &StorageError{Op: "put entry", Key: record.Key, Err: err}
	}
	return nil
}

func (s *SQLStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.DB.QueryRowContext(ctx, `SELECT v FROM kv_values WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get value", Key: key, Err: err}
	}
	return v, nil
}

func (s *SQLStore) PutValue(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.DB.ExecContext(ctx, s.q.putValue, key, value, time.Now().UTC().UnixMilli()); err != nil {
		return &StorageError{Op: "put value", Key: key, Err: err}
	}
	return nil
}

// hashKey gives request identities of any length a fixed-size primary key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

var _ Store = (*SQLStore)(nil)

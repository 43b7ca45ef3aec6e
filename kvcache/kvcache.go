// Package kvcache is a TTL key-value cache over SQLite.
//
// Backing the cache with the shared database, rather than process memory,
// means every worker and the HTTP process see the same entries and prefix
// invalidation takes effect everywhere at once. Expiry is lazy: reads skip
// stale rows and PurgeExpired reclaims them in bulk.
//
// Usage:
//
//	cache, err := kvcache.New(db)
//	cache.Set(ctx, kvcache.Key("rec", userID, sig), payload, 10*time.Minute)
//	blob, ok, err := cache.Get(ctx, kvcache.Key("rec", userID, sig))
package kvcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at)
	WHERE expires_at IS NOT NULL;
`

// Cache is a TTL key-value store on a shared SQLite database.
type Cache struct {
	db *sql.DB
}

// New creates the cache and its table.
func New(db *sql.DB) (*Cache, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("kvcache: create schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Key joins an operation name and its parts into a namespaced cache key.
func Key(op string, parts ...string) string {
	if len(parts) == 0 {
		return op
	}
	return op + ":" + strings.Join(parts, ":")
}

// Get returns the value for key. Expired entries read as missing.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expires sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvcache: get %q: %w", key, err)
	}
	if expires.Valid && expires.Int64 <= time.Now().Unix() {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key. A ttl <= 0 means the entry never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: time.Now().Add(ttl).Unix(), Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, expires, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("kvcache: set %q: %w", key, err)
	}
	return nil
}

// Delete removes one entry. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kvcache: delete %q: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix. This is
// how a write invalidates all cached recommendation sets at once.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("kvcache: refusing empty prefix")
	}
	var err error
	if end := prefixEnd(prefix); end == "" {
		_, err = c.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE key >= ?`, prefix)
	} else {
		_, err = c.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE key >= ? AND key < ?`, prefix, end)
	}
	if err != nil {
		return fmt.Errorf("kvcache: delete prefix %q: %w", prefix, err)
	}
	return nil
}

// prefixEnd returns the smallest string greater than every string with the
// given prefix, under SQLite's BINARY collation (bytewise compare). It
// increments the last byte below 0xff and truncates after it. An all-0xff
// prefix has no upper bound; the caller falls back to a lower-bound-only
// range.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// PurgeExpired reclaims expired rows and returns how many were removed.
// Meant to run periodically from a maintenance goroutine.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("kvcache: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

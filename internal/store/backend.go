package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/redis"
)

// ErrNotFound is returned by a Backend for a missing key.
var ErrNotFound = errors.New("store: key not found")

// Backend is a byte-oriented key/value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// OpenBackend builds the backend selected by cfg. It returns a nil Backend
// for the "none" backend.
func OpenBackend(cfg config.StoreConfig, redisCfg config.RedisConfig) (Backend, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil
	case "sqlite":
		return NewSQLiteBackend(cfg.Path)
	case "redis":
		client, err := pkgredis.NewClient(redisCfg)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return NewRedisBackend(client), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// ---------- SQLite ----------

// SQLiteBackend keeps entries in a single-table SQLite database file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating store schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := b.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

func (b *SQLiteBackend) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM kv WHERE substr(key, 1, ?) = ?", len(prefix), prefix)
	if err != nil {
		return fmt.Errorf("deleting prefix %s: %w", prefix, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// ---------- Redis ----------

// RedisBackend stores entries as plain Redis keys.
type RedisBackend struct {
	client *pkgredis.Client
}

// NewRedisBackend wraps an open client.
func NewRedisBackend(client *pkgredis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := b.client.Get(ctx, key)
	if pkgredis.IsNilError(err) {
		return nil, ErrNotFound
	}
	return value, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return b.client.Set(ctx, key, value, 0)
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	return b.client.Del(ctx, keys...)
}

func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := b.client.FlushByPattern(ctx, prefix+"*")
	return err
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Ping reports whether Redis is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

// ---------- Memory ----------

// MemoryBackend is a process-local Backend.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		delete(b.data, key)
	}
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.data {
		if strings.HasPrefix(key, prefix) {
			delete(b.data, key)
		}
	}
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

// Keys returns the stored keys.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data))
	for key := range b.data {
		keys = append(keys, key)
	}
	return keys
}

// Package store persists the document snapshot between runs so startup can
// skip refetching the corpus. It is a best-effort cache: failures are
// logged and reported as misses, never returned.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// SchemaVersion is bumped whenever the snapshot encoding changes.
const SchemaVersion = 1

// DefaultTTL is how long a saved snapshot is served.
const DefaultTTL = 24 * time.Hour

const (
	keyPrefix = "obras-search:"
	schemaKey = keyPrefix + "schema"
)

// Meta describes the saved snapshot.
type Meta struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Documents int       `json:"documents"`
	Bytes     int       `json:"bytes"`
}

// PersistentCache stores one document snapshot in a Backend.
type PersistentCache struct {
	backend Backend
	ttl     time.Duration
	schema  int
	now     func() time.Time
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *slog.Logger
}

// Option customizes a PersistentCache.
type Option func(*PersistentCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *PersistentCache) { c.now = now }
}

// WithSchemaVersion overrides SchemaVersion.
func WithSchemaVersion(v int) Option {
	return func(c *PersistentCache) { c.schema = v }
}

// New wraps backend, which may be nil for a cache that stores nothing.
// Entries written under a different schema version are purged.
func New(ctx context.Context, backend Backend, ttl time.Duration, opts ...Option) (*PersistentCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	c := &PersistentCache{
		backend: backend,
		ttl:     ttl,
		schema:  SchemaVersion,
		now:     time.Now,
		encoder: encoder,
		decoder: decoder,
		logger:  slog.Default().With("component", "persistent-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.migrate(ctx)
	return c, nil
}

func (c *PersistentCache) snapshotKey() string {
	return keyPrefix + "v" + strconv.Itoa(c.schema) + ":snapshot"
}

func (c *PersistentCache) metaKey() string {
	return keyPrefix + "v" + strconv.Itoa(c.schema) + ":meta"
}

func (c *PersistentCache) migrate(ctx context.Context) {
	if c.backend == nil {
		return
	}
	want := strconv.Itoa(c.schema)
	stored, err := c.backend.Get(ctx, schemaKey)
	switch {
	case err == nil && string(stored) == want:
		return
	case err != nil && !errors.Is(err, ErrNotFound):
		c.logger.Warn("reading schema version failed", "error", err)
		return
	}
	if err := c.backend.DeletePrefix(ctx, keyPrefix); err != nil {
		c.logger.Warn("purging old schema failed", "error", err)
		return
	}
	if err := c.backend.Set(ctx, schemaKey, []byte(want)); err != nil {
		c.logger.Warn("writing schema version failed", "error", err)
		return
	}
	c.logger.Info("store schema initialized", "previous", string(stored), "schema", c.schema)
}

// GetIndex returns the saved documents, or nil when there is no snapshot,
// it is older than the TTL, or it cannot be read. A stale snapshot is left
// in place.
func (c *PersistentCache) GetIndex(ctx context.Context) []proto.Document {
	meta, ok := c.meta(ctx)
	if !ok {
		return nil
	}
	if age := c.now().Sub(meta.Timestamp); age > c.ttl {
		c.logger.Info("snapshot expired", "age", age, "version", meta.Version)
		return nil
	}
	data, err := c.backend.Get(ctx, c.snapshotKey())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("reading snapshot failed", "error", err)
		}
		return nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		c.logger.Warn("decompressing snapshot failed", "error", err)
		return nil
	}
	var docs []proto.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		c.logger.Warn("decoding snapshot failed", "error", err)
		return nil
	}
	c.logger.Debug("snapshot loaded", "documents", len(docs), "version", meta.Version)
	return docs
}

// SaveIndex replaces the snapshot with docs tagged with version.
func (c *PersistentCache) SaveIndex(ctx context.Context, docs []proto.Document, version string) {
	if c.backend == nil {
		return
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		c.logger.Warn("encoding snapshot failed", "error", err)
		return
	}
	data := c.encoder.EncodeAll(raw, nil)
	if err := c.backend.Set(ctx, c.snapshotKey(), data); err != nil {
		c.logger.Warn("writing snapshot failed", "error", err)
		return
	}
	meta, err := json.Marshal(Meta{
		Version:   version,
		Timestamp: c.now(),
		Documents: len(docs),
		Bytes:     len(data),
	})
	if err != nil {
		c.logger.Warn("encoding snapshot meta failed", "error", err)
		return
	}
	if err := c.backend.Set(ctx, c.metaKey(), meta); err != nil {
		c.logger.Warn("writing snapshot meta failed", "error", err)
		return
	}
	c.logger.Info("snapshot saved",
		"documents", len(docs),
		"version", version,
		"raw_bytes", len(raw),
		"stored_bytes", len(data),
	)
}

// ClearIndex removes the snapshot.
func (c *PersistentCache) ClearIndex(ctx context.Context) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, c.snapshotKey(), c.metaKey()); err != nil {
		c.logger.Warn("clearing snapshot failed", "error", err)
		return
	}
	c.logger.Info("snapshot cleared")
}

// GetIndexVersion returns the version of the saved snapshot, or "".
func (c *PersistentCache) GetIndexVersion(ctx context.Context) string {
	meta, _ := c.meta(ctx)
	return meta.Version
}

// GetIndexTimestamp returns when the snapshot was saved, or the zero time.
func (c *PersistentCache) GetIndexTimestamp(ctx context.Context) time.Time {
	meta, _ := c.meta(ctx)
	return meta.Timestamp
}

// Info returns the snapshot metadata regardless of its age.
func (c *PersistentCache) Info(ctx context.Context) (Meta, bool) {
	return c.meta(ctx)
}

// Ping reports whether the backend answers. A missing snapshot is not an
// error.
func (c *PersistentCache) Ping(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	if _, err := c.backend.Get(ctx, schemaKey); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("pinging store backend: %w", err)
	}
	return nil
}

// Enabled reports whether a backend is configured.
func (c *PersistentCache) Enabled() bool {
	return c.backend != nil
}

func (c *PersistentCache) meta(ctx context.Context) (Meta, bool) {
	if c.backend == nil {
		return Meta{}, false
	}
	data, err := c.backend.Get(ctx, c.metaKey())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("reading snapshot meta failed", "error", err)
		}
		return Meta{}, false
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		c.logger.Warn("decoding snapshot meta failed", "error", err)
		return Meta{}, false
	}
	return meta, true
}

// Close releases the codec and the backend.
func (c *PersistentCache) Close() error {
	c.decoder.Close()
	if err := c.encoder.Close(); err != nil {
		return fmt.Errorf("closing zstd encoder: %w", err)
	}
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

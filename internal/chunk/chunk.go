// Package chunk partitions the corpus into a base chunk holding every title
// document and one lazily loaded chunk per work.
package chunk

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// BaseID identifies the always-loaded chunk of title documents.
const BaseID = "base"

// DefaultTTL is how long a loaded work chunk stays resident.
const DefaultTTL = 5 * time.Minute

// ID returns the chunk id of a work.
func ID(autorSlug, obraSlug string) string {
	return autorSlug + "/" + obraSlug
}

// Chunk is a group of documents loaded into the index together.
type Chunk struct {
	ID         string           `json:"id"`
	WorkSlug   string           `json:"obraSlug,omitempty"`
	AuthorSlug string           `json:"autorSlug,omitempty"`
	Documents  []proto.Document `json:"documents"`
	Loaded     bool             `json:"loaded"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Manager tracks chunks and their load state. It is safe for concurrent
// use.
type Manager struct {
	mu     sync.RWMutex
	chunks map[string]*Chunk
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager that unloads work chunks older than ttl.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		chunks: make(map[string]*Chunk),
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "chunk-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateChunks replaces all chunks with a partition of docs: title
// documents go to the base chunk, everything else to the chunk of its work.
// Only the base chunk starts loaded.
func (m *Manager) CreateChunks(docs []proto.Document) {
	now := m.now()
	chunks := map[string]*Chunk{
		BaseID: {ID: BaseID, Loaded: true, Timestamp: now, Documents: []proto.Document{}},
	}
	for _, doc := range docs {
		if doc.Kind == proto.KindTitle {
			chunks[BaseID].Documents = append(chunks[BaseID].Documents, doc)
			continue
		}
		id := ID(doc.AuthorSlug, doc.WorkSlug)
		c, ok := chunks[id]
		if !ok {
			c = &Chunk{ID: id, WorkSlug: doc.WorkSlug, AuthorSlug: doc.AuthorSlug, Timestamp: now}
			chunks[id] = c
		}
		c.Documents = append(c.Documents, doc)
	}

	m.mu.Lock()
	m.chunks = chunks
	m.mu.Unlock()

	m.logger.Info("chunks created",
		"documents", len(docs),
		"chunks", len(chunks),
		"base_documents", len(chunks[BaseID].Documents),
	)
}

// BaseChunk returns a copy of the base chunk.
func (m *Manager) BaseChunk() Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.chunks[BaseID]; ok {
		return c.clone()
	}
	return Chunk{ID: BaseID, Loaded: true, Documents: []proto.Document{}}
}

// Chunk returns a copy of the chunk of a work.
func (m *Manager) Chunk(obraSlug, autorSlug string) (Chunk, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[ID(autorSlug, obraSlug)]
	if !ok {
		return Chunk{}, false
	}
	return c.clone(), true
}

// LoadChunk marks the chunk of a work loaded with docs, creating the chunk
// if it is unknown. Documents of other works and titles, which live in the
// base chunk, are dropped. Loading an already loaded chunk overwrites its
// documents and refreshes its timestamp. It returns the documents kept.
func (m *Manager) LoadChunk(obraSlug, autorSlug string, docs []proto.Document) []proto.Document {
	kept := make([]proto.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Kind != proto.KindTitle && doc.WorkSlug == obraSlug && doc.AuthorSlug == autorSlug {
			kept = append(kept, doc)
		}
	}
	id := ID(autorSlug, obraSlug)

	m.mu.Lock()
	c, ok := m.chunks[id]
	if !ok {
		c = &Chunk{ID: id, WorkSlug: obraSlug, AuthorSlug: autorSlug}
		m.chunks[id] = c
	}
	c.Documents = kept
	c.Loaded = true
	c.Timestamp = m.now()
	m.mu.Unlock()

	if dropped := len(docs) - len(kept); dropped > 0 {
		m.logger.Warn("dropped documents of other works", "chunk", id, "dropped", dropped)
	}
	m.logger.Debug("chunk loaded", "chunk", id, "documents", len(kept))
	return kept
}

// IsChunkLoaded reports whether the chunk of a work is loaded.
func (m *Manager) IsChunkLoaded(obraSlug, autorSlug string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[ID(autorSlug, obraSlug)]
	return ok && c.Loaded
}

// LoadedDocuments returns the documents of the base chunk followed by those
// of every loaded work chunk, ordered by chunk id.
func (m *Manager) LoadedDocuments() []proto.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []proto.Document
	if base, ok := m.chunks[BaseID]; ok {
		out = append(out, base.Documents...)
	}
	ids := make([]string, 0, len(m.chunks))
	for id, c := range m.chunks {
		if id != BaseID && c.Loaded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, m.chunks[id].Documents...)
	}
	return out
}

// CleanupCache unloads work chunks loaded longer than the TTL ago and
// drops their documents. The descriptors stay so the work can be loaded
// again. It returns the number of chunks unloaded.
func (m *Manager) CleanupCache() int {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	unloaded := 0
	for id, c := range m.chunks {
		if id == BaseID || !c.Loaded {
			continue
		}
		if c.Timestamp.Before(cutoff) {
			c.Loaded = false
			c.Documents = nil
			unloaded++
		}
	}
	m.mu.Unlock()
	if unloaded > 0 {
		m.logger.Info("unloaded expired chunks", "count", unloaded)
	}
	return unloaded
}

// LoadedWorks returns the descriptors of the loaded work chunks, without
// their documents, ordered by id.
func (m *Manager) LoadedWorks() []Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Chunk
	for id, c := range m.chunks {
		if id == BaseID || !c.Loaded {
			continue
		}
		d := *c
		d.Documents = nil
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the number of chunks and how many of them are loaded.
func (m *Manager) Stats() (total, loaded int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chunks {
		total++
		if c.Loaded {
			loaded++
		}
	}
	return total, loaded
}

func (c *Chunk) clone() Chunk {
	out := *c
	out.Documents = append([]proto.Document(nil), c.Documents...)
	return out
}

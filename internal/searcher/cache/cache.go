// Package cache memoizes recent search responses in memory. Entries expire
// after a fixed TTL and the least recently used entry is evicted once the
// capacity is exceeded.
package cache

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2/search"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// MaxFuzzyDistance bounds fuzzy lookups.
const MaxFuzzyDistance = 2

// MatchKind reports how a lookup found its entry.
type MatchKind string

const (
	MatchNone   MatchKind = ""
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
	MatchFuzzy  MatchKind = "fuzzy"
)

// Entry is a cached response plus access bookkeeping.
type Entry struct {
	Query       string               `json:"query"`
	Results     []proto.SearchResult `json:"results"`
	Total       int                  `json:"total"`
	Timestamp   time.Time            `json:"timestamp"`
	AccessCount int                  `json:"accessCount"`
	LastAccess  time.Time            `json:"lastAccess"`
}

func (e *Entry) response(query string) *proto.SearchResponse {
	return &proto.SearchResponse{
		Query:   query,
		Results: append([]proto.SearchResult(nil), e.Results...),
		Total:   e.Total,
	}
}

// Stats is a snapshot of cache usage.
type Stats struct {
	Size     int           `json:"size"`
	Capacity int           `json:"capacity"`
	TTL      time.Duration `json:"ttl"`
	Hits     int64         `json:"hits"`
	Misses   int64         `json:"misses"`
	HitRate  float64       `json:"hitRate"`
}

// Cache is a ResultCache keyed by the raw query string.
type Cache struct {
	entries  *expirable.LRU[string, *Entry]
	capacity int
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	epochMu  sync.Mutex
	epoch    uint64
	hits     atomic.Int64
	misses   atomic.Int64
	logger   *slog.Logger
}

// New creates a cache holding at most capacity entries for ttl each.
func New(cfg config.ResultCacheConfig) *Cache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default().With("component", "result-cache"),
	}
	c.entries = expirable.NewLRU[string, *Entry](capacity, c.onEvict, ttl)
	return c
}

func (c *Cache) onEvict(key string, _ *Entry) {
	c.logger.Debug("cache entry evicted", "query", key)
}

func cacheKey(query string) string {
	return strings.TrimSpace(query)
}

// Get returns the response cached for exactly query.
func (c *Cache) Get(query string) (*proto.SearchResponse, bool) {
	key := cacheKey(query)
	entry, ok := c.entries.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.touch(entry)
	c.hits.Add(1)
	return entry.response(query), true
}

// Lookup returns the exact entry for query, else the entry of the longest
// cached query that is a prefix of query or has query as its prefix, else
// the closest cached query within MaxFuzzyDistance edits. Prefix and fuzzy
// comparisons ignore case and diacritics.
func (c *Cache) Lookup(query string) (*proto.SearchResponse, MatchKind, bool) {
	key := cacheKey(query)
	if entry, ok := c.entries.Get(key); ok {
		c.touch(entry)
		c.hits.Add(1)
		return entry.response(query), MatchExact, true
	}

	folded := tokenizer.Fold(key)
	if folded == "" {
		c.misses.Add(1)
		return nil, MatchNone, false
	}
	var prefixKey, fuzzyKey string
	bestDist := MaxFuzzyDistance + 1
	for _, k := range c.entries.Keys() {
		lk := tokenizer.Fold(k)
		if lk == "" {
			continue
		}
		if strings.HasPrefix(folded, lk) || strings.HasPrefix(lk, folded) {
			if len(k) > len(prefixKey) {
				prefixKey = k
			}
			continue
		}
		if d, exceeded := search.LevenshteinDistanceMax(folded, lk, MaxFuzzyDistance); !exceeded && d < bestDist {
			bestDist = d
			fuzzyKey = k
		}
	}

	kind := MatchNone
	var chosen string
	switch {
	case prefixKey != "":
		kind, chosen = MatchPrefix, prefixKey
	case fuzzyKey != "":
		kind, chosen = MatchFuzzy, fuzzyKey
	}
	if kind != MatchNone {
		if entry, ok := c.entries.Get(chosen); ok {
			c.touch(entry)
			c.hits.Add(1)
			return entry.response(query), kind, true
		}
	}
	c.misses.Add(1)
	return nil, MatchNone, false
}

// Set stores resp under query, replacing any previous entry.
func (c *Cache) Set(query string, resp *proto.SearchResponse) {
	if resp == nil {
		return
	}
	now := c.now()
	c.entries.Add(cacheKey(query), &Entry{
		Query:      cacheKey(query),
		Results:    append([]proto.SearchResult(nil), resp.Results...),
		Total:      resp.Total,
		Timestamp:  now,
		LastAccess: now,
	})
}

// Epoch identifies the current cache contents. Invalidate advances it.
func (c *Cache) Epoch() uint64 {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	return c.epoch
}

// SetIfEpoch stores resp only while the cache is still at epoch, so a
// response computed before an Invalidate is never written after it. It
// reports whether the entry was stored.
func (c *Cache) SetIfEpoch(query string, resp *proto.SearchResponse, epoch uint64) bool {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.Set(query, resp)
	return true
}

// Entry returns a copy of the bookkeeping for query without touching it.
func (c *Cache) Entry(query string) (Entry, bool) {
	entry, ok := c.entries.Peek(cacheKey(query))
	if !ok {
		return Entry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return *entry, true
}

// Invalidate drops every entry and returns how many were removed.
func (c *Cache) Invalidate() int {
	c.epochMu.Lock()
	c.epoch++
	n := c.entries.Len()
	c.entries.Purge()
	c.epochMu.Unlock()
	c.logger.Info("cache invalidated", "entries", n)
	return n
}

// Stats returns usage counters.
func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:     c.entries.Len(),
		Capacity: c.capacity,
		TTL:      c.ttl,
		Hits:     hits,
		Misses:   misses,
		HitRate:  rate,
	}
}

func (c *Cache) touch(e *Entry) {
	c.mu.Lock()
	e.AccessCount++
	e.LastAccess = c.now()
	c.mu.Unlock()
}

// Package service is the public entry point of the search subsystem. It
// wires the document source, the persistent snapshot, the chunk manager,
// the execution bridge, the result cache and the prefetcher together.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/bridge"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/prefetch"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/snippet"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// Deps are the collaborators of a Service. Source and Bridge are required;
// the rest may be nil.
type Deps struct {
	Source  source.DocumentSource
	Works   source.WorkSource
	Store   *store.PersistentCache
	Bridge  *bridge.Bridge
	Chunks  *chunk.Manager
	Results *cache.Cache
	Events  *analytics.Collector
	Metrics *metrics.Metrics
}

// Status describes the service for the status endpoint and the CLI.
type Status struct {
	Initialized   bool           `json:"initialized"`
	BridgeState   string         `json:"bridgeState"`
	Executor      string         `json:"executor"`
	BridgeError   string         `json:"bridgeError,omitempty"`
	Version       string         `json:"version"`
	Origin        string         `json:"origin"`
	Corpus        int            `json:"corpusDocuments"`
	Indexed       int            `json:"indexedDocuments"`
	Chunks        int            `json:"chunks"`
	LoadedChunks  int            `json:"loadedChunks"`
	LoadedAt      time.Time      `json:"loadedAt"`
	Snapshot      *store.Meta    `json:"snapshot,omitempty"`
	ResultCache   cache.Stats    `json:"resultCache"`
	Prefetch      prefetch.Stats `json:"prefetch"`
	SnapshotStore bool           `json:"snapshotStore"`
}

// Service answers searches over the chunked corpus.
type Service struct {
	cfg      *config.Config
	src      source.DocumentSource
	works    source.WorkSource
	store    *store.PersistentCache
	bridge   *bridge.Bridge
	chunks   *chunk.Manager
	results  *cache.Cache
	prefetch *prefetch.Manager
	events   *analytics.Collector
	metrics  *metrics.Metrics

	loads    singleflight.Group
	searches singleflight.Group
	buildMu  sync.Mutex

	mu       sync.RWMutex
	corpus   []proto.Document
	version  string
	origin   string
	loadedAt time.Time
	ready    bool

	indexed atomic.Int64
	logger  *slog.Logger
}

// New assembles a Service. Call Init before searching.
func New(cfg *config.Config, deps Deps) *Service {
	if deps.Chunks == nil {
		deps.Chunks = chunk.NewManager(cfg.Chunks.TTL)
	}
	if deps.Results == nil {
		deps.Results = cache.New(cfg.ResultCache)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Store == nil {
		deps.Store, _ = store.New(context.Background(), nil, cfg.Store.TTL)
	}
	s := &Service{
		cfg:     cfg,
		src:     deps.Source,
		works:   deps.Works,
		store:   deps.Store,
		bridge:  deps.Bridge,
		chunks:  deps.Chunks,
		results: deps.Results,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  slog.Default().With("component", "search-service"),
	}
	if cfg.Prefetch.Enabled {
		s.prefetch = prefetch.New(cfg.Prefetch, s.prefetchWork, s.chunks.IsChunkLoaded)
	}
	return s
}

// Init starts the bridge and indexes the base chunk, reading the corpus
// from the persistent snapshot when it is fresh and from the source
// otherwise.
func (s *Service) Init(ctx context.Context) error {
	if err := s.bridge.Init(ctx); err != nil {
		return fmt.Errorf("initializing bridge: %w", err)
	}

	origin := "snapshot"
	docs := s.store.GetIndex(ctx)
	version := s.store.GetIndexVersion(ctx)
	if docs == nil {
		snap, err := s.src.Fetch(ctx)
		if err != nil {
			s.metrics.IndexBuildsTotal.WithLabelValues("source", "error").Inc()
			return fmt.Errorf("loading corpus: %w", err)
		}
		docs, version, origin = snap.Documents, snap.Version, "source"
		s.store.SaveIndex(ctx, docs, version)
	}
	s.metrics.SnapshotOpsTotal.WithLabelValues("get", hitLabel(origin == "snapshot")).Inc()

	if err := s.install(ctx, docs, version, origin, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Rebuild refetches the corpus from the source, saves a new snapshot and
// reindexes. Works loaded before the rebuild are loaded again from the new
// corpus.
func (s *Service) Rebuild(ctx context.Context, reason string) error {
	start := time.Now()
	snap, err := s.src.Fetch(ctx)
	if err != nil {
		s.metrics.IndexBuildsTotal.WithLabelValues("rebuild", "error").Inc()
		return fmt.Errorf("refetching corpus: %w", err)
	}
	s.store.SaveIndex(ctx, snap.Documents, snap.Version)
	s.metrics.SnapshotOpsTotal.WithLabelValues("save", "ok").Inc()

	if err := s.install(ctx, snap.Documents, snap.Version, "rebuild", s.chunks.LoadedWorks()); err != nil {
		return err
	}
	s.logger.Info("index rebuilt", "reason", reason, "version", snap.Version, "documents", len(snap.Documents))
	if s.events != nil {
		s.events.TrackIndex(analytics.IndexEvent{
			Type:      analytics.EventRebuild,
			Documents: len(snap.Documents),
			Version:   snap.Version,
			LatencyMs: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

// install partitions docs, restores the given works and builds the index
// from everything loaded.
func (s *Service) install(ctx context.Context, docs []proto.Document, version, origin string, restore []chunk.Chunk) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	s.chunks.CreateChunks(docs)
	for _, w := range restore {
		s.chunks.LoadChunk(w.WorkSlug, w.AuthorSlug, source.FilterWork(docs, w.WorkSlug, w.AuthorSlug))
	}
	n, err := s.bridge.BuildIndex(ctx, s.chunks.LoadedDocuments())
	if err != nil {
		s.metrics.IndexBuildsTotal.WithLabelValues(origin, "error").Inc()
		return fmt.Errorf("building index: %w", err)
	}

	s.mu.Lock()
	s.corpus = docs
	s.version = version
	s.origin = origin
	s.loadedAt = time.Now()
	s.mu.Unlock()

	s.results.Invalidate()
	s.setIndexed(n)
	s.metrics.IndexBuildsTotal.WithLabelValues(origin, "ok").Inc()
	s.updateGauges()
	s.logger.Info("index built",
		"origin", origin,
		"version", version,
		"corpus", len(docs),
		"indexed", n,
		"restored_works", len(restore),
	)
	return nil
}

// Search answers raw with at most limit results. Queries shorter than the
// minimum length and bridge failures produce an empty response; the error
// is only returned for a cancelled ctx.
func (s *Service) Search(ctx context.Context, raw string, limit int) (*proto.SearchResponse, error) {
	start := time.Now()
	q := strings.TrimSpace(raw)
	if utf8.RuneCountInString(q) < s.cfg.Search.MinQueryLength {
		s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeShort).Inc()
		return proto.EmptyResponse(raw), nil
	}
	limit = s.clampLimit(limit)

	if resp, ok := s.results.Get(q); ok {
		out := truncate(resp, raw, limit)
		s.observe(ctx, q, out, start, true, false)
		return out, nil
	}

	resp, err := s.searchShared(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Newf(apperrors.ErrTimeout, http.StatusGatewayTimeout, "search %q: %v", q, ctx.Err())
		}
		logger.FromContext(ctx).Error("search failed, returning no results",
			"component", "search-service",
			"query", q,
			"executor", s.bridge.Executor(),
			"error", err,
		)
		s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		empty := proto.EmptyResponse(raw)
		s.observe(ctx, q, empty, start, false, true)
		return empty, nil
	}

	out := truncate(resp, raw, limit)
	s.observe(ctx, q, out, start, false, false)
	if s.prefetch != nil {
		s.prefetch.OnResults(out.Results)
	}
	return out, nil
}

// searchShared runs one bridge search per distinct query no matter how many
// callers miss the cache at once, and caches the response unless the cache
// was invalidated while it ran. The shared call ignores caller cancellation
// and is bounded by the bridge timeout; each caller stops waiting when its
// own ctx ends.
func (s *Service) searchShared(ctx context.Context, q string) (*proto.SearchResponse, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.searches.DoChan(q, func() (any, error) {
		epoch := s.results.Epoch()
		resp, err := s.bridge.Search(shared, q, s.cfg.Search.MaxResults)
		if err != nil {
			return nil, err
		}
		if !s.results.SetIfEpoch(q, resp, epoch) {
			s.logger.Debug("index changed during search, response not cached", "query", q)
		}
		return resp, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*proto.SearchResponse), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Preview answers from the result cache when an exact, prefix or fuzzy
// match is cached, and searches otherwise. It suits search-as-you-type.
func (s *Service) Preview(ctx context.Context, raw string, limit int) (*proto.SearchResponse, cache.MatchKind, error) {
	q := strings.TrimSpace(raw)
	if utf8.RuneCountInString(q) < s.cfg.Search.MinQueryLength {
		return proto.EmptyResponse(raw), cache.MatchNone, nil
	}
	if resp, kind, ok := s.results.Lookup(q); ok {
		s.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeHit).Inc()
		return truncate(resp, raw, s.clampLimit(limit)), kind, nil
	}
	resp, err := s.Search(ctx, raw, limit)
	return resp, cache.MatchNone, err
}

// LoadWork makes the paragraphs and sections of one work searchable. It
// returns the number of documents indexed afterwards.
func (s *Service) LoadWork(ctx context.Context, obraSlug, autorSlug string) (int, error) {
	if obraSlug == "" || autorSlug == "" {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "obra and autor are required")
	}
	id := chunk.ID(autorSlug, obraSlug)
	v, err, _ := s.loads.Do(id, func() (any, error) {
		return s.loadWork(ctx, obraSlug, autorSlug)
	})
	if err != nil {
		s.metrics.ChunkLoadsTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	return v.(int), nil
}

func (s *Service) prefetchWork(ctx context.Context, obraSlug, autorSlug string) error {
	_, err := s.LoadWork(ctx, obraSlug, autorSlug)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.PrefetchTotal.WithLabelValues(status).Inc()
	return err
}

func (s *Service) loadWork(ctx context.Context, obraSlug, autorSlug string) (int, error) {
	start := time.Now()
	if c, ok := s.chunks.Chunk(obraSlug, autorSlug); ok && c.Loaded {
		s.chunks.LoadChunk(obraSlug, autorSlug, c.Documents)
		return s.Indexed(), nil
	}

	docs, err := s.workDocuments(ctx, obraSlug, autorSlug)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "work %s has no documents", chunk.ID(autorSlug, obraSlug))
	}

	s.buildMu.Lock()
	kept := s.chunks.LoadChunk(obraSlug, autorSlug, docs)
	n, err := s.bridge.LoadChunk(ctx, kept)
	s.buildMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("indexing work %s: %w", chunk.ID(autorSlug, obraSlug), err)
	}

	s.results.Invalidate()
	s.setIndexed(n)
	s.metrics.ChunkLoadsTotal.WithLabelValues("ok").Inc()
	s.updateGauges()
	s.logger.Info("work loaded", "work", chunk.ID(autorSlug, obraSlug), "documents", len(kept), "indexed", n)
	if s.events != nil {
		s.events.TrackIndex(analytics.IndexEvent{
			Type:      analytics.EventWorkLoaded,
			Work:      chunk.ID(autorSlug, obraSlug),
			Documents: len(kept),
			LatencyMs: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
		})
	}
	return n, nil
}

// workDocuments prefers the work source, then the documents the chunk
// still holds, then the cached corpus.
func (s *Service) workDocuments(ctx context.Context, obraSlug, autorSlug string) ([]proto.Document, error) {
	if s.works != nil {
		docs, err := s.works.FetchWork(ctx, obraSlug, autorSlug)
		if err == nil {
			return docs, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn("work source failed, using cached corpus",
			"work", chunk.ID(autorSlug, obraSlug),
			"error", err,
		)
	}
	if c, ok := s.chunks.Chunk(obraSlug, autorSlug); ok && c.Documents != nil {
		return c.Documents, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return source.FilterWork(s.corpus, obraSlug, autorSlug), nil
}

// ClearIndex empties the index, the result cache and the persistent
// snapshot. The next Init or Rebuild repopulates them.
func (s *Service) ClearIndex(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	if err := s.bridge.ClearIndex(ctx); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	s.chunks.CreateChunks(nil)
	s.results.Invalidate()
	s.store.ClearIndex(ctx)
	s.metrics.SnapshotOpsTotal.WithLabelValues("clear", "ok").Inc()

	s.mu.Lock()
	s.corpus, s.version, s.origin = nil, "", ""
	s.mu.Unlock()
	s.setIndexed(0)
	s.updateGauges()
	s.logger.Info("index cleared")
	return nil
}

// Highlight wraps the terms of query found in text in mark tags.
func (s *Service) Highlight(text, query string) string {
	return snippet.HighlightTerms(text, query)
}

// Cleanup unloads expired work chunks and rebuilds the index from what
// stays loaded. It returns the number of chunks unloaded.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	unloaded := s.chunks.CleanupCache()
	if unloaded == 0 {
		return 0, nil
	}
	n, err := s.bridge.BuildIndex(ctx, s.chunks.LoadedDocuments())
	if err != nil {
		return unloaded, fmt.Errorf("rebuilding after cleanup: %w", err)
	}
	s.results.Invalidate()
	s.setIndexed(n)
	s.updateGauges()
	return unloaded, nil
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("chunk cleanup failed", "error", err)
			}
		}
	}
}

// Status reports the current state of every component.
func (s *Service) Status(ctx context.Context) Status {
	total, loaded := s.chunks.Stats()
	s.mu.RLock()
	st := Status{
		Initialized:   s.ready,
		Version:       s.version,
		Origin:        s.origin,
		Corpus:        len(s.corpus),
		LoadedAt:      s.loadedAt,
		SnapshotStore: s.store.Enabled(),
	}
	s.mu.RUnlock()

	st.BridgeState = s.bridge.State().String()
	st.Executor = s.bridge.Executor()
	if err := s.bridge.LastError(); err != nil {
		st.BridgeError = err.Error()
	}
	st.Indexed = s.Indexed()
	st.Chunks = total
	if loaded > 0 {
		st.LoadedChunks = loaded - 1
	}
	if meta, ok := s.store.Info(ctx); ok {
		st.Snapshot = &meta
	}
	st.ResultCache = s.results.Stats()
	if s.prefetch != nil {
		st.Prefetch = s.prefetch.Stats()
	}
	return st
}

// Indexed returns the number of documents in the active index.
func (s *Service) Indexed() int {
	return int(s.indexed.Load())
}

// ResultCache exposes the result cache.
func (s *Service) ResultCache() *cache.Cache {
	return s.results
}

// CacheStats reports result cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.results.Stats()
}

// InvalidateCache drops every cached result and returns how many were held.
func (s *Service) InvalidateCache() int {
	n := s.results.Invalidate()
	s.updateGauges()
	return n
}

// WaitPrefetch blocks until scheduled prefetches finish.
func (s *Service) WaitPrefetch() {
	if s.prefetch != nil {
		s.prefetch.Wait()
	}
}

// Close stops prefetching and releases the bridge and the snapshot store.
func (s *Service) Close() error {
	if s.prefetch != nil {
		s.prefetch.Close()
	}
	if err := s.bridge.Close(); err != nil {
		return fmt.Errorf("closing bridge: %w", err)
	}
	return s.store.Close()
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.Search.DefaultLimit
	}
	if s.cfg.Search.MaxResults > 0 && limit > s.cfg.Search.MaxResults {
		limit = s.cfg.Search.MaxResults
	}
	return limit
}

func (s *Service) observe(ctx context.Context, q string, resp *proto.SearchResponse, start time.Time, hit, degraded bool) {
	elapsed := time.Since(start)
	src := "engine"
	outcome := metrics.OutcomeMiss
	if hit {
		src, outcome = "cache", metrics.OutcomeHit
	}
	if !degraded {
		if resp.Total == 0 {
			outcome = metrics.OutcomeEmpty
		}
		s.metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	}
	s.metrics.SearchLatency.WithLabelValues(src).Observe(elapsed.Seconds())
	s.metrics.SearchResultsCount.Observe(float64(resp.Total))
	s.metrics.ResultCacheEntries.Set(float64(s.results.Stats().Size))

	if s.events == nil {
		return
	}
	evType := analytics.EventSearch
	if resp.Total == 0 {
		evType = analytics.EventZeroResult
	}
	s.events.TrackSearch(analytics.SearchEvent{
		Type:      evType,
		Query:     q,
		Total:     resp.Total,
		Returned:  len(resp.Results),
		LatencyMs: elapsed.Milliseconds(),
		CacheHit:  hit,
		Degraded:  degraded,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	})
}

func (s *Service) setIndexed(n int) {
	s.indexed.Store(int64(n))
	s.metrics.IndexedDocuments.Set(float64(n))
}

func (s *Service) updateGauges() {
	_, loaded := s.chunks.Stats()
	if loaded > 0 {
		loaded--
	}
	s.metrics.ChunksLoaded.Set(float64(loaded))
	s.metrics.ResultCacheEntries.Set(float64(s.results.Stats().Size))
}

func truncate(resp *proto.SearchResponse, query string, limit int) *proto.SearchResponse {
	out := &proto.SearchResponse{Query: query, Total: resp.Total, Results: resp.Results}
	if limit > 0 && len(out.Results) > limit {
		out.Results = out.Results[:limit]
	}
	if out.Results == nil {
		out.Results = []proto.SearchResult{}
	}
	return out
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

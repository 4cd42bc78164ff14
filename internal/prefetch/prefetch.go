// Package prefetch speculatively loads the works that appear in search
// results so that follow-up searches inside them are already indexed.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// Loader loads one work into the index.
type Loader func(ctx context.Context, obraSlug, autorSlug string) error

// LoadedFunc reports whether a work is already loaded.
type LoadedFunc func(obraSlug, autorSlug string) bool

// Stats counts prefetch activity.
type Stats struct {
	Scheduled int64 `json:"scheduled"`
	Loaded    int64 `json:"loaded"`
	Failed    int64 `json:"failed"`
}

// Work identifies one work by its slugs.
type Work struct {
	ObraSlug  string
	AutorSlug string
}

// Manager schedules background loads. It is safe for concurrent use.
type Manager struct {
	load        Loader
	isLoaded    LoadedFunc
	maxWorks    int
	concurrency int
	limiter     *rate.Limiter
	group       singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scheduled atomic.Int64
	loaded    atomic.Int64
	failed    atomic.Int64
	logger    *slog.Logger
}

// New returns a Manager calling load for works isLoaded reports missing.
func New(cfg config.PrefetchConfig, load Loader, isLoaded LoadedFunc) *Manager {
	maxWorks := cfg.MaxWorks
	if maxWorks <= 0 {
		maxWorks = 3
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		load:        load,
		isLoaded:    isLoaded,
		maxWorks:    maxWorks,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, concurrency),
		ctx:         ctx,
		cancel:      cancel,
		logger:      slog.Default().With("component", "prefetch"),
	}
}

// Candidates returns, in result order, the distinct works of results that
// are not loaded yet, at most the configured maximum.
func (m *Manager) Candidates(results []proto.SearchResult) []Work {
	seen := make(map[string]struct{})
	var out []Work
	for _, r := range results {
		if r.WorkSlug == "" || r.AuthorSlug == "" {
			continue
		}
		id := chunk.ID(r.AuthorSlug, r.WorkSlug)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if m.isLoaded(r.WorkSlug, r.AuthorSlug) {
			continue
		}
		out = append(out, Work{ObraSlug: r.WorkSlug, AutorSlug: r.AuthorSlug})
		if len(out) == m.maxWorks {
			break
		}
	}
	return out
}

// OnResults schedules background loads for the works in results. It never
// blocks on the loads themselves.
func (m *Manager) OnResults(results []proto.SearchResult) {
	if m.ctx.Err() != nil {
		return
	}
	works := m.Candidates(results)
	if len(works) == 0 {
		return
	}
	m.scheduled.Add(int64(len(works)))
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		g, ctx := errgroup.WithContext(m.ctx)
		g.SetLimit(m.concurrency)
		for _, w := range works {
			g.Go(func() error {
				m.prefetch(ctx, w)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (m *Manager) prefetch(ctx context.Context, w Work) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	key := chunk.ID(w.AutorSlug, w.ObraSlug)
	_, err, shared := m.group.Do(key, func() (any, error) {
		if m.isLoaded(w.ObraSlug, w.AutorSlug) {
			return nil, nil
		}
		if err := m.load(ctx, w.ObraSlug, w.AutorSlug); err != nil {
			m.failed.Add(1)
			return nil, err
		}
		m.loaded.Add(1)
		return nil, nil
	})
	if err != nil {
		m.logger.Warn("prefetch failed", "work", key, "shared", shared, "error", err)
		return
	}
	m.logger.Debug("prefetch done", "work", key, "shared", shared)
}

// Wait blocks until every scheduled load has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stats returns activity counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Scheduled: m.scheduled.Load(),
		Loaded:    m.loaded.Load(),
		Failed:    m.failed.Load(),
	}
}

// Close cancels outstanding loads and waits for them to stop.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/bridge"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

type fakeSource struct {
	mu      sync.Mutex
	docs    []proto.Document
	version string
	fetches int
	err     error
}

func (f *fakeSource) Fetch(context.Context) (*source.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return &source.Snapshot{Documents: append([]proto.Document(nil), f.docs...), Version: f.version, FetchedAt: time.Now()}, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func title(id, titulo, autor, autorSlug, obra string) proto.Document {
	return proto.Document{ID: id, Title: titulo, Author: autor, AuthorSlug: autorSlug, WorkSlug: obra, Kind: proto.KindTitle}
}

func para(id, titulo, autor, autorSlug, obra, texto string) proto.Document {
	return proto.Document{ID: id, Title: titulo, Author: autor, AuthorSlug: autorSlug, WorkSlug: obra, Text: texto, Kind: proto.KindParagraph}
}

func library() []proto.Document {
	return []proto.Document{
		title("t-aqdas", "Kitáb-i-Aqdas", "Bahá'u'lláh", "bahaullah", "aqdas"),
		para("p-aqdas-1", "Kitáb-i-Aqdas", "Bahá'u'lláh", "bahaullah", "aqdas", "Los primeros deberes prescritos por Dios a Sus siervos"),
		para("p-aqdas-2", "Kitáb-i-Aqdas", "Bahá'u'lláh", "bahaullah", "aqdas", "Observad Mis mandamientos por amor a Mi belleza"),
		title("t-bayan", "Bayán Persa", "El Báb", "el-bab", "bayan"),
		para("p-bayan-1", "Bayán Persa", "El Báb", "el-bab", "bayan", "La certeza del día de la resurrección"),
	}
}

type fixture struct {
	svc    *Service
	src    *fakeSource
	store  *store.PersistentCache
	events *analytics.Aggregator
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Bridge.Mode = bridge.ModeInline
	cfg.Prefetch.Enabled = false
	cfg.Prefetch.RatePerSec = 0
	cfg.Store.Backend = "none"
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config, backend store.Backend) *fixture {
	t.Helper()
	if backend == nil {
		backend = store.NewMemoryBackend()
	}
	ps, err := store.New(context.Background(), backend, time.Hour)
	require.NoError(t, err)
	src := &fakeSource{docs: library(), version: "v1"}
	agg := analytics.NewAggregator()
	svc := New(cfg, Deps{
		Source: src,
		Store:  ps,
		Bridge: bridge.New(bridge.Options{Mode: bridge.ModeInline, Engine: indexer.OptionsFromConfig(cfg.Index, cfg.Search)}),
		Events: analytics.NewCollector(nil, agg, 10, time.Hour),
	})
	t.Cleanup(func() { svc.Close() })
	return &fixture{svc: svc, src: src, store: ps, events: agg}
}

func ids(resp *proto.SearchResponse) []string {
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.ID)
	}
	return out
}

func TestInitIndexesOnlyTitles(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	st := f.svc.Status(ctx)
	assert.True(t, st.Initialized)
	assert.Equal(t, "source", st.Origin)
	assert.Equal(t, "v1", st.Version)
	assert.Equal(t, 5, st.Corpus)
	assert.Equal(t, 2, st.Indexed)
	assert.Equal(t, 0, st.LoadedChunks)

	resp, err := f.svc.Search(ctx, "aqdas", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-aqdas"}, ids(resp))

	resp, err = f.svc.Search(ctx, "mandamientos", 10)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestInitPrefersFreshSnapshot(t *testing.T) {
	backend := store.NewMemoryBackend()
	first := newFixture(t, testConfig(), backend)
	require.NoError(t, first.svc.Init(context.Background()))
	assert.Equal(t, 1, first.src.fetchCount())

	second := newFixture(t, testConfig(), backend)
	require.NoError(t, second.svc.Init(context.Background()))
	assert.Equal(t, 0, second.src.fetchCount())

	st := second.svc.Status(context.Background())
	assert.Equal(t, "snapshot", st.Origin)
	assert.Equal(t, "v1", st.Version)
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, 5, st.Snapshot.Documents)
}

func TestInitFailsWithoutSnapshotOrSource(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.src.err = apperrors.ErrSourceUnavailable
	err := f.svc.Init(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestShortQueryReturnsEmpty(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	require.NoError(t, f.svc.Init(context.Background()))

	resp, err := f.svc.Search(context.Background(), " aq ", 10)
	require.NoError(t, err)
	assert.Equal(t, " aq ", resp.Query)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestSearchUsesResultCache(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.Search(ctx, "aqdas", 10)
	require.NoError(t, err)
	_, err = f.svc.Search(ctx, "aqdas", 10)
	require.NoError(t, err)

	stats := f.svc.ResultCache().Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), f.events.Stats().TotalSearches)
	assert.Equal(t, int64(1), f.events.Stats().CacheHits)
}

func TestLimitTruncatesButKeepsTotal(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.LoadWork(ctx, "aqdas", "bahaullah")
	require.NoError(t, err)

	resp, err := f.svc.Search(ctx, "aqdas", 1)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, 3, resp.Total)

	resp, err = f.svc.Search(ctx, "aqdas", 10)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestLoadWorkMakesParagraphsSearchable(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.Search(ctx, "mandamientos", 10)
	require.NoError(t, err)

	n, err := f.svc.LoadWork(ctx, "aqdas", "bahaullah")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, f.svc.ResultCache().Stats().Size)

	resp, err := f.svc.Search(ctx, "mandamientos", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-aqdas-2"}, ids(resp))

	n, err = f.svc.LoadWork(ctx, "aqdas", "bahaullah")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(1), f.events.Stats().WorksLoaded)
}

func TestLoadWorkErrors(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.LoadWork(ctx, "", "bahaullah")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.LoadWork(ctx, "inexistente", "nadie")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

type fakeWorks struct {
	docs []proto.Document
	err  error
}

func (w fakeWorks) FetchWork(_ context.Context, obra, autor string) ([]proto.Document, error) {
	if w.err != nil {
		return nil, w.err
	}
	return source.FilterWork(w.docs, obra, autor), nil
}

func TestLoadWorkPrefersWorkSource(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, nil)
	fresh := para("p-aqdas-9", "Kitáb-i-Aqdas", "Bahá'u'lláh", "bahaullah", "aqdas", "Texto recién publicado sobre la justicia")
	f.svc.works = fakeWorks{docs: []proto.Document{fresh}}
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.LoadWork(ctx, "aqdas", "bahaullah")
	require.NoError(t, err)
	resp, err := f.svc.Search(ctx, "justicia", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-aqdas-9"}, ids(resp))

	f.svc.works = fakeWorks{err: errors.New("db down")}
	_, err = f.svc.LoadWork(ctx, "bayan", "el-bab")
	require.NoError(t, err)
	resp, err = f.svc.Search(ctx, "certeza", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-bayan-1"}, ids(resp))
}

func TestCleanupUnloadsExpiredWorks(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newFixture(t, cfg, nil)
	f.svc.chunks = chunk.NewManager(time.Minute, chunk.WithClock(clock))
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.LoadWork(ctx, "aqdas", "bahaullah")
	require.NoError(t, err)

	n, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	n, err = f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.svc.Indexed())

	resp, err := f.svc.Search(ctx, "mandamientos", 10)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	_, err = f.svc.LoadWork(ctx, "aqdas", "bahaullah")
	require.NoError(t, err)
	resp, err = f.svc.Search(ctx, "mandamientos", 10)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestRebuildRestoresLoadedWorks(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))
	_, err := f.svc.LoadWork(ctx, "bayan", "el-bab")
	require.NoError(t, err)

	f.src.mu.Lock()
	f.src.docs = append(f.src.docs, para("p-bayan-2", "Bayán Persa", "El Báb", "el-bab", "bayan", "Nueva certeza revelada"))
	f.src.version = "v2"
	f.src.mu.Unlock()

	require.NoError(t, f.svc.Rebuild(ctx, "test"))
	st := f.svc.Status(ctx)
	assert.Equal(t, "v2", st.Version)
	assert.Equal(t, 1, st.LoadedChunks)
	assert.Equal(t, "v2", f.store.GetIndexVersion(ctx))

	resp, err := f.svc.Search(ctx, "certeza", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p-bayan-1", "p-bayan-2"}, ids(resp))
	assert.Equal(t, int64(1), f.events.Stats().Rebuilds)
}

func TestClearIndex(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	require.NoError(t, f.svc.ClearIndex(ctx))
	resp, err := f.svc.Search(ctx, "aqdas", 10)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Nil(t, f.store.GetIndex(ctx))
	assert.Equal(t, 0, f.svc.Status(ctx).Corpus)
}

func TestPreviewUsesPrefixMatch(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.Search(ctx, "aqdas", 10)
	require.NoError(t, err)

	resp, kind, err := f.svc.Preview(ctx, "aqdas kitab", 10)
	require.NoError(t, err)
	assert.Equal(t, cache.MatchPrefix, kind)
	assert.Equal(t, "aqdas kitab", resp.Query)
	assert.Equal(t, []string{"t-aqdas"}, ids(resp))

	resp, kind, err = f.svc.Preview(ctx, "bayán", 10)
	require.NoError(t, err)
	assert.Equal(t, cache.MatchNone, kind)
	assert.Equal(t, []string{"t-bayan"}, ids(resp))
}

func TestPrefetchLoadsWorksOfResults(t *testing.T) {
	cfg := testConfig()
	cfg.Prefetch.Enabled = true
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.Init(ctx))

	_, err := f.svc.Search(ctx, "bayan", 10)
	require.NoError(t, err)
	f.svc.WaitPrefetch()

	assert.True(t, f.svc.chunks.IsChunkLoaded("bayan", "el-bab"))
	assert.Equal(t, int64(1), f.svc.Status(ctx).Prefetch.Loaded)

	resp, err := f.svc.Search(ctx, "resurreccion", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-bayan-1"}, ids(resp))
}

func TestHighlight(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	got := f.svc.Highlight("La certeza del día", "certeza")
	assert.Equal(t, "La <mark>certeza</mark> del día", got)
}

// heldReply delays the worker's first search result until release is
// closed. Later replies pass straight through, so the worker keeps
// serving other requests meanwhile.
type heldReply struct {
	bridge.Transport
	once     sync.Once
	held     chan struct{}
	release  chan struct{}
	searches atomic.Int64
}

func (h *heldReply) Receive() (proto.Envelope, error) {
	env, err := h.Transport.Receive()
	if err == nil && env.Kind == proto.MsgSearch {
		h.searches.Add(1)
	}
	return env, err
}

func (h *heldReply) Send(ctx context.Context, env proto.Envelope) error {
	if env.Kind != proto.MsgResult {
		return h.Transport.Send(ctx, env)
	}
	delayed := false
	h.once.Do(func() {
		delayed = true
		close(h.held)
		go func() {
			<-h.release
			_ = h.Transport.Send(context.Background(), env)
		}()
	})
	if delayed {
		return nil
	}
	return h.Transport.Send(ctx, env)
}

func (h *heldReply) waitHeld(t *testing.T) {
	t.Helper()
	select {
	case <-h.held:
	case <-time.After(5 * time.Second):
		t.Fatal("search never reached the worker")
	}
}

// newWorkerService returns an initialized service whose in-process worker
// replies through a heldReply.
func newWorkerService(t *testing.T) (*Service, *heldReply) {
	t.Helper()
	cfg := testConfig()
	cfg.Bridge.Mode = bridge.ModeWorker
	engineOpts := indexer.OptionsFromConfig(cfg.Index, cfg.Search)

	gate := &heldReply{held: make(chan struct{}), release: make(chan struct{})}
	spawn := func(context.Context) (bridge.Transport, error) {
		w, err := bridge.NewWorker(engineOpts)
		if err != nil {
			return nil, err
		}
		client, server := bridge.NewPipe()
		gate.Transport = server
		go func() {
			defer server.Close()
			_ = w.Serve(context.Background(), gate)
		}()
		return client, nil
	}

	svc := New(cfg, Deps{
		Source: &fakeSource{docs: library(), version: "v1"},
		Bridge: bridge.New(bridge.Options{Mode: bridge.ModeWorker, Spawn: spawn, Timeout: 5 * time.Second, Engine: engineOpts}),
	})
	t.Cleanup(func() { svc.Close() })
	require.NoError(t, svc.Init(context.Background()))
	require.Equal(t, bridge.StateReady.String(), svc.Status(context.Background()).BridgeState)
	return svc, gate
}

type searchOutcome struct {
	resp *proto.SearchResponse
	err  error
}

func TestSearchFinishingAfterLoadWorkIsNotCached(t *testing.T) {
	svc, gate := newWorkerService(t)
	ctx := context.Background()

	early := make(chan searchOutcome, 1)
	go func() {
		resp, err := svc.Search(ctx, "aqdas", 10)
		early <- searchOutcome{resp, err}
	}()

	gate.waitHeld(t)
	n, err := svc.LoadWork(ctx, "aqdas", "bahaullah")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	close(gate.release)
	got := <-early
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.resp.Total, "the early search ran on the titles-only index")

	resp, err := svc.Search(ctx, "aqdas", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.ElementsMatch(t, []string{"t-aqdas", "p-aqdas-1", "p-aqdas-2"}, ids(resp))
}

func TestConcurrentIdenticalSearchesShareOneWorkerCall(t *testing.T) {
	svc, gate := newWorkerService(t)

	const callers = 5
	outcomes := make(chan searchOutcome, callers)
	search := func(ctx context.Context) {
		resp, err := svc.Search(ctx, "bayán", 10)
		outcomes <- searchOutcome{resp, err}
	}
	go search(context.Background())
	gate.waitHeld(t)

	for i := 1; i < callers; i++ {
		go search(context.Background())
	}
	cancelled, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := svc.Search(cancelled, "bayán", 10)
		abandoned <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	err := <-abandoned
	assert.True(t, apperrors.Is(err, apperrors.ErrTimeout))

	close(gate.release)
	for i := 0; i < callers; i++ {
		got := <-outcomes
		require.NoError(t, got.err)
		assert.Equal(t, []string{"t-bayan"}, ids(got.resp))
	}
	assert.Equal(t, int64(1), gate.searches.Load())
	assert.Equal(t, 1, svc.CacheStats().Size)
}

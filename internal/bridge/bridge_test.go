package bridge

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/rpc"
)

func corpus() []proto.Document {
	return []proto.Document{
		{ID: "t", Title: "Kitáb-i-Aqdás", Author: "Bahá'u'lláh", Kind: proto.KindTitle},
		{ID: "p", Title: "Kitáb-i-Aqdás", Author: "Bahá'u'lláh", Text: "la certeza del creyente", Kind: proto.KindParagraph},
	}
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.states {
		if got == s {
			n++
		}
	}
	return n
}

// scriptedWorker answers pings and index mutations, then handles searches
// with onSearch.
func scriptedWorker(t *testing.T, onSearch func(Transport, proto.Envelope)) Spawner {
	return func(context.Context) (Transport, error) {
		client, server := NewPipe()
		go func() {
			for {
				env, err := server.Receive()
				if err != nil {
					return
				}
				switch env.Kind {
				case proto.MsgPing:
					_ = server.Send(context.Background(), proto.Envelope{ID: env.ID, Kind: proto.MsgPong})
				case proto.MsgBuildIndex, proto.MsgLoadChunk, proto.MsgClearIndex:
					_ = server.Send(context.Background(), proto.Envelope{ID: env.ID, Kind: proto.MsgAck, Ack: &proto.AckBody{}})
				case proto.MsgSearch:
					onSearch(server, env)
				}
			}
		}()
		return client, nil
	}
}

func newBridge(t *testing.T, opts Options) *Bridge {
	t.Helper()
	b := New(opts)
	t.Cleanup(func() { b.Close() })
	require.NoError(t, b.Init(context.Background()))
	return b
}

func TestInlineMode(t *testing.T) {
	b := newBridge(t, Options{Mode: ModeInline, Engine: indexer.DefaultOptions()})
	assert.Equal(t, StateReady, b.State())
	assert.Equal(t, ModeInline, b.Executor())

	n, err := b.BuildIndex(context.Background(), corpus())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resp, err := b.Search(context.Background(), "aqdas", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
}

func TestWorkerModeMatchesInline(t *testing.T) {
	opts := indexer.DefaultOptions()
	worker := newBridge(t, Options{Mode: ModeWorker, Spawn: InProcess(opts), Engine: opts})
	inline := newBridge(t, Options{Mode: ModeInline, Engine: opts})
	assert.Equal(t, ModeWorker, worker.Executor())

	ctx := context.Background()
	for _, b := range []*Bridge{worker, inline} {
		_, err := b.BuildIndex(ctx, corpus()[:1])
		require.NoError(t, err)
		n, err := b.LoadChunk(ctx, corpus()[1:])
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	for _, q := range []string{"aqdas", "certesa", "Bahá"} {
		want, err := inline.Search(ctx, q, 10)
		require.NoError(t, err)
		got, err := worker.Search(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, want, got, q)
	}

	require.NoError(t, worker.ClearIndex(ctx))
	resp, err := worker.Search(ctx, "aqdas", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
}

func TestSpawnFailureFallsBackInline(t *testing.T) {
	rec := &stateRecorder{}
	b := newBridge(t, Options{
		Mode:          ModeWorker,
		Spawn:         func(context.Context) (Transport, error) { return nil, errors.New("no workers here") },
		Engine:        indexer.DefaultOptions(),
		OnStateChange: rec.record,
	})
	assert.Equal(t, StateUnavailable, b.State())
	assert.Equal(t, ModeInline, b.Executor())
	assert.Error(t, b.LastError())

	_, err := b.BuildIndex(context.Background(), corpus())
	require.NoError(t, err)
	resp, err := b.Search(context.Background(), "aqdas", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, rec.count(StateUnavailable))
}

func TestFatalMessageFlipsOnceAndReplays(t *testing.T) {
	rec := &stateRecorder{}
	b := newBridge(t, Options{
		Mode: ModeWorker,
		Spawn: scriptedWorker(t, func(server Transport, _ proto.Envelope) {
			_ = server.Send(context.Background(), proto.Envelope{Kind: proto.MsgFatal, Error: "out of memory"})
		}),
		Engine:        indexer.DefaultOptions(),
		OnStateChange: rec.record,
	})
	require.Equal(t, StateReady, b.State())

	ctx := context.Background()
	_, err := b.BuildIndex(ctx, corpus())
	require.NoError(t, err)

	_, err = b.Search(ctx, "aqdas", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrWorkerFailed))

	require.Eventually(t, func() bool { return b.State() == StateUnavailable }, time.Second, 5*time.Millisecond)

	resp, err := b.Search(ctx, "aqdas", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Total)

	_, _ = b.Search(ctx, "certeza", 10)
	assert.Equal(t, 1, rec.count(StateUnavailable))
	assert.Equal(t, ModeInline, b.Executor())
}

func TestTimeoutRemovesPendingEntry(t *testing.T) {
	client, server := NewPipe()
	defer server.Close()
	go func() {
		for {
			if _, err := server.Receive(); err != nil {
				return
			}
		}
	}()
	bg := NewBackground(client, 30*time.Millisecond, nil)
	defer bg.Close()

	_, err := bg.Search(context.Background(), "aqdas", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTimeout))
	assert.Equal(t, 0, bg.Pending())
}

func TestRepliesMatchedByCorrelationID(t *testing.T) {
	client, server := NewPipe()
	defer server.Close()
	go func() {
		var held []proto.Envelope
		for {
			env, err := server.Receive()
			if err != nil {
				return
			}
			held = append(held, env)
			if len(held) < 2 {
				continue
			}
			for i := len(held) - 1; i >= 0; i-- {
				req := held[i]
				_ = server.Send(context.Background(), proto.Envelope{
					ID:     req.ID,
					Kind:   proto.MsgResult,
					Result: &proto.SearchResponse{Query: req.Search.Query, Results: []proto.SearchResult{}},
				})
			}
			held = nil
		}
	}()
	bg := NewBackground(client, time.Second, nil)
	defer bg.Close()

	var wg sync.WaitGroup
	for _, q := range []string{"primera", "segunda"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			resp, err := bg.Search(context.Background(), q, 10)
			if assert.NoError(t, err) {
				assert.Equal(t, q, resp.Query)
			}
		}(q)
	}
	wg.Wait()
}

func TestWorkerErrorReply(t *testing.T) {
	client, server := NewPipe()
	w, err := NewWorker(indexer.DefaultOptions())
	require.NoError(t, err)
	go func() { _ = w.Serve(context.Background(), server) }()
	defer client.Close()

	require.NoError(t, client.Send(context.Background(), proto.Envelope{ID: "1", Kind: "bogus"}))
	reply, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, proto.MsgError, reply.Kind)
	assert.Equal(t, "1", reply.ID)

	require.NoError(t, client.Send(context.Background(), proto.Envelope{ID: "2", Kind: proto.MsgSearch}))
	reply, err = client.Receive()
	require.NoError(t, err)
	assert.Equal(t, proto.MsgError, reply.Kind)
}

func TestClosedTransportRejectsPendingCalls(t *testing.T) {
	client, server := NewPipe()
	go func() {
		_, _ = server.Receive()
		server.Close()
	}()
	failures := make(chan error, 1)
	bg := NewBackground(client, time.Second, func(err error) { failures <- err })

	_, err := bg.Search(context.Background(), "aqdas", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrWorkerUnavailable))
	assert.True(t, errors.Is(<-failures, apperrors.ErrWorkerUnavailable))
	assert.Equal(t, 0, bg.Pending())
}

func TestRemoteWorker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	opts := indexer.DefaultOptions()
	srv := rpc.NewServer(func(ctx context.Context, c *rpc.Conn) {
		w, err := NewWorker(opts)
		if err != nil {
			return
		}
		_ = w.Serve(ctx, c)
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	b := newBridge(t, Options{Mode: ModeRemote, Spawn: Remote(ln.Addr().String()), Engine: opts})
	assert.Equal(t, ModeRemote, b.Executor())

	_, err = b.BuildIndex(context.Background(), corpus())
	require.NoError(t, err)
	resp, err := b.Search(context.Background(), "certeza", 10)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "p", resp.Results[0].ID)
	assert.Contains(t, resp.Results[0].Fragment, "certeza")
}

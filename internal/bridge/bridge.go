// Package bridge runs the index engine behind a message-passing boundary
// with a same-process fallback.
//
// The bridge starts uninitialized, becomes ready once its executor answers,
// and becomes unavailable for good when the background worker cannot be
// started or dies. From then on every call runs inline on an engine rebuilt
// from the documents the bridge has dispatched so far.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// State is the lifecycle state of a Bridge.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Execution modes.
const (
	ModeWorker = "worker"
	ModeRemote = "remote"
	ModeInline = "inline"
)

// Spawner starts a worker and returns the transport connected to it.
type Spawner func(ctx context.Context) (Transport, error)

// Options configures a Bridge.
type Options struct {
	Mode    string
	Spawn   Spawner
	Timeout time.Duration
	Engine  indexer.Options
	// OnStateChange is called after every state transition.
	OnStateChange func(State)
}

// Bridge dispatches index operations to a background worker, or inline
// once the worker is gone. It is safe for concurrent use.
type Bridge struct {
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	state      State
	background *Background
	inline     *Inline
	replay     []proto.Document
	lastErr    error
	closed     bool
}

// New returns an uninitialized Bridge. Call Init before use.
func New(opts Options) *Bridge {
	if opts.Mode == "" {
		opts.Mode = ModeWorker
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Bridge{
		opts:   opts,
		logger: slog.Default().With("component", "bridge", "mode", opts.Mode),
	}
}

// Init selects the executor. In worker and remote mode it spawns the worker
// and pings it; any failure switches to inline execution. Init only returns
// an error when no executor at all can be created.
func (b *Bridge) Init(ctx context.Context) error {
	b.mu.RLock()
	initialized := b.state != StateUninitialized
	b.mu.RUnlock()
	if initialized {
		return nil
	}

	if b.opts.Mode == ModeInline || b.opts.Spawn == nil {
		inline, err := b.newInline(nil)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.inline = inline
		b.mu.Unlock()
		b.setState(StateReady)
		b.logger.Info("bridge ready", "executor", "inline")
		return nil
	}

	transport, err := b.opts.Spawn(ctx)
	if err != nil {
		return b.fallback(fmt.Errorf("spawning worker: %w", err))
	}
	bg := NewBackground(transport, b.opts.Timeout, b.onWorkerFailure)
	b.mu.Lock()
	b.background = bg
	b.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	if err := bg.Ping(pingCtx); err != nil {
		ferr := b.fallback(fmt.Errorf("pinging worker: %w", err))
		bg.Close()
		return ferr
	}

	b.mu.Lock()
	if b.state == StateUninitialized {
		b.state = StateReady
		b.mu.Unlock()
		b.notify(StateReady)
		b.logger.Info("bridge ready", "executor", "background")
		return nil
	}
	b.mu.Unlock()
	return nil
}

func (b *Bridge) onWorkerFailure(err error) {
	if ferr := b.fallback(err); ferr != nil {
		b.logger.Error("inline fallback failed", "error", ferr)
	}
}

// fallback flips the bridge to unavailable exactly once and builds the
// inline engine from the replay log.
func (b *Bridge) fallback(cause error) error {
	b.mu.Lock()
	if b.state == StateUnavailable || b.closed {
		b.mu.Unlock()
		return nil
	}
	inline, err := b.newInline(b.replay)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.state = StateUnavailable
	b.inline = inline
	b.background = nil
	b.lastErr = cause
	replayed := len(b.replay)
	b.mu.Unlock()

	b.notify(StateUnavailable)
	b.logger.Warn("background execution unavailable, running inline",
		"cause", cause,
		"replayed_documents", replayed,
	)
	return nil
}

func (b *Bridge) newInline(docs []proto.Document) (*Inline, error) {
	engine, err := indexer.NewEngine(b.opts.Engine)
	if err != nil {
		return nil, fmt.Errorf("creating inline engine: %w", err)
	}
	if len(docs) > 0 {
		engine.BuildIndex(docs)
	}
	return NewInline(engine), nil
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.notify(s)
}

func (b *Bridge) notify(s State) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(s)
	}
}

// executor returns the executor for the next call; record runs under the
// same lock so the replay log and the choice of executor stay consistent.
func (b *Bridge) executor(record func()) (SearchExecutor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if record != nil {
		record()
	}
	switch {
	case b.state == StateUnavailable, b.background == nil && b.inline != nil:
		return b.inline, nil
	case b.background != nil:
		return b.background, nil
	default:
		return nil, fmt.Errorf("bridge not initialized")
	}
}

// BuildIndex replaces the index with docs.
func (b *Bridge) BuildIndex(ctx context.Context, docs []proto.Document) (int, error) {
	exec, err := b.executor(func() { b.replay = append([]proto.Document(nil), docs...) })
	if err != nil {
		return 0, err
	}
	return exec.BuildIndex(ctx, docs)
}

// LoadChunk merges docs into the index.
func (b *Bridge) LoadChunk(ctx context.Context, docs []proto.Document) (int, error) {
	exec, err := b.executor(func() { b.replay = indexer.MergeDocuments(b.replay, docs) })
	if err != nil {
		return 0, err
	}
	return exec.LoadChunk(ctx, docs)
}

// Search runs a query.
func (b *Bridge) Search(ctx context.Context, query string, limit int) (*proto.SearchResponse, error) {
	exec, err := b.executor(nil)
	if err != nil {
		return nil, err
	}
	return exec.Search(ctx, query, limit)
}

// ClearIndex empties the index.
func (b *Bridge) ClearIndex(ctx context.Context) error {
	exec, err := b.executor(func() { b.replay = nil })
	if err != nil {
		return err
	}
	return exec.ClearIndex(ctx)
}

// State returns the lifecycle state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Executor names the executor currently serving calls.
func (b *Bridge) Executor() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.background != nil && b.state != StateUnavailable {
		return b.opts.Mode
	}
	return ModeInline
}

// LastError returns the failure that made the bridge unavailable.
func (b *Bridge) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Close releases the worker and the inline engine.
func (b *Bridge) Close() error {
	b.mu.Lock()
	bg, inline := b.background, b.inline
	b.background, b.inline = nil, nil
	b.closed = true
	b.mu.Unlock()
	if bg != nil {
		bg.Close()
	}
	if inline != nil {
		inline.Close()
	}
	return nil
}

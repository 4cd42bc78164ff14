package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// DefaultTimeout bounds every background call.
const DefaultTimeout = 30 * time.Second

// SearchExecutor runs index operations somewhere.
type SearchExecutor interface {
	BuildIndex(ctx context.Context, docs []proto.Document) (int, error)
	LoadChunk(ctx context.Context, docs []proto.Document) (int, error)
	Search(ctx context.Context, query string, limit int) (*proto.SearchResponse, error)
	ClearIndex(ctx context.Context) error
	Close() error
}

// ---------- Inline ----------

// Inline runs operations on an engine in the calling goroutine.
type Inline struct {
	engine *indexer.Engine
}

// NewInline wraps engine.
func NewInline(engine *indexer.Engine) *Inline {
	return &Inline{engine: engine}
}

func (i *Inline) BuildIndex(_ context.Context, docs []proto.Document) (int, error) {
	return i.engine.BuildIndex(docs), nil
}

func (i *Inline) LoadChunk(_ context.Context, docs []proto.Document) (int, error) {
	return i.engine.LoadChunk(docs), nil
}

func (i *Inline) Search(_ context.Context, query string, limit int) (*proto.SearchResponse, error) {
	return i.engine.Search(query, limit), nil
}

func (i *Inline) ClearIndex(context.Context) error {
	i.engine.ClearIndex()
	return nil
}

func (i *Inline) Close() error {
	i.engine.Close()
	return nil
}

// ---------- Background ----------

// Background sends every operation to a worker over a Transport and waits
// for the reply carrying the same correlation id.
type Background struct {
	transport Transport
	timeout   time.Duration
	onFailure func(error)
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]chan proto.Envelope

	dead     chan struct{}
	failOnce sync.Once
	failErr  error
}

// NewBackground starts reading replies from t. onFailure, if set, is
// called once when the worker reports a fatal error or the transport
// breaks.
func NewBackground(t Transport, timeout time.Duration, onFailure func(error)) *Background {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	b := &Background{
		transport: t,
		timeout:   timeout,
		onFailure: onFailure,
		logger:    slog.Default().With("component", "bridge-background"),
		pending:   make(map[string]chan proto.Envelope),
		dead:      make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *Background) readLoop() {
	for {
		env, err := b.transport.Receive()
		if err != nil {
			b.fail(fmt.Errorf("%w: %v", apperrors.ErrWorkerUnavailable, err))
			return
		}
		if env.Kind == proto.MsgFatal {
			b.fail(fmt.Errorf("%w: %s", apperrors.ErrWorkerFailed, env.Error))
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[env.ID]
		delete(b.pending, env.ID)
		b.mu.Unlock()
		if !ok {
			b.logger.Warn("dropping reply without pending call", "id", env.ID, "kind", env.Kind)
			continue
		}
		ch <- env
	}
}

// fail marks the worker dead, closes the transport and rejects pending
// calls. Only the first call has any effect.
func (b *Background) fail(err error) {
	b.failOnce.Do(func() {
		b.failErr = err
		close(b.dead)
		b.transport.Close()
		b.mu.Lock()
		abandoned := len(b.pending)
		b.pending = make(map[string]chan proto.Envelope)
		b.mu.Unlock()
		b.logger.Error("worker lost", "error", err, "pending_rejected", abandoned)
		if b.onFailure != nil {
			b.onFailure(err)
		}
	})
}

// Pending returns the number of calls awaiting a reply.
func (b *Background) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Ping round-trips a ping envelope.
func (b *Background) Ping(ctx context.Context) error {
	_, err := b.call(ctx, proto.Envelope{Kind: proto.MsgPing}, proto.MsgPong)
	return err
}

func (b *Background) BuildIndex(ctx context.Context, docs []proto.Document) (int, error) {
	reply, err := b.call(ctx, proto.Envelope{
		Kind: proto.MsgBuildIndex,
		Docs: &proto.DocumentsBody{Documents: docs},
	}, proto.MsgAck)
	if err != nil {
		return 0, err
	}
	return indexed(reply), nil
}

func (b *Background) LoadChunk(ctx context.Context, docs []proto.Document) (int, error) {
	reply, err := b.call(ctx, proto.Envelope{
		Kind: proto.MsgLoadChunk,
		Docs: &proto.DocumentsBody{Documents: docs},
	}, proto.MsgAck)
	if err != nil {
		return 0, err
	}
	return indexed(reply), nil
}

func (b *Background) Search(ctx context.Context, query string, limit int) (*proto.SearchResponse, error) {
	reply, err := b.call(ctx, proto.Envelope{
		Kind:   proto.MsgSearch,
		Search: &proto.SearchBody{Query: query, Limit: limit},
	}, proto.MsgResult)
	if err != nil {
		return nil, err
	}
	if reply.Result == nil {
		return proto.EmptyResponse(query), nil
	}
	return reply.Result, nil
}

func (b *Background) ClearIndex(ctx context.Context) error {
	_, err := b.call(ctx, proto.Envelope{Kind: proto.MsgClearIndex}, proto.MsgAck)
	return err
}

// Close terminates the transport. Pending calls are rejected.
func (b *Background) Close() error {
	b.fail(fmt.Errorf("%w: closed", apperrors.ErrWorkerUnavailable))
	return nil
}

func (b *Background) call(ctx context.Context, env proto.Envelope, want proto.MessageKind) (proto.Envelope, error) {
	select {
	case <-b.dead:
		return proto.Envelope{}, b.failErr
	default:
	}

	env.ID = uuid.NewString()
	ch := make(chan proto.Envelope, 1)
	b.mu.Lock()
	b.pending[env.ID] = ch
	b.mu.Unlock()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	if err := b.transport.Send(ctx, env); err != nil {
		b.forget(env.ID)
		return proto.Envelope{}, fmt.Errorf("%w: sending %s: %v", apperrors.ErrWorkerUnavailable, env.Kind, err)
	}

	select {
	case reply := <-ch:
		switch reply.Kind {
		case want:
			return reply, nil
		case proto.MsgError:
			return proto.Envelope{}, fmt.Errorf("%w: %s", apperrors.ErrWorkerFailed, reply.Error)
		default:
			return proto.Envelope{}, fmt.Errorf("%w: unexpected reply %s to %s", apperrors.ErrWorkerFailed, reply.Kind, env.Kind)
		}
	case <-timer.C:
		b.forget(env.ID)
		b.logger.Warn("worker call timed out", "id", env.ID, "kind", env.Kind, "timeout", b.timeout)
		return proto.Envelope{}, fmt.Errorf("%w: %s after %s", apperrors.ErrTimeout, env.Kind, b.timeout)
	case <-ctx.Done():
		b.forget(env.ID)
		return proto.Envelope{}, ctx.Err()
	case <-b.dead:
		return proto.Envelope{}, b.failErr
	}
}

func (b *Background) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func indexed(env proto.Envelope) int {
	if env.Ack == nil {
		return 0
	}
	return env.Ack.Indexed
}

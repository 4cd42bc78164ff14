package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// Worker executes envelopes against its own engine. The index lives only
// inside the worker.
type Worker struct {
	engine *indexer.Engine
	logger *slog.Logger
}

// NewWorker returns a Worker backed by a fresh engine.
func NewWorker(opts indexer.Options) (*Worker, error) {
	engine, err := indexer.NewEngine(opts)
	if err != nil {
		return nil, fmt.Errorf("creating worker engine: %w", err)
	}
	return &Worker{
		engine: engine,
		logger: slog.Default().With("component", "search-worker"),
	}, nil
}

// Serve processes requests from t one at a time until the transport
// closes, ctx is done, or a request panics. A panic is reported to the
// peer with a fatal envelope and ends the worker.
func (w *Worker) Serve(ctx context.Context, t Transport) error {
	defer w.engine.Close()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env, err := t.Receive()
		if err != nil {
			w.logger.Debug("worker transport closed", "error", err)
			return nil
		}
		reply, err := w.safeHandle(env)
		if err != nil {
			w.logger.Error("worker crashed", "kind", env.Kind, "error", err)
			_ = t.Send(ctx, proto.Envelope{Kind: proto.MsgFatal, Error: err.Error()})
			return err
		}
		if err := t.Send(ctx, reply); err != nil {
			w.logger.Debug("worker reply failed", "kind", env.Kind, "error", err)
			return nil
		}
	}
}

func (w *Worker) safeHandle(env proto.Envelope) (reply proto.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", env.Kind, r)
		}
	}()
	return w.handle(env), nil
}

func (w *Worker) handle(env proto.Envelope) proto.Envelope {
	reply := proto.Envelope{ID: env.ID}
	switch env.Kind {
	case proto.MsgPing:
		reply.Kind = proto.MsgPong
	case proto.MsgBuildIndex:
		reply.Kind = proto.MsgAck
		reply.Ack = &proto.AckBody{Indexed: w.engine.BuildIndex(documents(env))}
	case proto.MsgLoadChunk:
		reply.Kind = proto.MsgAck
		reply.Ack = &proto.AckBody{Indexed: w.engine.LoadChunk(documents(env))}
	case proto.MsgClearIndex:
		w.engine.ClearIndex()
		reply.Kind = proto.MsgAck
		reply.Ack = &proto.AckBody{}
	case proto.MsgSearch:
		if env.Search == nil {
			reply.Kind = proto.MsgError
			reply.Error = "search request without body"
			break
		}
		reply.Kind = proto.MsgResult
		reply.Result = w.engine.Search(env.Search.Query, env.Search.Limit)
	default:
		reply.Kind = proto.MsgError
		reply.Error = fmt.Sprintf("unknown message kind %q", env.Kind)
	}
	return reply
}

func documents(env proto.Envelope) []proto.Document {
	if env.Docs == nil {
		return nil
	}
	return env.Docs.Documents
}

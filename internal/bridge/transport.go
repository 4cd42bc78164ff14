package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// ErrClosed is returned by a closed Transport.
var ErrClosed = errors.New("transport closed")

// Transport moves envelopes between the bridge and a worker. Send may be
// called concurrently; Receive is called from a single goroutine and
// returns an error once the transport is closed or broken.
// *rpc.Conn satisfies it.
type Transport interface {
	Send(ctx context.Context, env proto.Envelope) error
	Receive() (proto.Envelope, error)
	Close() error
}

// pipeEnd is one side of an in-process channel pipe.
type pipeEnd struct {
	in   <-chan proto.Envelope
	out  chan<- proto.Envelope
	done chan struct{}
	once *sync.Once
}

// NewPipe returns the two connected ends of an in-process transport.
// Closing either end closes both.
func NewPipe() (Transport, Transport) {
	a := make(chan proto.Envelope, 16)
	b := make(chan proto.Envelope, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: b, out: a, done: done, once: once},
		&pipeEnd{in: a, out: b, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, env proto.Envelope) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive() (proto.Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.done:
		return proto.Envelope{}, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Package rpc carries bridge envelopes over TCP.
//
// Protocol: newline-delimited JSON proto.Envelope values over a persistent
// connection. Either side may send at any time; requests and replies are
// paired by Envelope.ID, not by ordering.
//
// Example worker:
//
//	s := rpc.NewServer(func(ctx context.Context, c *rpc.Conn) {
//	    worker.Serve(ctx, c)
//	})
//	s.ListenAndServe(ctx, ":9400")
//
// Example client:
//
//	c, _ := rpc.Dial(ctx, "localhost:9400")
//	c.Send(ctx, proto.Envelope{ID: "1", Kind: proto.MsgPing})
//	reply, _ := c.Receive()
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

// Conn is one end of an envelope stream. Send is safe for concurrent use;
// Receive must be called from a single goroutine.
type Conn struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	mu      sync.Mutex
	once    sync.Once
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}
}

// Dial connects to a worker at addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return NewConn(conn), nil
}

// Send writes env. The context deadline, if any, bounds the write.
func (c *Conn) Send(ctx context.Context, env proto.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.encoder.Encode(env); err != nil {
		return fmt.Errorf("sending %s: %w", env.Kind, err)
	}
	return nil
}

// Receive blocks until the next envelope arrives or the connection fails.
func (c *Conn) Receive() (proto.Envelope, error) {
	var env proto.Envelope
	if err := c.decoder.Decode(&env); err != nil {
		return proto.Envelope{}, fmt.Errorf("reading envelope: %w", err)
	}
	return env, nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

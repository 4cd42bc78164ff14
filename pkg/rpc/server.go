package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// HandlerFunc owns a connection until it returns. The connection is closed
// afterwards.
type HandlerFunc func(ctx context.Context, c *Conn)

// Server accepts envelope connections and hands each to its handler on a
// dedicated goroutine.
type Server struct {
	handler  HandlerFunc
	logger   *slog.Logger
	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a Server dispatching to handler.
func NewServer(handler HandlerFunc) *Server {
	return &Server{
		handler: handler,
		logger:  slog.Default().With("component", "rpc-server"),
		conns:   make(map[*Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Stop is called. Open
// connections are closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			s.closeConns()
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("rpc server stopped")
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		conn := NewConn(raw)
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.logger.Info("connection accepted", "remote", conn.RemoteAddr())
			s.handler(ctx, conn)
			s.logger.Info("connection closed", "remote", conn.RemoteAddr())
		}()
	}
}

// Stop closes the listener; Serve returns once every handler has finished.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) track(c *Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

package bridge

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/rpc"
)

// InProcess spawns a Worker on its own goroutine connected by a channel
// pipe.
func InProcess(opts indexer.Options) Spawner {
	return func(context.Context) (Transport, error) {
		w, err := NewWorker(opts)
		if err != nil {
			return nil, err
		}
		client, server := NewPipe()
		go func() {
			defer server.Close()
			_ = w.Serve(context.Background(), server)
		}()
		return client, nil
	}
}

// Remote connects to a searchworker process at addr.
func Remote(addr string) Spawner {
	return func(ctx context.Context) (Transport, error) {
		conn, err := rpc.Dial(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to remote worker: %w", err)
		}
		return conn, nil
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/bridge"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	addr := flag.String("addr", "", "listen address (defaults to bridge.remoteAddr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	listen := *addr
	if listen == "" {
		listen = cfg.Bridge.RemoteAddr
	}
	if listen == "" {
		listen = ":9400"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := indexer.OptionsFromConfig(cfg.Index, cfg.Search)
	// Each connection gets its own engine; the index lives and dies with it.
	server := rpc.NewServer(func(ctx context.Context, c *rpc.Conn) {
		w, err := bridge.NewWorker(opts)
		if err != nil {
			slog.Error("creating worker failed", "remote", c.RemoteAddr(), "error", err)
			return
		}
		if err := w.Serve(ctx, c); err != nil && ctx.Err() == nil {
			slog.Error("worker stopped", "remote", c.RemoteAddr(), "error", err)
		}
	})

	slog.Info("starting search worker", "addr", listen)
	if err := server.ListenAndServe(ctx, listen); err != nil {
		slog.Error("search worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search worker stopped")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/bridge"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/searcher/service"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/resilience"
)

var bridgeStates = []string{
	bridge.StateUninitialized.String(),
	bridge.StateReady.String(),
	bridge.StateUnavailable.String(),
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"source", cfg.Source.Kind,
		"store", cfg.Store.Backend,
		"bridge", cfg.Bridge.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	backend, err := store.OpenBackend(cfg.Store, cfg.Redis)
	if err != nil {
		slog.Warn("snapshot store unavailable, continuing without it", "backend", cfg.Store.Backend, "error", err)
		backend = nil
	}
	snapshots, err := store.New(ctx, backend, cfg.Store.TTL)
	if err != nil {
		slog.Error("failed to create snapshot store", "error", err)
		os.Exit(1)
	}

	src, closeSource, err := source.New(cfg)
	if err != nil {
		slog.Error("failed to create document source", "kind", cfg.Source.Kind, "error", err)
		os.Exit(1)
	}
	defer closeSource()
	works, _ := src.(source.WorkSource)

	br := bridge.New(bridge.Options{
		Mode:    cfg.Bridge.Mode,
		Spawn:   spawner(cfg),
		Timeout: cfg.Bridge.Timeout,
		Engine:  indexer.OptionsFromConfig(cfg.Index, cfg.Search),
		OnStateChange: func(s bridge.State) {
			m.SetBridgeState(s.String(), bridgeStates...)
			if s == bridge.StateUnavailable {
				m.BridgeFallbacksTotal.Inc()
			}
		},
	})

	aggregator := analytics.NewAggregator()
	var producer *kafka.Producer
	var publisher analytics.Publisher
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		publisher = producer
	}
	collector := analytics.NewCollector(publisher, aggregator, 100, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()

	var history *analytics.History
	if cfg.Analytics.Persist {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to analytics database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		history = analytics.NewHistory(db.DB)
		if err := history.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare analytics history", "error", err)
			os.Exit(1)
		}
		if latest, err := history.Latest(ctx); err != nil {
			slog.Warn("reading last stats snapshot failed", "error", err)
		} else if latest != nil {
			slog.Info("previous stats snapshot",
				"captured_at", latest.CapturedAt,
				"total_searches", latest.Stats.TotalSearches,
			)
		}
		snapshotsDone := make(chan struct{})
		go func() {
			defer close(snapshotsDone)
			analytics.RunSnapshots(ctx, history, aggregator, cfg.Analytics.SnapshotInterval)
		}()
		defer func() { <-snapshotsDone }()
	}

	svc := service.New(cfg, service.Deps{
		Source:  src,
		Works:   works,
		Store:   snapshots,
		Bridge:  br,
		Events:  collector,
		Metrics: m,
	})
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("closing search service", "error", err)
		}
	}()

	initCtx, cancelInit := context.WithTimeout(ctx, cfg.Bridge.Timeout+cfg.Source.Timeout)
	err = svc.Init(initCtx)
	cancelInit()
	if err != nil {
		slog.Error("failed to initialize search index", "error", err)
		os.Exit(1)
	}

	go svc.RunJanitor(ctx, cfg.Chunks.CleanupInterval)
	startCorpusWatchers(ctx, cfg, src, svc)

	checker := health.NewChecker(2 * time.Second)
	registerChecks(checker, cfg, svc, snapshots, src, m)

	adminKeys, err := apikey.NewValidator(cfg.Server.AdminKeyHashes)
	if err != nil {
		slog.Error("invalid admin key configuration", "error", err)
		os.Exit(1)
	}
	if adminKeys == nil {
		slog.Warn("no admin keys configured, maintenance endpoints are open")
	}

	h := handler.New(svc, aggregator, cfg.Search.DefaultLimit, cfg.Search.MaxResults)
	if history != nil {
		h.WithHistory(history)
	}
	var limiter *middleware.RateLimiter
	if cfg.Server.RatePerSec > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RatePerSec, cfg.Server.RateBurst)
	}
	router := handler.NewRouter(h, handler.RouterOptions{
		Checker:        checker,
		Metrics:        m,
		Limiter:        limiter,
		AdminKeys:      adminKeys,
		AllowOrigins:   cfg.Server.AllowOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

func spawner(cfg *config.Config) bridge.Spawner {
	switch cfg.Bridge.Mode {
	case bridge.ModeRemote:
		return bridge.Remote(cfg.Bridge.RemoteAddr)
	case bridge.ModeWorker:
		return bridge.InProcess(indexer.OptionsFromConfig(cfg.Index, cfg.Search))
	default:
		return nil
	}
}

// startCorpusWatchers rebuilds the index when the corpus changes: on a
// corpus-updated Kafka message, or when a watched source file is rewritten.
func startCorpusWatchers(ctx context.Context, cfg *config.Config, src source.DocumentSource, svc *service.Service) {
	rebuild := func(reason string) {
		if err := svc.Rebuild(ctx, reason); err != nil {
			slog.Error("index rebuild failed", "reason", reason, "error", err)
		}
	}

	if cfg.Kafka.Enabled && cfg.Kafka.Topics.CorpusUpdated != "" {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CorpusUpdated,
			kafka.HandleJSON(func(ctx context.Context, ev analytics.CorpusUpdated) error {
				slog.Info("corpus update received", "version", ev.Version, "reason", ev.Reason)
				return svc.Rebuild(ctx, "corpus-updated: "+ev.Reason)
			}),
		)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("corpus update consumer stopped", "error", err)
			}
		}()
		slog.Info("corpus update consumer started", "topic", cfg.Kafka.Topics.CorpusUpdated)
	}

	if fs, ok := src.(*source.FileSource); ok && cfg.Source.Watch {
		go func() {
			err := fs.Watch(ctx, func() { rebuild("file changed") })
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("source file watch stopped", "path", cfg.Source.Path, "error", err)
			}
		}()
		slog.Info("watching source file", "path", cfg.Source.Path)
	}
}

func registerChecks(checker *health.Checker, cfg *config.Config, svc *service.Service, snapshots *store.PersistentCache, src source.DocumentSource, m *metrics.Metrics) {
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st := svc.Status(ctx)
		switch {
		case !st.Initialized:
			return health.ComponentHealth{Status: health.StatusDown, Message: "index not built"}
		case st.BridgeState == bridge.StateUnavailable.String():
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "running inline: " + st.BridgeError}
		default:
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: fmt.Sprintf("%d documents via %s", st.Indexed, st.Executor),
			}
		}
	})

	if snapshots.Enabled() {
		checker.Register("store", health.PingCheck(snapshots.Ping, true))
	}

	switch s := src.(type) {
	case *source.PostgresSource:
		checker.Register("postgres", health.PingCheck(s.Ping, true))
	case *source.HTTPSource:
		breaker := s.Breaker()
		checker.Register("source", func(context.Context) health.ComponentHealth {
			st := breaker.Status()
			m.CircuitBreakerState.WithLabelValues(breaker.Name()).Set(float64(st.State))
			if st.State == resilience.StateOpen {
				return health.ComponentHealth{
					Status:  health.StatusDegraded,
					Message: fmt.Sprintf("circuit open after %d failures, retry in %s", st.Failures, st.RetryIn.Round(time.Second)),
				}
			}
			return health.ComponentHealth{Status: health.StatusUp, Message: cfg.Source.URL}
		})
	}
}

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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/stream-supervisor/internal/broker"
	"github.com/rickgao/stream-supervisor/internal/config"
	"github.com/rickgao/stream-supervisor/internal/database"
	"github.com/rickgao/stream-supervisor/internal/dispatch"
	"github.com/rickgao/stream-supervisor/internal/echo"
	"github.com/rickgao/stream-supervisor/internal/journal"
	"github.com/rickgao/stream-supervisor/internal/metrics"
	"github.com/rickgao/stream-supervisor/internal/statusfeed"
	"github.com/rickgao/stream-supervisor/internal/stream"
	"github.com/rickgao/stream-supervisor/internal/supervisor"
	"github.com/rickgao/stream-supervisor/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/supervisor.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting stream supervisor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"consumers", len(cfg.Consumers),
		"auto_reconnect", cfg.Broker.AutoReconnect,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheus(reg, "")

	hub := statusfeed.NewHub(logger)
	heartbeats := echo.New(logger)
	consumers := newConsumerSet(cfg.Consumers)

	// Subscriptions dropped by a reconnect are requested again unless we are stopping.
	var stopping atomic.Bool
	var sup supervisor.Supervisor
	dispatcher := dispatch.New(logger, dispatch.WithOnDrop(func(id string) {
		if stopping.Load() {
			return
		}
		if c, ok := consumers.wanted(id); ok {
			sup.NewConsumer(c)
		}
	}))

	hooks := supervisor.Hooks{
		OnModeChange: func(from, to supervisor.Mode) {
			hub.Publish(statusfeed.Event{Mode: to.String(), Previous: from.String(), At: time.Now()})
		},
		OnAdmissionError: func(id string, err error) {
			logger.Error("consumer rejected", "consumer", id, "error", err)
		},
		OnConsumerDropped: func(id string, err error) {
			heartbeats.Forget(id)
			logger.Error("consumer dropped", "consumer", id, "error", err)
		},
	}

	var events *journal.Writer
	if cfg.Journal.Enabled {
		pool, err := database.Connect(ctx, cfg.Journal.Database, "stream-supervisor/"+cfg.Instance.ID)
		if err != nil {
			logger.Error("failed to connect journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		// The writer outlives ctx so the final mode changes during Stop are kept.
		events = journal.NewWriter(cfg.Journal, cfg.Instance.ID, pool, logger)
		if err := events.Start(context.Background()); err != nil {
			logger.Error("failed to start journal", "error", err)
			os.Exit(1)
		}
		hooks = journal.Hooks(events, hooks)
	}

	sup, err = supervisor.New(supervisorConfig(cfg), supervisor.Deps{
		Dialer:      broker.NewAMQPDialer(logger),
		Dispatcher:  dispatcher,
		Subscribers: stream.Factory(config.DefaultPrefetch, logHandler(logger), heartbeats, collector, logger),
		Echo:        heartbeats,
	},
		supervisor.WithLogger(logger),
		supervisor.WithMetrics(collector),
		supervisor.WithHooks(hooks),
	)
	if err != nil {
		logger.Error("failed to create supervisor", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: newHandler(handlerDeps{
			instanceID: cfg.Instance.ID,
			sup:        sup,
			dispatcher: dispatcher,
			heartbeats: heartbeats,
			consumers:  consumers,
			staleAfter: 3 * cfg.Health.CheckInterval,
			gatherer:   reg,
			hub:        hub,
			paths:      cfg.Server,
			logger:     logger,
		}),
	}

	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}
	for _, c := range consumers.all() {
		sup.NewConsumer(c)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		stopping.Store(true)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := sup.Stop(shutdownCtx); err != nil {
			logger.Warn("supervisor stop", "error", err)
		}
		if events != nil {
			if err := events.Stop(shutdownCtx); err != nil {
				logger.Warn("journal stop", "error", err)
			}
		}
		hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("stream supervisor running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("stream supervisor failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stream supervisor stopped")
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	return supervisor.Config{
		AutoReconnect:          cfg.Broker.AutoReconnect,
		DisconnectionDelay:     cfg.Broker.DisconnectionDelay,
		HeartbeatInterval:      cfg.Broker.HeartbeatInterval,
		ConnectBackoff:         cfg.Broker.ConnectBackoff,
		RecoveryInterval:       cfg.Broker.RecoveryInterval,
		ConnectionName:         cfg.Broker.ConnectionName,
		RetryThreshold:         cfg.Admission.RetryThreshold,
		RetryDelay:             cfg.Admission.RetryDelay,
		GlobalFailureThreshold: cfg.Admission.GlobalFailureThreshold,
		RemovalTimeout:         cfg.Admission.RemovalTimeout,
		HealthCheckInterval:    cfg.Health.CheckInterval,
	}
}

// logHandler records each delivery at debug level.
func logHandler(logger *slog.Logger) stream.Handler {
	return func(_ context.Context, consumerID string, env stream.Envelope) error {
		logger.Debug("message received",
			"consumer", consumerID,
			"type", env.Type,
			"lag", time.Since(env.SentAt),
			"bytes", len(env.Payload),
		)
		return nil
	}
}

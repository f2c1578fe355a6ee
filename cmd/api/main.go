package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nesthaus/riskengine/internal/app"
	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/engine"
	"github.com/nesthaus/riskengine/internal/guard"
	"github.com/nesthaus/riskengine/internal/infra"
	"github.com/nesthaus/riskengine/internal/metrics"
)

const (
	guardSweepInterval   = time.Minute
	shipperFailThreshold = 5
	shipperResetTimeout  = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// Archive (optional)
	var pool *pgxpool.Pool
	if cfg.ArchiveEnabled {
		if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		pool, err = infra.NewPostgresPool(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to postgres")
	}

	// Engine
	eng := engine.New(cfg.EngineConfig(), logger)
	eng.Start(ctx)
	defer eng.Stop()

	// Broker shipper (optional)
	producer := infra.NewKafkaProducer(cfg.Brokers(), cfg.KafkaEnabled, logger)
	defer producer.Close()

	var shipper *infra.EventShipper
	shipCtx, stopShipper := context.WithCancel(context.Background())
	defer stopShipper()
	if producer.Enabled() {
		breaker := guard.NewCircuitBreaker(shipperFailThreshold, shipperResetTimeout)
		shipper = infra.NewEventShipper(producer, breaker, infra.ShipperTopics{
			Events: cfg.KafkaEventsTopic,
			Alerts: cfg.KafkaAlertsTopic,
		}, cfg.ShipperQueueSize, logger)
		go shipper.Run(shipCtx)
	}

	// Live stream
	hub := infra.NewWSHub(logger)
	unsubscribe := app.ConnectFeeds(eng.Monitor(), hub, shipper)
	defer unsubscribe()

	// Runtime metrics
	sources := metrics.Sources{
		Sessions:         eng.SessionCount,
		EventLog:         eng.Monitor().EventCount,
		ActiveAlerts:     eng.Monitor().AlertCount,
		BotDetectionRate: func() float64 { return eng.Detector().RealTimeStats().DetectionRate },
		ResponseTime:     eng.Monitor().AverageResponseTime,
		StreamClients:    hub.ConnectionCount,
	}
	if shipper != nil {
		sources.Shipper = func() (int64, int64, int64) {
			st := shipper.Stats()
			return st.Shipped, st.Dropped, st.Failed
		}
	}
	prometheus.MustRegister(metrics.NewRuntimeCollector(sources))

	// Guards
	guards := app.NewGuards(cfg.CollectorRateLimit, cfg.CollectorRateWindow)
	go sweepGuards(ctx, guards, logger)

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAnalystExpiry, cfg.JWTServiceExpiry)

	r := app.NewRouter(app.RouterDeps{
		Engine:           eng,
		JWTMgr:           jwtMgr,
		Hub:              hub,
		Guards:           guards,
		Pool:             pool,
		Logger:           logger,
		CORSOrigins:      cfg.AllowedOrigins(),
		RequestTimeout:   cfg.RequestTimeout,
		BlockOnDetection: cfg.BlockOnDetection,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	hub.Shutdown(shutdownCtx)

	if shipper != nil {
		stopShipper()
		select {
		case <-shipper.Done():
		case <-shutdownCtx.Done():
		}
	}

	logger.Info("server stopped gracefully")
	return nil
}

func sweepGuards(ctx context.Context, guards *app.Guards, logger *slog.Logger) {
	ticker := time.NewTicker(guardSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := guards.Sweep(); n > 0 {
				logger.Debug("guard state swept", "entries", n)
			}
		}
	}
}

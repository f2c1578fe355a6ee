package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nesthaus/riskengine/internal/infra"
	"github.com/nesthaus/riskengine/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("event consumer failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	topics := infra.ShipperTopics{Events: cfg.KafkaEventsTopic, Alerts: cfg.KafkaAlertsTopic}
	consumer := infra.NewKafkaConsumer(cfg.Brokers(), []string{topics.Events, topics.Alerts}, cfg.KafkaGroupID, cfg.KafkaEnabled, logger)
	defer consumer.Close()
	if !consumer.Enabled() {
		return errors.New("kafka is disabled; set KAFKA_ENABLED=true and KAFKA_BROKERS")
	}

	if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	pool, err := infra.NewPostgresPool(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("event-consumer connected to postgres")

	archiver := infra.NewArchiver(consumer, pool,
		repository.NewSecurityEventRepository(),
		repository.NewSecurityAlertRepository(),
		topics, logger)

	logger.Info("event-consumer starting", "group_id", cfg.KafkaGroupID, "events_topic", topics.Events, "alerts_topic", topics.Alerts)
	if err := archiver.Run(ctx); err != nil {
		return err
	}

	st := archiver.Stats()
	logger.Info("event-consumer shutting down",
		"events", st.Events,
		"duplicates", st.Duplicates,
		"alerts", st.Alerts,
		"skipped", st.Skipped,
	)
	return nil
}

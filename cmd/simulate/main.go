package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/infra"
	"github.com/nesthaus/riskengine/internal/simulate"
)

type flags struct {
	endpoint    string
	sessions    int
	botRate     float64
	events      int
	concurrency int
	seed        uint64
}

func parseFlags() (flags, error) {
	var f flags
	flag.StringVar(&f.endpoint, "endpoint", "http://localhost:3100", "Base URL of the risk engine API")
	flag.IntVar(&f.sessions, "sessions", 50, "Number of sessions to simulate")
	flag.Float64Var(&f.botRate, "bot-rate", 0.25, "Fraction of sessions that behave like bots (0.0 - 1.0)")
	flag.IntVar(&f.events, "events", 120, "Tracked events per session")
	flag.IntVar(&f.concurrency, "concurrency", 5, "Sessions replayed in parallel")
	flag.Uint64Var(&f.seed, "seed", 0, "Generator seed (0 picks one from the clock)")
	flag.Parse()

	if f.botRate < 0 || f.botRate > 1 {
		return f, errors.New("bot-rate must be between 0.0 and 1.0")
	}
	if f.sessions < 1 || f.events < 1 {
		return f, errors.New("sessions and events must be positive")
	}
	if f.seed == 0 {
		f.seed = uint64(time.Now().UnixNano())
	}
	return f, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := parseFlags()
	if err != nil {
		return err
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAnalystExpiry, cfg.JWTServiceExpiry)
	token, err := jwtMgr.GenerateToken(auth.RealmService, "simulator", "", "")
	if err != nil {
		return fmt.Errorf("mint service token: %w", err)
	}

	gen := simulate.NewGenerator(f.seed, nil)
	client := simulate.NewClient(f.endpoint, token)

	logger.Info("simulation starting", "endpoint", f.endpoint, "sessions", f.sessions, "bot_rate", f.botRate, "seed", f.seed)
	start := time.Now()
	summary := simulate.Run(ctx, gen, client, simulate.RunConfig{
		Sessions:      f.sessions,
		BotRate:       f.botRate,
		EventsPerUser: f.events,
		Concurrency:   f.concurrency,
	}, logger)

	logger.Info("simulation finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"humans", summary.Humans,
		"humans_flagged", summary.HumansFlagged,
		"bots", summary.Bots,
		"bots_flagged", summary.BotsFlagged,
		"failures", summary.Failures,
	)
	if summary.Failures == f.sessions {
		return errors.New("every simulated session failed")
	}
	return nil
}

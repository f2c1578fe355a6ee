package simulate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nesthaus/riskengine/internal/engine"
)

// RunConfig sizes a simulation.
type RunConfig struct {
	Sessions      int
	BotRate       float64
	EventsPerUser int
	Concurrency   int
}

// Summary tallies how the engine judged the simulated sessions.
type Summary struct {
	Humans        int `json:"humans"`
	Bots          int `json:"bots"`
	BotsFlagged   int `json:"botsFlagged"`
	HumansFlagged int `json:"humansFlagged"`
	Failures      int `json:"failures"`
}

type plan struct {
	bot   bool
	batch engine.Batch
}

// Run generates every session up front, then replays and analyzes them with
// Concurrency workers. A cancelled ctx stops feeding new sessions.
func Run(ctx context.Context, gen *Generator, c *Client, cfg RunConfig, logger *slog.Logger) Summary {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	plans := make([]plan, 0, cfg.Sessions)
	bots := 0.0
	for i := 0; i < cfg.Sessions; i++ {
		id := gen.SessionID()
		// Spread bots evenly: session i is a bot when the running quota grows.
		if next := float64(i+1) * cfg.BotRate; next-bots >= 1 {
			bots++
			plans = append(plans, plan{bot: true, batch: gen.Bot(id, cfg.EventsPerUser)})
			continue
		}
		plans = append(plans, plan{batch: gen.Human(id, cfg.EventsPerUser)})
	}

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)
	work := make(chan plan)
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				flagged, err := replay(ctx, c, p.batch)
				mu.Lock()
				summary.tally(p.bot, flagged, err)
				mu.Unlock()
				if err != nil {
					logger.Warn("simulated session failed", "session_id", p.batch.SessionID, "error", err)
				}
			}
		}()
	}

feed:
	for _, p := range plans {
		select {
		case <-ctx.Done():
			break feed
		case work <- p:
		}
	}
	close(work)
	wg.Wait()
	return summary
}

func (s *Summary) tally(bot, flagged bool, err error) {
	switch {
	case err != nil:
		s.Failures++
	case bot:
		s.Bots++
		if flagged {
			s.BotsFlagged++
		}
	default:
		s.Humans++
		if flagged {
			s.HumansFlagged++
		}
	}
}

// replay uploads the batch and reports whether the analysis judged it a bot.
func replay(ctx context.Context, c *Client, b engine.Batch) (bool, error) {
	if _, err := c.Track(ctx, b); err != nil {
		return false, err
	}
	inv, err := c.Analyze(ctx, b.SessionID)
	if err != nil {
		return false, err
	}
	for _, rec := range inv.BotDetectionHistory {
		if rec.IsBot {
			return true, nil
		}
	}
	return false, nil
}

package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/repository"
)

const defaultArchiveRetry = 2 * time.Second

// MessageSource is satisfied by *KafkaConsumer.
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// ArchiveStats counts archived messages.
type ArchiveStats struct {
	Events     int
	Duplicates int
	Alerts     int
	Skipped    int
}

// Archiver writes shipped events and alerts into Postgres. A message is
// committed only after it has been stored or judged undecodable.
type Archiver struct {
	src    MessageSource
	db     repository.DBTX
	events repository.SecurityEventRepository
	alerts repository.SecurityAlertRepository
	topics ShipperTopics
	retry  time.Duration
	logger *slog.Logger

	stats ArchiveStats
}

// NewArchiver creates an Archiver reading from src.
func NewArchiver(src MessageSource, db repository.DBTX, events repository.SecurityEventRepository, alerts repository.SecurityAlertRepository, topics ShipperTopics, logger *slog.Logger) *Archiver {
	return &Archiver{
		src:    src,
		db:     db,
		events: events,
		alerts: alerts,
		topics: topics,
		retry:  defaultArchiveRetry,
		logger: logger,
	}
}

// Run archives messages until ctx is cancelled. Storage failures are retried
// on the same message so nothing is committed out of order.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		msg, err := a.src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		for {
			err = a.Handle(ctx, msg)
			if err == nil {
				break
			}
			a.logger.Error("archive message failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(a.retry):
			}
		}

		if err := a.src.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

var errUndecodable = errors.New("undecodable message")

// Handle stores one message. Messages that cannot be decoded, or arrive on an
// unknown topic, are logged and skipped.
func (a *Archiver) Handle(ctx context.Context, msg kafka.Message) error {
	err := a.store(ctx, msg)
	if errors.Is(err, errUndecodable) {
		a.stats.Skipped++
		a.logger.Warn("skipping message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	return err
}

func (a *Archiver) store(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case a.topics.Events:
		var ev domain.SecurityEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.ID == "" {
			return fmt.Errorf("%w: event: %v", errUndecodable, err)
		}
		inserted, err := a.events.Insert(ctx, a.db, ev)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		if inserted {
			a.stats.Events++
		} else {
			a.stats.Duplicates++
		}
	case a.topics.Alerts:
		var al domain.SecurityAlert
		if err := json.Unmarshal(msg.Value, &al); err != nil || al.ID == "" {
			return fmt.Errorf("%w: alert: %v", errUndecodable, err)
		}
		if err := a.alerts.Upsert(ctx, a.db, al); err != nil {
			return fmt.Errorf("upsert alert %s: %w", al.ID, err)
		}
		a.stats.Alerts++
	default:
		return fmt.Errorf("%w: unknown topic %q", errUndecodable, msg.Topic)
	}
	return nil
}

// Stats returns the archive counters. Not safe for use concurrently with Run.
func (a *Archiver) Stats() ArchiveStats { return a.stats }

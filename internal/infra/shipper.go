package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/guard"
)

const defaultPublishTimeout = 2 * time.Second

// Publisher sends one keyed message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// ShipperTopics names the destinations for events and alerts.
type ShipperTopics struct {
	Events string
	Alerts string
}

// ShipperStats counts what happened to queued messages.
type ShipperStats struct {
	Shipped int64 `json:"shipped"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Queued  int   `json:"queued"`
}

type shipment struct {
	topic string
	key   []byte
	value []byte
}

// EventShipper forwards security events and alerts to a message broker.
// Enqueueing never blocks: when the queue is full or the topic circuit is
// open the message is dropped and counted.
type EventShipper struct {
	publisher Publisher
	breaker   *guard.CircuitBreaker
	topics    ShipperTopics
	queue     chan shipment
	timeout   time.Duration
	logger    *slog.Logger

	shipped atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	runOnce sync.Once
	done    chan struct{}
}

// NewEventShipper creates a shipper with a queue of queueSize messages.
func NewEventShipper(p Publisher, breaker *guard.CircuitBreaker, topics ShipperTopics, queueSize int, logger *slog.Logger) *EventShipper {
	if queueSize < 1 {
		queueSize = 1
	}
	return &EventShipper{
		publisher: p,
		breaker:   breaker,
		topics:    topics,
		queue:     make(chan shipment, queueSize),
		timeout:   defaultPublishTimeout,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// ShipEvent queues an event. It is safe to use as a monitor listener.
func (s *EventShipper) ShipEvent(ev domain.SecurityEvent) {
	s.enqueue(s.topics.Events, ev.SessionID, ev)
}

// ShipAlert queues an alert. System alerts are keyed by their id.
func (s *EventShipper) ShipAlert(a domain.SecurityAlert) {
	key := a.SessionID
	if key == "" {
		key = a.ID
	}
	s.enqueue(s.topics.Alerts, key, a)
}

func (s *EventShipper) enqueue(topic, key string, v any) {
	value, err := json.Marshal(v)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("shipper marshal failed", "topic", topic, "error", err)
		return
	}
	select {
	case s.queue <- shipment{topic: topic, key: []byte(key), value: value}:
	default:
		s.dropped.Add(1)
	}
}

// Run publishes queued messages until ctx is cancelled. Messages still
// queued at that point are dropped.
func (s *EventShipper) Run(ctx context.Context) {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(s.done)

	s.logger.Info("event shipper started", "events_topic", s.topics.Events, "alerts_topic", s.topics.Alerts)
	for {
		select {
		case <-ctx.Done():
			s.dropped.Add(int64(len(s.queue)))
			s.logger.Info("event shipper stopped", "shipped", s.shipped.Load(), "dropped", s.dropped.Load())
			return
		case m := <-s.queue:
			s.publish(ctx, m)
		}
	}
}

// Done is closed once Run has returned.
func (s *EventShipper) Done() <-chan struct{} { return s.done }

func (s *EventShipper) publish(ctx context.Context, m shipment) {
	if res := s.breaker.Check(ctx, m.topic); !res.Allowed {
		s.dropped.Add(1)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, m.topic, m.key, m.value); err != nil {
		s.breaker.RecordFailure(m.topic)
		s.failed.Add(1)
		s.logger.Warn("kafka publish failed", "topic", m.topic, "error", err)
		return
	}
	s.breaker.RecordSuccess(m.topic)
	s.shipped.Add(1)
}

// Stats returns the shipper counters.
func (s *EventShipper) Stats() ShipperStats {
	return ShipperStats{
		Shipped: s.shipped.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
		Queued:  len(s.queue),
	}
}

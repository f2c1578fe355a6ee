// Package monitor keeps the security event log, aggregates alerts and
// derives the dashboard view.
package monitor

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/ring"
	"github.com/nesthaus/riskengine/internal/syncutil"
)

// Response action labels attached to events.
const (
	ActionRateLimit = "Applied rate limiting"
	ActionBlock     = "Blocked access"
	ActionNotify    = "Notified administrators"
)

const eventSource = "realtime-monitor"

// Config holds both the runtime-tunable settings and the fixed retention knobs.
type Config struct {
	AlertThresholds    domain.AlertThresholds
	AutoResponse       domain.AutoResponse
	RealTimeMonitoring bool

	EventCapacity        int
	EventRetention       time.Duration
	AlertRetention       time.Duration
	AlertIdleResolve     time.Duration
	AlertWindow          time.Duration
	DefaultTypeThreshold int
	TypeThresholds       map[domain.EventType]int
	LatencySamples       int
	MaintenanceInterval  time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		AlertThresholds:      domain.DefaultAlertThresholds(),
		AutoResponse:         domain.DefaultAutoResponse(),
		RealTimeMonitoring:   true,
		EventCapacity:        10000,
		EventRetention:       30 * 24 * time.Hour,
		AlertRetention:       7 * 24 * time.Hour,
		AlertIdleResolve:     time.Hour,
		AlertWindow:          10 * time.Minute,
		DefaultTypeThreshold: 5,
		LatencySamples:       256,
		MaintenanceInterval:  30 * time.Second,
	}
}

func (c Config) typeThreshold(t domain.EventType) int {
	if n, ok := c.TypeThresholds[t]; ok && n > 0 {
		return n
	}
	return c.DefaultTypeThreshold
}

// Update changes the runtime-tunable settings that are present.
type Update struct {
	AlertThresholds    *domain.AlertThresholdsUpdate
	AutoResponse       *domain.AutoResponseUpdate
	RealTimeMonitoring *bool
}

// SystemStats feeds the periodic threshold checks.
type SystemStats struct {
	BotDetectionRate       float64 // percent of classifications flagged as bots
	HighRiskSessionPercent float64 // percent of live sessions at high or critical risk
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithStatsProvider supplies system-wide rates for threshold alerts.
func WithStatsProvider(fn func() SystemStats) Option {
	return func(m *Monitor) { m.stats = fn }
}

type eventListener struct {
	fn    func(domain.SecurityEvent)
	types map[domain.EventType]bool
}

// Monitor is the in-memory security event log and alert aggregator.
type Monitor struct {
	logger *slog.Logger
	now    func() time.Time
	stats  func() SystemStats
	cfg    atomic.Pointer[Config]
	cfgMu  sync.Mutex

	mu     sync.RWMutex
	events *ring.Buffer[*domain.SecurityEvent]

	sessionLocks syncutil.ShardedMutex
	alertMu      sync.Mutex
	alerts       map[string]*domain.SecurityAlert // by id
	activeAlerts map[string]string                // session|type -> alert id
	windows      map[string][]time.Time           // session|type -> recent event times

	latMu     sync.Mutex
	latencies *ring.Buffer[time.Duration]

	listenMu       sync.RWMutex
	nextListener   int
	listeners      map[int]eventListener
	alertListeners map[int]func(domain.SecurityAlert)
}

// New creates a monitor.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		logger:         logger,
		now:            time.Now,
		stats:          func() SystemStats { return SystemStats{} },
		events:         ring.New[*domain.SecurityEvent](cfg.EventCapacity),
		alerts:         make(map[string]*domain.SecurityAlert),
		activeAlerts:   make(map[string]string),
		windows:        make(map[string][]time.Time),
		latencies:      ring.New[time.Duration](cfg.LatencySamples),
		listeners:      make(map[int]eventListener),
		alertListeners: make(map[int]func(domain.SecurityAlert)),
	}
	m.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the active configuration.
func (m *Monitor) Config() Config { return *m.cfg.Load() }

// UpdateConfig applies the present fields and swaps the configuration in one step.
func (m *Monitor) UpdateConfig(u Update) Config {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	next := *m.cfg.Load()
	if u.AlertThresholds != nil {
		next.AlertThresholds = u.AlertThresholds.Apply(next.AlertThresholds)
	}
	if u.AutoResponse != nil {
		next.AutoResponse = u.AutoResponse.Apply(next.AutoResponse)
	}
	if u.RealTimeMonitoring != nil {
		next.RealTimeMonitoring = *u.RealTimeMonitoring
	}
	m.cfg.Store(&next)
	m.logger.Info("monitor config updated",
		"real_time_monitoring", next.RealTimeMonitoring,
		"auto_response", next.AutoResponse.Enabled,
	)
	return next
}

// LogSecurityEvent validates and records an event, evaluates alerts for its
// session and notifies listeners.
func (m *Monitor) LogSecurityEvent(sessionID string, eventType domain.EventType, severity domain.Severity, description string, metadata map[string]any) (domain.SecurityEvent, error) {
	start := time.Now()

	var violations []string
	if !eventType.Valid() {
		violations = append(violations, fmt.Sprintf("unknown event type %q", eventType))
	}
	if !severity.Valid() {
		violations = append(violations, fmt.Sprintf("unknown severity %q", severity))
	}
	if len(violations) > 0 {
		return domain.SecurityEvent{}, domain.ErrValidationFields(violations)
	}

	cfg := m.cfg.Load()
	md := make(map[string]any, len(metadata))
	maps.Copy(md, metadata)

	ev := &domain.SecurityEvent{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Type:            eventType,
		Severity:        severity,
		Timestamp:       m.now(),
		Source:          eventSource,
		Description:     description,
		Metadata:        md,
		ResponseActions: responseActions(cfg.AutoResponse, eventType, severity),
	}

	m.mu.Lock()
	m.events.Push(ev)
	m.mu.Unlock()

	out := *ev
	if severity.AtLeastHigh() {
		m.logger.Warn("security event",
			"id", out.ID,
			"session_id", sessionID,
			"type", eventType,
			"severity", severity,
			"description", description,
		)
	}

	alert, changed := m.evaluateAlert(out, cfg)
	m.notifyEvent(out)
	if changed {
		m.notifyAlert(alert)
	}

	m.latMu.Lock()
	m.latencies.Push(time.Since(start))
	m.latMu.Unlock()

	return out, nil
}

func responseActions(ar domain.AutoResponse, t domain.EventType, s domain.Severity) []string {
	actions := []string{}
	if !ar.Enabled {
		return actions
	}
	if ar.RateLimitSuspicious && (t == domain.EventSuspiciousActivity || s == domain.SeverityHigh) {
		actions = append(actions, ActionRateLimit)
	}
	if s == domain.SeverityCritical {
		if ar.BlockCriticalThreats {
			actions = append(actions, ActionBlock)
		}
		if ar.NotifyAdmins {
			actions = append(actions, ActionNotify)
		}
	}
	return actions
}

// RecentEvents returns matching events newest first.
func (m *Monitor) RecentEvents(f domain.EventFilter) ([]domain.SecurityEvent, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	out := make([]domain.SecurityEvent, 0, min(f.Limit, 64))
	m.mu.RLock()
	m.events.Do(func(e *domain.SecurityEvent) bool {
		if f.Matches(*e) {
			out = append(out, *e)
		}
		return len(out) < f.Limit
	})
	m.mu.RUnlock()
	return out, nil
}

// ResolveEvent marks an event as handled.
func (m *Monitor) ResolveEvent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	m.events.Do(func(e *domain.SecurityEvent) bool {
		if e.ID == id {
			e.Resolved = true
			found = true
			return false
		}
		return true
	})
	if !found {
		return domain.ErrNotFound("security event", id)
	}
	return nil
}

// EventCount is the number of events currently held.
func (m *Monitor) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events.Len()
}

// AverageResponseTime averages the most recent LogSecurityEvent latencies.
func (m *Monitor) AverageResponseTime() time.Duration {
	m.latMu.Lock()
	defer m.latMu.Unlock()
	n := m.latencies.Len()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	m.latencies.Do(func(d time.Duration) bool {
		sum += d
		return true
	})
	return sum / time.Duration(n)
}

// Subscribe registers fn for new events, optionally only for the given types.
// The returned func removes the subscription.
func (m *Monitor) Subscribe(fn func(domain.SecurityEvent), types ...domain.EventType) func() {
	l := eventListener{fn: fn}
	if len(types) > 0 {
		l.types = make(map[domain.EventType]bool, len(types))
		for _, t := range types {
			l.types[t] = true
		}
	}

	m.listenMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.listenMu.Unlock()

	return func() {
		m.listenMu.Lock()
		delete(m.listeners, id)
		m.listenMu.Unlock()
	}
}

// SubscribeAlerts registers fn for created and updated alerts.
func (m *Monitor) SubscribeAlerts(fn func(domain.SecurityAlert)) func() {
	m.listenMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.alertListeners[id] = fn
	m.listenMu.Unlock()

	return func() {
		m.listenMu.Lock()
		delete(m.alertListeners, id)
		m.listenMu.Unlock()
	}
}

func (m *Monitor) notifyEvent(ev domain.SecurityEvent) {
	m.listenMu.RLock()
	targets := make([]eventListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		targets = append(targets, l)
	}
	m.listenMu.RUnlock()

	for _, l := range targets {
		if l.types != nil && !l.types[ev.Type] {
			continue
		}
		m.safeCall("event", func() { l.fn(ev) })
	}
}

func (m *Monitor) notifyAlert(a domain.SecurityAlert) {
	m.listenMu.RLock()
	targets := make([]func(domain.SecurityAlert), 0, len(m.alertListeners))
	for _, fn := range m.alertListeners {
		targets = append(targets, fn)
	}
	m.listenMu.RUnlock()

	for _, fn := range targets {
		m.safeCall("alert", func() { fn(a) })
	}
}

func (m *Monitor) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}

// Package engine assembles the behavior, bot, monitor and risk components
// into one explicitly constructed security engine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nesthaus/riskengine/internal/behavior"
	"github.com/nesthaus/riskengine/internal/botdetect"
	"github.com/nesthaus/riskengine/internal/devtools"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/monitor"
	"github.com/nesthaus/riskengine/internal/risk"
)

// Config sizes and tunes every component.
type Config struct {
	Store            behavior.StoreConfig
	Detector         botdetect.Config
	Monitor          monitor.Config
	BehaviorAnalysis bool
	SessionTTL       time.Duration
	JanitorInterval  time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Store:            behavior.DefaultStoreConfig(),
		Detector:         botdetect.DefaultConfig(),
		Monitor:          monitor.DefaultConfig(),
		BehaviorAnalysis: true,
		SessionTTL:       30 * time.Minute,
		JanitorInterval:  time.Minute,
	}
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Engine owns one instance of each security component.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	started time.Time

	store    *behavior.Store
	analyzer *behavior.Analyzer
	detector *botdetect.Detector
	monitor  *monitor.Monitor
	composer *risk.Composer
	devtools *devtools.Evaluator

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine. Nothing runs until Start.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{cfg: cfg, logger: logger, now: o.now, started: o.now()}

	e.store = behavior.NewStore(cfg.Store)
	e.analyzer = behavior.NewAnalyzer(e.store, logger, behavior.WithClock(o.now))
	e.analyzer.SetEnabled(cfg.BehaviorAnalysis)
	e.monitor = monitor.New(cfg.Monitor, logger,
		monitor.WithClock(o.now),
		monitor.WithStatsProvider(e.systemStats),
	)
	e.detector = botdetect.NewDetector(e.analyzer, cfg.Detector, logger,
		botdetect.WithClock(o.now),
		botdetect.WithEventLogger(e.monitor),
	)
	e.composer = risk.NewComposer(e.analyzer, e.detector, e.monitor, logger, risk.WithClock(o.now))
	e.devtools = devtools.NewEvaluator(e.monitor, e.detector, logger, devtools.WithClock(o.now))
	return e
}

func (e *Engine) Analyzer() *behavior.Analyzer { return e.analyzer }
func (e *Engine) Detector() *botdetect.Detector { return e.detector }
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }
func (e *Engine) Composer() *risk.Composer { return e.composer }
func (e *Engine) DevTools() *devtools.Evaluator { return e.devtools }

// SessionCount returns how many sessions have behavior data in memory.
func (e *Engine) SessionCount() int { return e.store.Len() }

func (e *Engine) systemStats() monitor.SystemStats {
	return monitor.SystemStats{
		BotDetectionRate:       e.detector.RealTimeStats().DetectionRate,
		HighRiskSessionPercent: e.analyzer.Stats().HighRiskPercent(),
	}
}

// Start launches the session janitor and monitor maintenance. Stop or
// cancelling ctx ends them.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.runJanitor(ctx)
	}()
	e.logger.Info("security engine started", "session_ttl", e.cfg.SessionTTL)
}

// Stop cancels the background loops and waits for them to exit.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.logger.Info("security engine stopped")
}

func (e *Engine) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep evicts sessions idle for longer than the TTL from every component
// and returns how many were removed.
func (e *Engine) Sweep() int {
	now := e.now()
	cutoff := now.Add(-e.cfg.SessionTTL)
	evicted := make(map[string]struct{})
	for _, id := range e.store.EvictIdle(now, e.cfg.SessionTTL) {
		e.detector.EvictSession(id)
		e.devtools.Forget(id)
		evicted[id] = struct{}{}
	}
	for _, id := range e.detector.EvictStale(cutoff) {
		e.devtools.Forget(id)
		evicted[id] = struct{}{}
	}
	for _, id := range e.devtools.EvictBefore(cutoff, e.store.Has) {
		evicted[id] = struct{}{}
	}
	if len(evicted) > 0 {
		e.logger.Debug("idle sessions evicted", "count", len(evicted))
	}
	return len(evicted)
}

// Analyze returns the composite risk assessment for a session.
func (e *Engine) Analyze(sessionID string, force bool) (domain.RiskAssessment, error) {
	if sessionID == "" {
		return domain.RiskAssessment{}, domain.ErrValidation("sessionId is required")
	}
	return e.composer.Analyze(sessionID, force), nil
}

// Incident is a manually reported security incident.
type Incident struct {
	SessionID    string
	IncidentType string
	Description  string
	Severity     domain.Severity
	Metadata     map[string]any
	UserAgent    string
	IPAddress    string
}

// ReportIncident records a manual report as suspicious activity.
func (e *Engine) ReportIncident(in Incident) (domain.SecurityEvent, error) {
	var violations []string
	if in.SessionID == "" {
		violations = append(violations, "sessionId is required")
	}
	if in.IncidentType == "" {
		violations = append(violations, "incidentType is required")
	}
	if in.Description == "" {
		violations = append(violations, "description is required")
	}
	if !in.Severity.Valid() {
		violations = append(violations, fmt.Sprintf("unknown severity %q", in.Severity))
	}
	if len(violations) > 0 {
		return domain.SecurityEvent{}, domain.ErrValidationFields(violations)
	}

	ip := in.IPAddress
	if ip == "" {
		ip = "unknown"
	}
	md := map[string]any{
		"incidentType": in.IncidentType,
		"reportedBy":   "manual",
		"userAgent":    in.UserAgent,
		"ipAddress":    ip,
	}
	for k, v := range in.Metadata {
		md[k] = v
	}

	ev, err := e.monitor.LogSecurityEvent(in.SessionID, domain.EventSuspiciousActivity, in.Severity,
		fmt.Sprintf("Reported incident: %s - %s", in.IncidentType, in.Description), md)
	if err != nil {
		return domain.SecurityEvent{}, err
	}
	e.logger.Warn("security incident reported", "session_id", in.SessionID, "incident_type", in.IncidentType)
	return ev, nil
}

// Dashboard combines the monitor view with analyzer and detector statistics.
type Dashboard struct {
	monitor.Dashboard
	BehaviorAnalysis behavior.Stats  `json:"behaviorAnalysis"`
	BotDetection     botdetect.Stats `json:"botDetection"`
}

// DashboardData assembles the dashboard.
func (e *Engine) DashboardData() Dashboard {
	return Dashboard{
		Dashboard:        e.monitor.DashboardData(),
		BehaviorAnalysis: e.analyzer.Stats(),
		BotDetection:     e.detector.RealTimeStats(),
	}
}

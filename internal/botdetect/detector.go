// Package botdetect classifies sessions as automated or human.
package botdetect

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/syncutil"
)

// Component weights in the bot score.
const (
	weightUserAgent   = 0.3
	weightFingerprint = 0.4
	weightBehavior    = 0.5
	weightNetwork     = 0.2
	weightTiming      = 0.3
	weightDevTools    = 0.2

	behaviorFlagThreshold = 0.6
	strongSignal          = 0.6
	highConfidence        = 0.8
	maxReasons            = 10
)

// BehaviorSource supplies behavioral evidence for a session.
type BehaviorSource interface {
	AnalyzeBehavior(sessionID string) domain.BehaviorAnalysis
	GetBehaviorPattern(sessionID string) (domain.BehaviorPattern, bool)
}

// EventLogger receives bot_detection events.
type EventLogger interface {
	LogSecurityEvent(sessionID string, eventType domain.EventType, severity domain.Severity, description string, metadata map[string]any) (domain.SecurityEvent, error)
}

// Config controls the detector. It is replaced atomically on update.
type Config struct {
	Enabled               bool
	StrictMode            bool
	BlockOnDetection      bool
	LogDetections         bool
	WhitelistedUserAgents []string
	BlacklistedUserAgents []string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		LogDetections: true,
		BlacklistedUserAgents: []string{
			"HeadlessChrome", "PhantomJS", "SlimerJS", "HtmlUnit",
			"Selenium", "WebDriver", "bot", "crawler", "spider",
		},
	}
}

// Update changes the runtime switches that are present.
type Update struct {
	Enabled    *bool
	StrictMode *bool
}

// Stats summarizes every classification made since start.
type Stats struct {
	TotalClassifications int                      `json:"totalClassifications"`
	BotDetections        int                      `json:"botDetections"`
	HighConfidenceCount  int                      `json:"highConfidenceCount"`
	DetectionRate        float64                  `json:"detectionRate"`
	RiskDistribution     map[domain.RiskLevel]int `json:"riskDistribution"`
	DetectionMethods     map[string]int           `json:"detectionMethods"`
}

// Detector combines static and behavioral signals into a per-session verdict.
type Detector struct {
	behavior BehaviorSource
	events   EventLogger
	logger   *slog.Logger
	now      func() time.Time
	cfg      atomic.Pointer[Config]
	cfgMu    sync.Mutex

	locks    syncutil.ShardedMutex
	mu       sync.RWMutex
	history  map[string][]domain.BotDetectionRecord
	strong   map[string]float64 // accumulated strong evidence per session
	devtools map[string]devtoolsMark

	statsMu sync.Mutex
	stats   Stats
}

type devtoolsMark struct {
	method string
	at     time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithEventLogger routes bot detections to the monitor.
func WithEventLogger(l EventLogger) Option {
	return func(d *Detector) { d.events = l }
}

// NewDetector creates a detector fed by the behavior source.
func NewDetector(behavior BehaviorSource, cfg Config, logger *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		behavior: behavior,
		logger:   logger,
		now:      time.Now,
		history:  make(map[string][]domain.BotDetectionRecord),
		strong:   make(map[string]float64),
		devtools: make(map[string]devtoolsMark),
		stats: Stats{
			RiskDistribution: map[domain.RiskLevel]int{},
			DetectionMethods: map[string]int{},
		},
	}
	d.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the active configuration.
func (d *Detector) Config() Config { return *d.cfg.Load() }

// UpdateConfig swaps in a new configuration with the present fields changed.
func (d *Detector) UpdateConfig(u Update) Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()

	next := *d.cfg.Load()
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}
	if u.StrictMode != nil {
		next.StrictMode = *u.StrictMode
	}
	d.cfg.Store(&next)
	d.logger.Info("bot detection config updated", "enabled", next.Enabled, "strict_mode", next.StrictMode)
	return next
}

// NoteDevTools records that the session's client reported DevTools activity.
func (d *Detector) NoteDevTools(sessionID, method string) {
	unlock := d.locks.Lock(sessionID)
	defer unlock()
	d.mu.Lock()
	d.devtools[sessionID] = devtoolsMark{method: method, at: d.now()}
	d.mu.Unlock()
}

// Classify scores a session and appends the result to its history.
// A disabled detector returns an allow record without storing it.
func (d *Detector) Classify(sessionID string, sig Signals) domain.BotDetectionRecord {
	cfg := *d.cfg.Load()
	if !cfg.Enabled {
		return domain.BotDetectionRecord{
			SessionID:   sessionID,
			RiskLevel:   domain.RiskLow,
			AllowAccess: true,
			Reasons:     []string{"Bot detection disabled"},
			Timestamp:   d.now(),
		}
	}

	var findings []finding
	var score, conf float64
	add := func(f finding, weight float64) {
		if !f.flagged {
			return
		}
		findings = append(findings, f)
		score += f.confidence * weight
		conf = math.Max(conf, f.confidence)
	}

	add(analyzeUserAgent(sig.UserAgent, cfg), weightUserAgent)
	if sig.Fingerprint != nil {
		add(analyzeFingerprint(*sig.Fingerprint), weightFingerprint)
	}

	analysis := d.behavior.AnalyzeBehavior(sessionID)
	if analysis.BotProbability > behaviorFlagThreshold {
		reasons := append([]string{fmt.Sprintf("Bot probability: %d%%", int(math.Round(analysis.BotProbability*100)))}, analysis.Anomalies...)
		add(finding{method: MethodBehavior, flagged: true, confidence: analysis.BotProbability, reasons: reasons}, weightBehavior)
	}

	if sig.IPAddress != "" {
		add(analyzeNetwork(sig.IPAddress), weightNetwork)
	}
	if p, ok := d.behavior.GetBehaviorPattern(sessionID); ok {
		add(analyzeTiming(p), weightTiming)
	}

	unlock := d.locks.Lock(sessionID)
	d.mu.RLock()
	mark, sawDevTools := d.devtools[sessionID]
	prior := d.strong[sessionID]
	d.mu.RUnlock()
	if sawDevTools {
		add(finding{method: MethodDevTools, flagged: true, confidence: 0.7, reasons: []string{"Developer tools opened: " + mark.method}}, weightDevTools)
	}

	if conf >= strongSignal {
		conf = 1 - (1-prior)*(1-conf)
	}
	conf = math.Min(1, conf)

	isBot := score > 0.6
	if cfg.StrictMode {
		isBot = score > 0.4
	}
	level := domain.LevelForScore(score * conf)

	rec := domain.BotDetectionRecord{
		SessionID:        sessionID,
		Confidence:       conf,
		BotScore:         score,
		IsBot:            isBot,
		RiskLevel:        level,
		AllowAccess:      allowAccess(cfg, isBot, level, sig.UserAgent),
		DetectionMethods: make([]string, 0, len(findings)),
		Reasons:          []string{},
		Timestamp:        d.now(),
	}
	for _, f := range findings {
		rec.DetectionMethods = append(rec.DetectionMethods, f.method)
		rec.Reasons = append(rec.Reasons, f.reasons...)
	}
	if len(rec.Reasons) > maxReasons {
		rec.Reasons = rec.Reasons[:maxReasons]
	}

	d.mu.Lock()
	if conf >= strongSignal {
		d.strong[sessionID] = conf
	}
	d.history[sessionID] = append(d.history[sessionID], rec)
	d.mu.Unlock()
	unlock()

	d.record(rec)

	if isBot && cfg.LogDetections {
		d.logDetection(rec, sig)
	}
	return rec
}

func allowAccess(cfg Config, isBot bool, level domain.RiskLevel, ua string) bool {
	if IsLegitimateCrawler(ua) {
		return true
	}
	if cfg.BlockOnDetection && isBot {
		return false
	}
	if cfg.StrictMode && level == domain.RiskCritical {
		return false
	}
	return true
}

// SeverityForConfidence grades a bot detection event.
func SeverityForConfidence(conf float64) domain.Severity {
	switch {
	case conf >= 0.9:
		return domain.SeverityCritical
	case conf >= 0.7:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func (d *Detector) logDetection(rec domain.BotDetectionRecord, sig Signals) {
	d.logger.Warn("bot detected",
		"session_id", rec.SessionID,
		"confidence", rec.Confidence,
		"methods", rec.DetectionMethods,
		"risk_level", rec.RiskLevel,
	)
	if d.events == nil {
		return
	}
	_, err := d.events.LogSecurityEvent(rec.SessionID, domain.EventBotDetection, SeverityForConfidence(rec.Confidence),
		"Bot detected: "+strings.Join(rec.DetectionMethods, ", "),
		map[string]any{
			"confidence":       rec.Confidence,
			"botScore":         rec.BotScore,
			"detectionMethods": rec.DetectionMethods,
			"reasons":          rec.Reasons,
			"userAgent":        sig.UserAgent,
			"ipAddress":        sig.IPAddress,
			"allowAccess":      rec.AllowAccess,
		})
	if err != nil {
		d.logger.Error("log bot detection failed", "session_id", rec.SessionID, "error", err)
	}
}

func (d *Detector) record(rec domain.BotDetectionRecord) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats.TotalClassifications++
	if rec.IsBot {
		d.stats.BotDetections++
	}
	if rec.Confidence >= highConfidence {
		d.stats.HighConfidenceCount++
	}
	d.stats.RiskDistribution[rec.RiskLevel]++
	for _, m := range rec.DetectionMethods {
		d.stats.DetectionMethods[m]++
	}
}

// DetectionHistory returns a copy of the session's records, oldest first.
func (d *Detector) DetectionHistory(sessionID string) []domain.BotDetectionRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h := d.history[sessionID]
	out := make([]domain.BotDetectionRecord, len(h))
	copy(out, h)
	return out
}

// RealTimeStats returns a snapshot of the classification counters.
func (d *Detector) RealTimeStats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	out := d.stats
	out.RiskDistribution = make(map[domain.RiskLevel]int, 4)
	for _, l := range []domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskCritical} {
		out.RiskDistribution[l] = d.stats.RiskDistribution[l]
	}
	out.DetectionMethods = make(map[string]int, len(d.stats.DetectionMethods))
	for k, v := range d.stats.DetectionMethods {
		out.DetectionMethods[k] = v
	}
	if out.TotalClassifications > 0 {
		out.DetectionRate = float64(out.BotDetections) / float64(out.TotalClassifications) * 100
	}
	return out
}

// EvictSession forgets everything recorded for a session.
func (d *Detector) EvictSession(sessionID string) {
	unlock := d.locks.Lock(sessionID)
	defer unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionID)
	delete(d.strong, sessionID)
	delete(d.devtools, sessionID)
}

// EvictStale drops sessions whose newest record is older than cutoff, and
// DevTools markers older than cutoff for sessions never classified. It
// returns the evicted ids.
func (d *Detector) EvictStale(cutoff time.Time) []string {
	d.mu.RLock()
	var stale []string
	for id, h := range d.history {
		if len(h) > 0 && h[len(h)-1].Timestamp.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	var marks []string
	for id, m := range d.devtools {
		if len(d.history[id]) == 0 && m.at.Before(cutoff) {
			marks = append(marks, id)
		}
	}
	d.mu.RUnlock()

	evicted := stale[:0]
	for _, id := range stale {
		unlock := d.locks.Lock(id)
		d.mu.Lock()
		if h := d.history[id]; len(h) > 0 && h[len(h)-1].Timestamp.Before(cutoff) {
			delete(d.history, id)
			delete(d.strong, id)
			delete(d.devtools, id)
			evicted = append(evicted, id)
		}
		d.mu.Unlock()
		unlock()
	}
	for _, id := range marks {
		unlock := d.locks.Lock(id)
		d.mu.Lock()
		if m, ok := d.devtools[id]; ok && len(d.history[id]) == 0 && m.at.Before(cutoff) {
			delete(d.devtools, id)
			delete(d.strong, id)
			evicted = append(evicted, id)
		}
		d.mu.Unlock()
		unlock()
	}
	return evicted
}

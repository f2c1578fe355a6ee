// Package risk composes behavior, bot and event evidence into one assessment.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

// Factor weights in the overall risk.
const (
	weightBehavior = 0.4
	weightBot      = 0.4
	weightEvent    = 0.2

	eventSample      = 50
	riskPerEvent     = 0.1
	logRiskThreshold = 0.6
)

// BehaviorAnalyzer scores a session's interaction pattern.
type BehaviorAnalyzer interface {
	AnalyzeBehavior(sessionID string) domain.BehaviorAnalysis
}

// DetectionHistory exposes past bot classifications.
type DetectionHistory interface {
	DetectionHistory(sessionID string) []domain.BotDetectionRecord
}

// EventStore reads and writes the security event log.
type EventStore interface {
	RecentEvents(f domain.EventFilter) ([]domain.SecurityEvent, error)
	LogSecurityEvent(sessionID string, eventType domain.EventType, severity domain.Severity, description string, metadata map[string]any) (domain.SecurityEvent, error)
}

// Composer produces RiskAssessments on demand.
type Composer struct {
	behavior BehaviorAnalyzer
	bots     DetectionHistory
	events   EventStore
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

// NewComposer wires a composer to its evidence sources.
func NewComposer(behavior BehaviorAnalyzer, bots DetectionHistory, events EventStore, logger *slog.Logger, opts ...Option) *Composer {
	c := &Composer{
		behavior: behavior,
		bots:     bots,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze assesses a session. force records the analysis as an event even
// when the risk is below the logging threshold. A failure anywhere in the
// analysis degrades to a low-risk assessment.
func (c *Composer) Analyze(sessionID string, force bool) (out domain.RiskAssessment) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("risk analysis failed", "session_id", sessionID, "panic", r)
			out = SafeDefault(sessionID, c.now())
		}
	}()

	analysis := c.behavior.AnalyzeBehavior(sessionID)

	var botRisk float64
	for _, rec := range c.bots.DetectionHistory(sessionID) {
		botRisk = math.Max(botRisk, rec.Confidence)
	}

	events, err := c.events.RecentEvents(domain.EventFilter{Limit: eventSample, SessionID: sessionID})
	if err != nil {
		c.logger.Error("load session events failed", "session_id", sessionID, "error", err)
		events = nil
	}

	factors := domain.RiskFactors{
		BehaviorRisk: analysis.SuspicionScore,
		BotRisk:      botRisk,
		EventRisk:    EventRisk(events),
	}
	overall := Overall(factors)
	level := domain.LevelForScore(overall)

	if force || overall >= logRiskThreshold {
		c.record(sessionID, level, overall, factors, analysis, force)
	}

	return domain.RiskAssessment{
		SessionID:        sessionID,
		OverallRisk:      overall,
		RiskLevel:        level,
		RiskFactors:      factors,
		BehaviorAnalysis: analysis,
		Recommendations:  Recommendations(level, analysis, events),
		Timestamp:        c.now(),
	}
}

// EventRisk is 0.1 per high or critical event, capped at 1.
func EventRisk(events []domain.SecurityEvent) float64 {
	n := 0
	for _, e := range events {
		if e.Severity.AtLeastHigh() {
			n++
		}
	}
	return math.Min(1, riskPerEvent*float64(n))
}

// Overall weighs the three factors and clamps the result to [0,1].
func Overall(f domain.RiskFactors) float64 {
	v := weightBehavior*f.BehaviorRisk + weightBot*f.BotRisk + weightEvent*f.EventRisk
	return math.Max(0, math.Min(1, v))
}

// SafeDefault is returned when an assessment cannot be computed.
func SafeDefault(sessionID string, at time.Time) domain.RiskAssessment {
	return domain.RiskAssessment{
		SessionID:        sessionID,
		RiskLevel:        domain.RiskLow,
		BehaviorAnalysis: domain.ZeroAnalysis(sessionID),
		Recommendations:  []string{RecContinueMonitoring},
		Timestamp:        at,
	}
}

func (c *Composer) record(sessionID string, level domain.RiskLevel, overall float64, f domain.RiskFactors, a domain.BehaviorAnalysis, force bool) {
	_, err := c.events.LogSecurityEvent(sessionID, domain.EventBehavioralAnomaly, level.Severity(),
		fmt.Sprintf("Security analysis performed: %d%% risk", int(math.Round(overall*100))),
		map[string]any{
			"behaviorAnalysis": a,
			"riskFactors":      f,
			"overallRisk":      overall,
			"forceAnalysis":    force,
		})
	if err != nil {
		c.logger.Error("log risk analysis failed", "session_id", sessionID, "error", err)
	}
}

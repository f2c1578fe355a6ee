package engine

import (
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

const investigationEvents = 10

// PatternSummary condenses a behavior pattern into counts.
type PatternSummary struct {
	SessionDurationMs int64 `json:"sessionDuration"`
	TotalActions      int   `json:"totalActions"`
	MouseMovements    int   `json:"mouseMovements"`
	Keystrokes        int   `json:"keystrokes"`
	Clicks            int   `json:"clicks"`
	ScrollEvents      int   `json:"scrollEvents"`
}

// Investigation is a risk assessment with the evidence behind it.
type Investigation struct {
	domain.RiskAssessment
	BehaviorPattern     *PatternSummary             `json:"behaviorPattern"`
	BotDetectionHistory []domain.BotDetectionRecord `json:"botDetectionHistory"`
	RecentEvents        []domain.SecurityEvent      `json:"recentEvents"`
	ActiveAlerts        []domain.SecurityAlert      `json:"activeAlerts"`
}

// Investigate runs Analyze and attaches the session's pattern summary,
// detection history, up to ten recent events and its unresolved alerts.
func (e *Engine) Investigate(sessionID string, force bool) (Investigation, error) {
	assessment, err := e.Analyze(sessionID, force)
	if err != nil {
		return Investigation{}, err
	}

	inv := Investigation{
		RiskAssessment:      assessment,
		BotDetectionHistory: e.detector.DetectionHistory(sessionID),
		RecentEvents:        []domain.SecurityEvent{},
		ActiveAlerts:        []domain.SecurityAlert{},
	}
	if inv.BotDetectionHistory == nil {
		inv.BotDetectionHistory = []domain.BotDetectionRecord{}
	}
	if p, ok := e.analyzer.GetBehaviorPattern(sessionID); ok {
		inv.BehaviorPattern = &PatternSummary{
			SessionDurationMs: p.Duration().Milliseconds(),
			TotalActions:      p.TotalActions(),
			MouseMovements:    len(p.MouseMovements),
			Keystrokes:        len(p.Keystrokes),
			Clicks:            len(p.Clicks),
			ScrollEvents:      len(p.ScrollEvents),
		}
	}
	events, err := e.monitor.RecentEvents(domain.EventFilter{Limit: investigationEvents, SessionID: sessionID})
	if err == nil {
		inv.RecentEvents = events
	}
	for _, a := range e.monitor.ActiveAlerts() {
		if a.SessionID == sessionID {
			inv.ActiveAlerts = append(inv.ActiveAlerts, a)
		}
	}
	return inv, nil
}

// Uptime reports how long ago the engine was constructed.
func (e *Engine) Uptime() time.Duration { return e.now().Sub(e.started) }

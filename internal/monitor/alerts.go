package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nesthaus/riskengine/internal/domain"
)

// System-wide alert types raised by the threshold check.
const (
	AlertCriticalEvents   = "critical_events_threshold"
	AlertHighBotDetection = "high_bot_detection"
	AlertHighRiskSessions = "high_risk_sessions"
	AlertSlowResponse     = "slow_response_time"
)

func alertKey(sessionID, alertType string) string {
	return sessionID + "|" + alertType
}

// evaluateAlert decides whether ev raises or extends its (session, type) alert.
func (m *Monitor) evaluateAlert(ev domain.SecurityEvent, cfg *Config) (domain.SecurityAlert, bool) {
	unlock := m.sessionLocks.Lock(ev.SessionID)
	defer unlock()

	key := alertKey(ev.SessionID, string(ev.Type))

	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	cutoff := ev.Timestamp.Add(-cfg.AlertWindow)
	window := append(pruneBefore(m.windows[key], cutoff), ev.Timestamp)
	m.windows[key] = window

	if !ev.Severity.AtLeastHigh() && len(window) < cfg.typeThreshold(ev.Type) {
		return domain.SecurityAlert{}, false
	}

	title := fmt.Sprintf("%s detected", humanize(string(ev.Type)))
	msg := ev.Description
	if ev.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", ev.Description, ev.SessionID)
	}
	a := m.upsertAlertLocked(key, ev.SessionID, string(ev.Type), ev.Severity, title, msg, ev.Timestamp)
	a.RecommendedActions = recommendedActions(ev.Type, a.Severity)
	return *a, true
}

// upsertAlertLocked creates the active alert for key or absorbs into it.
// Caller holds alertMu.
func (m *Monitor) upsertAlertLocked(key, sessionID, alertType string, sev domain.Severity, title, msg string, at time.Time) *domain.SecurityAlert {
	if id, ok := m.activeAlerts[key]; ok {
		if a, ok := m.alerts[id]; ok && a.Active() {
			a.Count++
			if sev.Rank() > a.Severity.Rank() {
				a.Severity = sev
			}
			if at.After(a.LastSeen) {
				a.LastSeen = at
			}
			a.Message = msg
			return a
		}
	}

	a := &domain.SecurityAlert{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      alertType,
		Severity:  sev,
		Title:     title,
		Message:   msg,
		Timestamp: at,
		LastSeen:  at,
		Count:     1,
	}
	m.alerts[a.ID] = a
	m.activeAlerts[key] = a.ID
	m.logger.Warn("security alert raised", "alert_id", a.ID, "type", alertType, "severity", sev, "session_id", sessionID)
	return a
}

func recommendedActions(t domain.EventType, sev domain.Severity) []string {
	switch t {
	case domain.EventBotDetection:
		actions := []string{"Review bot detection patterns", "Consider adjusting bot detection sensitivity"}
		if sev == domain.SeverityCritical {
			actions = append(actions, "Implement temporary rate limiting")
		}
		return actions
	case domain.EventBehavioralAnomaly:
		return []string{"Investigate user behavior patterns", "Review session recordings if available"}
	case domain.EventRateLimitExceeded:
		return []string{"Review rate limiting configuration", "Check for legitimate high-usage scenarios"}
	default:
		return []string{"Review security logs", "Monitor for continued activity"}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

func humanize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '_' {
			b[i] = ' '
		}
	}
	if len(b) > 0 && b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// ActiveAlerts returns unresolved alerts, newest first.
func (m *Monitor) ActiveAlerts() []domain.SecurityAlert {
	m.alertMu.Lock()
	out := make([]domain.SecurityAlert, 0, len(m.activeAlerts))
	for _, a := range m.alerts {
		if a.Active() {
			out = append(out, *a)
		}
	}
	m.alertMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// AlertCount is the number of alerts held, resolved or not.
func (m *Monitor) AlertCount() int {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	return len(m.alerts)
}

// ResolveAlert closes an alert. A new qualifying event opens a fresh one.
func (m *Monitor) ResolveAlert(id string) error {
	m.alertMu.Lock()
	a, ok := m.alerts[id]
	if !ok {
		m.alertMu.Unlock()
		return domain.ErrNotFound("security alert", id)
	}
	a.Resolved = true
	m.dropActiveLocked(a)
	snapshot := *a
	m.alertMu.Unlock()

	m.logger.Info("security alert resolved", "alert_id", id)
	m.notifyAlert(snapshot)
	return nil
}

func (m *Monitor) dropActiveLocked(a *domain.SecurityAlert) {
	key := alertKey(a.SessionID, a.Type)
	if m.activeAlerts[key] == a.ID {
		delete(m.activeAlerts, key)
	}
}

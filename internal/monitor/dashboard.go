package monitor

import (
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

const recentEventsOnDashboard = 10

// Statistics are the rolling counters shown on the dashboard.
type Statistics struct {
	EventsLast24h         int     `json:"eventsLast24h"`
	BotDetectionsLast24h  int     `json:"botDetectionsLast24h"`
	CriticalEventsLast1h  int     `json:"criticalEventsLast1h"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
}

// Dashboard is the monitor's aggregate view.
type Dashboard struct {
	ThreatLevel      domain.RiskLevel         `json:"threatLevel"`
	TotalEvents      int                      `json:"totalEvents"`
	TotalAlerts      int                      `json:"totalAlerts"`
	ActiveAlertCount int                      `json:"activeAlertCount"`
	EventsByType     map[domain.EventType]int `json:"eventsByType"`
	EventsBySeverity map[domain.Severity]int  `json:"eventsBySeverity"`
	Statistics       Statistics               `json:"statistics"`
	RecentEvents     []domain.SecurityEvent   `json:"recentEvents"`
	ActiveAlerts     []domain.SecurityAlert   `json:"activeAlerts"`
	Config           DashboardConfig          `json:"config"`
}

// DashboardConfig echoes the runtime-tunable monitor settings.
type DashboardConfig struct {
	AlertThresholds    domain.AlertThresholds `json:"alertThresholds"`
	AutoResponse       domain.AutoResponse    `json:"autoResponse"`
	RealTimeMonitoring bool                   `json:"realTimeMonitoring"`
}

// DashboardData builds the dashboard from the current log and alerts.
func (m *Monitor) DashboardData() Dashboard {
	now := m.now()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	d := Dashboard{
		EventsByType:     make(map[domain.EventType]int),
		EventsBySeverity: make(map[domain.Severity]int),
		RecentEvents:     make([]domain.SecurityEvent, 0, recentEventsOnDashboard),
	}
	for _, t := range domain.AllEventTypes() {
		d.EventsByType[t] = 0
	}
	for _, s := range domain.AllSeverities() {
		d.EventsBySeverity[s] = 0
	}

	m.mu.RLock()
	d.TotalEvents = m.events.Len()
	m.events.Do(func(e *domain.SecurityEvent) bool {
		d.EventsByType[e.Type]++
		d.EventsBySeverity[e.Severity]++
		if len(d.RecentEvents) < recentEventsOnDashboard {
			d.RecentEvents = append(d.RecentEvents, *e)
		}
		if !e.Timestamp.Before(dayAgo) {
			d.Statistics.EventsLast24h++
			if e.Type == domain.EventBotDetection {
				d.Statistics.BotDetectionsLast24h++
			}
		}
		if e.Severity == domain.SeverityCritical && !e.Timestamp.Before(hourAgo) {
			d.Statistics.CriticalEventsLast1h++
		}
		return true
	})
	m.mu.RUnlock()

	d.ActiveAlerts = m.ActiveAlerts()
	d.ActiveAlertCount = len(d.ActiveAlerts)
	d.TotalAlerts = m.AlertCount()
	d.Statistics.AverageResponseTimeMs = float64(m.AverageResponseTime().Microseconds()) / 1000
	d.ThreatLevel = threatLevel(d.ActiveAlerts, d.Statistics)

	cfg := m.cfg.Load()
	d.Config = DashboardConfig{
		AlertThresholds:    cfg.AlertThresholds,
		AutoResponse:       cfg.AutoResponse,
		RealTimeMonitoring: cfg.RealTimeMonitoring,
	}
	return d
}

func threatLevel(active []domain.SecurityAlert, st Statistics) domain.RiskLevel {
	var anyHigh bool
	for _, a := range active {
		switch a.Severity {
		case domain.SeverityCritical:
			return domain.RiskCritical
		case domain.SeverityHigh:
			anyHigh = true
		}
	}
	switch {
	case st.CriticalEventsLast1h > 0:
		return domain.RiskCritical
	case anyHigh:
		return domain.RiskHigh
	case st.EventsLast24h >= 10:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

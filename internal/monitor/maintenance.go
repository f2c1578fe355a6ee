package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

// Run performs maintenance on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.Load().MaintenanceInterval
	m.logger.Info("monitor maintenance started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor maintenance stopped")
			return
		case <-ticker.C:
			m.Maintain()
		}
	}
}

// MaintenanceResult reports what one maintenance pass changed.
type MaintenanceResult struct {
	ThresholdAlerts int
	AutoResolved    int
	AlertsDropped   int
	EventsDropped   int
}

// Maintain checks system thresholds and applies alert and event retention.
func (m *Monitor) Maintain() MaintenanceResult {
	now := m.now()
	cfg := m.cfg.Load()
	var res MaintenanceResult

	if cfg.RealTimeMonitoring {
		raised := m.checkThresholds(now, cfg)
		res.ThresholdAlerts = len(raised)
		for _, a := range raised {
			m.notifyAlert(a)
		}
	}

	var resolved []domain.SecurityAlert
	m.alertMu.Lock()
	idleCutoff := now.Add(-cfg.AlertIdleResolve)
	dropCutoff := now.Add(-cfg.AlertRetention)
	for id, a := range m.alerts {
		if a.Timestamp.Before(dropCutoff) {
			m.dropActiveLocked(a)
			delete(m.alerts, id)
			res.AlertsDropped++
			continue
		}
		if a.Active() && a.Severity != domain.SeverityCritical && a.LastSeen.Before(idleCutoff) {
			a.AutoResolved = true
			m.dropActiveLocked(a)
			resolved = append(resolved, *a)
		}
	}
	windowCutoff := now.Add(-cfg.AlertWindow)
	for key, ts := range m.windows {
		if kept := pruneBefore(ts, windowCutoff); len(kept) == 0 {
			delete(m.windows, key)
		} else {
			m.windows[key] = kept
		}
	}
	m.alertMu.Unlock()
	res.AutoResolved = len(resolved)
	for _, a := range resolved {
		m.notifyAlert(a)
	}

	eventCutoff := now.Add(-cfg.EventRetention)
	m.mu.Lock()
	res.EventsDropped = m.events.DropOldestWhile(func(e *domain.SecurityEvent) bool {
		return e.Timestamp.Before(eventCutoff)
	})
	m.mu.Unlock()

	if res != (MaintenanceResult{}) {
		m.logger.Debug("monitor maintenance complete",
			"threshold_alerts", res.ThresholdAlerts,
			"auto_resolved", res.AutoResolved,
			"alerts_dropped", res.AlertsDropped,
			"events_dropped", res.EventsDropped,
		)
	}
	return res
}

func (m *Monitor) checkThresholds(now time.Time, cfg *Config) []domain.SecurityAlert {
	th := cfg.AlertThresholds
	minuteAgo := now.Add(-time.Minute)

	critical := 0
	m.mu.RLock()
	m.events.Do(func(e *domain.SecurityEvent) bool {
		if e.Timestamp.Before(minuteAgo) {
			return false
		}
		if e.Severity == domain.SeverityCritical {
			critical++
		}
		return true
	})
	m.mu.RUnlock()

	st := m.stats()
	avgMs := float64(m.AverageResponseTime().Microseconds()) / 1000

	type breach struct {
		kind  string
		sev   domain.Severity
		title string
		msg   string
	}
	var breaches []breach
	if critical > 0 && critical >= th.CriticalEvents {
		breaches = append(breaches, breach{AlertCriticalEvents, domain.SeverityCritical,
			"Critical event threshold exceeded",
			fmt.Sprintf("%d critical events in the last minute (threshold %d)", critical, th.CriticalEvents)})
	}
	if st.BotDetectionRate > 0 && st.BotDetectionRate >= th.BotDetectionRate {
		breaches = append(breaches, breach{AlertHighBotDetection, domain.SeverityHigh,
			"High bot detection rate",
			fmt.Sprintf("Bot detection rate %.1f%% (threshold %.1f%%)", st.BotDetectionRate, th.BotDetectionRate)})
	}
	if st.HighRiskSessionPercent > 0 && st.HighRiskSessionPercent >= th.HighRiskSessions {
		breaches = append(breaches, breach{AlertHighRiskSessions, domain.SeverityHigh,
			"High share of risky sessions",
			fmt.Sprintf("%.1f%% of active sessions are high risk (threshold %.1f%%)", st.HighRiskSessionPercent, th.HighRiskSessions)})
	}
	if avgMs > 0 && avgMs >= th.ResponseTimeMs {
		breaches = append(breaches, breach{AlertSlowResponse, domain.SeverityMedium,
			"Slow event handling",
			fmt.Sprintf("Average response time %.0fms (threshold %.0fms)", avgMs, th.ResponseTimeMs)})
	}
	if len(breaches) == 0 {
		return nil
	}

	out := make([]domain.SecurityAlert, 0, len(breaches))
	m.alertMu.Lock()
	for _, b := range breaches {
		a := m.upsertAlertLocked(alertKey("", b.kind), "", b.kind, b.sev, b.title, b.msg, now)
		a.RecommendedActions = []string{"Review security logs", "Monitor for continued activity"}
		out = append(out, *a)
	}
	m.alertMu.Unlock()
	return out
}

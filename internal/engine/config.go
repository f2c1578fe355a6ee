package engine

import (
	"fmt"

	"github.com/nesthaus/riskengine/internal/botdetect"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/monitor"
)

// UpdateConfig fans a runtime update out to the components and returns the
// keys that were applied.
func (e *Engine) UpdateConfig(u domain.ConfigUpdate) ([]string, error) {
	if u.Empty() {
		return nil, domain.ErrConfig("no valid configuration updates provided")
	}
	if err := validateUpdate(u); err != nil {
		return nil, err
	}

	if u.BehaviorAnalysis != nil {
		e.analyzer.SetEnabled(*u.BehaviorAnalysis)
	}
	if u.BotDetection != nil || u.StrictMode != nil {
		e.detector.UpdateConfig(botdetect.Update{Enabled: u.BotDetection, StrictMode: u.StrictMode})
	}
	if u.AlertThresholds != nil || u.AutoResponse != nil || u.RealTimeMonitoring != nil {
		e.monitor.UpdateConfig(monitor.Update{
			AlertThresholds:    u.AlertThresholds,
			AutoResponse:       u.AutoResponse,
			RealTimeMonitoring: u.RealTimeMonitoring,
		})
	}

	keys := u.Keys()
	e.logger.Info("security configuration updated", "keys", keys)
	return keys, nil
}

func validateUpdate(u domain.ConfigUpdate) error {
	th := u.AlertThresholds
	if th == nil {
		return nil
	}
	var violations []string
	if th.CriticalEvents != nil && *th.CriticalEvents < 0 {
		violations = append(violations, fmt.Sprintf("alertThresholds.criticalEvents must not be negative, got %d", *th.CriticalEvents))
	}
	percent := map[string]*float64{
		"alertThresholds.highRiskSessions": th.HighRiskSessions,
		"alertThresholds.botDetectionRate": th.BotDetectionRate,
	}
	for _, name := range []string{"alertThresholds.highRiskSessions", "alertThresholds.botDetectionRate"} {
		if v := percent[name]; v != nil && (*v < 0 || *v > 100) {
			violations = append(violations, fmt.Sprintf("%s must be between 0 and 100, got %g", name, *v))
		}
	}
	if th.ResponseTimeMs != nil && *th.ResponseTimeMs < 0 {
		violations = append(violations, fmt.Sprintf("alertThresholds.responseTime must not be negative, got %g", *th.ResponseTimeMs))
	}
	if len(violations) > 0 {
		return domain.ErrValidationFields(violations)
	}
	return nil
}

// SecurityConfig reports the current value of every runtime setting.
func (e *Engine) SecurityConfig() domain.SecurityConfig {
	det := e.detector.Config()
	mon := e.monitor.Config()
	return domain.SecurityConfig{
		StrictMode:         det.StrictMode,
		BehaviorAnalysis:   e.analyzer.Enabled(),
		BotDetection:       det.Enabled,
		RealTimeMonitoring: mon.RealTimeMonitoring,
		AlertThresholds:    mon.AlertThresholds,
		AutoResponse:       mon.AutoResponse,
	}
}

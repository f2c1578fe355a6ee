package domain

// AlertThresholds trigger system-wide alerts from the monitor's periodic check.
type AlertThresholds struct {
	CriticalEvents   int     `json:"criticalEvents"`   // critical events per minute
	HighRiskSessions float64 `json:"highRiskSessions"` // percent of active sessions
	BotDetectionRate float64 `json:"botDetectionRate"` // percent of classifications
	ResponseTimeMs   float64 `json:"responseTime"`     // average event handling latency
}

// AutoResponse decides which response actions are attached to new events.
type AutoResponse struct {
	Enabled              bool `json:"enabled"`
	BlockCriticalThreats bool `json:"blockCriticalThreats"`
	RateLimitSuspicious  bool `json:"rateLimitSuspicious"`
	NotifyAdmins         bool `json:"notifyAdmins"`
}

// DefaultAlertThresholds mirrors the production defaults.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		CriticalEvents:   10,
		HighRiskSessions: 20,
		BotDetectionRate: 30,
		ResponseTimeMs:   5000,
	}
}

// DefaultAutoResponse never blocks automatically.
func DefaultAutoResponse() AutoResponse {
	return AutoResponse{
		Enabled:              true,
		BlockCriticalThreats: false,
		RateLimitSuspicious:  true,
		NotifyAdmins:         true,
	}
}

// AlertThresholdsUpdate changes only the thresholds that are present.
type AlertThresholdsUpdate struct {
	CriticalEvents   *int     `json:"criticalEvents,omitempty"`
	HighRiskSessions *float64 `json:"highRiskSessions,omitempty"`
	BotDetectionRate *float64 `json:"botDetectionRate,omitempty"`
	ResponseTimeMs   *float64 `json:"responseTime,omitempty"`
}

// Apply returns t with the present fields replaced.
func (u AlertThresholdsUpdate) Apply(t AlertThresholds) AlertThresholds {
	if u.CriticalEvents != nil {
		t.CriticalEvents = *u.CriticalEvents
	}
	if u.HighRiskSessions != nil {
		t.HighRiskSessions = *u.HighRiskSessions
	}
	if u.BotDetectionRate != nil {
		t.BotDetectionRate = *u.BotDetectionRate
	}
	if u.ResponseTimeMs != nil {
		t.ResponseTimeMs = *u.ResponseTimeMs
	}
	return t
}

// AutoResponseUpdate changes only the switches that are present.
type AutoResponseUpdate struct {
	Enabled              *bool `json:"enabled,omitempty"`
	BlockCriticalThreats *bool `json:"blockCriticalThreats,omitempty"`
	RateLimitSuspicious  *bool `json:"rateLimitSuspicious,omitempty"`
	NotifyAdmins         *bool `json:"notifyAdmins,omitempty"`
}

// Apply returns a with the present fields replaced.
func (u AutoResponseUpdate) Apply(a AutoResponse) AutoResponse {
	if u.Enabled != nil {
		a.Enabled = *u.Enabled
	}
	if u.BlockCriticalThreats != nil {
		a.BlockCriticalThreats = *u.BlockCriticalThreats
	}
	if u.RateLimitSuspicious != nil {
		a.RateLimitSuspicious = *u.RateLimitSuspicious
	}
	if u.NotifyAdmins != nil {
		a.NotifyAdmins = *u.NotifyAdmins
	}
	return a
}

// ConfigUpdate is the closed set of runtime-tunable settings.
// Keys outside this type are dropped when a request body is decoded into it.
type ConfigUpdate struct {
	StrictMode         *bool                  `json:"strictMode,omitempty"`
	BehaviorAnalysis   *bool                  `json:"behaviorAnalysis,omitempty"`
	BotDetection       *bool                  `json:"botDetection,omitempty"`
	RealTimeMonitoring *bool                  `json:"realTimeMonitoring,omitempty"`
	AlertThresholds    *AlertThresholdsUpdate `json:"alertThresholds,omitempty"`
	AutoResponse       *AutoResponseUpdate    `json:"autoResponse,omitempty"`
}

// Keys lists the fields present in the update, in declaration order.
func (u ConfigUpdate) Keys() []string {
	var keys []string
	if u.StrictMode != nil {
		keys = append(keys, "strictMode")
	}
	if u.BehaviorAnalysis != nil {
		keys = append(keys, "behaviorAnalysis")
	}
	if u.BotDetection != nil {
		keys = append(keys, "botDetection")
	}
	if u.RealTimeMonitoring != nil {
		keys = append(keys, "realTimeMonitoring")
	}
	if u.AlertThresholds != nil {
		keys = append(keys, "alertThresholds")
	}
	if u.AutoResponse != nil {
		keys = append(keys, "autoResponse")
	}
	return keys
}

// Empty reports whether no allowed key was supplied.
func (u ConfigUpdate) Empty() bool { return len(u.Keys()) == 0 }

// SecurityConfig is the current value of every runtime-tunable setting.
type SecurityConfig struct {
	StrictMode         bool            `json:"strictMode"`
	BehaviorAnalysis   bool            `json:"behaviorAnalysis"`
	BotDetection       bool            `json:"botDetection"`
	RealTimeMonitoring bool            `json:"realTimeMonitoring"`
	AlertThresholds    AlertThresholds `json:"alertThresholds"`
	AutoResponse       AutoResponse    `json:"autoResponse"`
}

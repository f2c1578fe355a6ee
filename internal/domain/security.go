package domain

import (
	"fmt"
	"time"
)

// EventType enumerates security event types.
type EventType string

const (
	EventBotDetection               EventType = "bot_detection"
	EventBehavioralAnomaly          EventType = "behavioral_anomaly"
	EventRateLimitExceeded          EventType = "rate_limit_exceeded"
	EventSuspiciousActivity         EventType = "suspicious_activity"
	EventContentProtectionViolation EventType = "content_protection_violation"
	EventDevToolsDetection          EventType = "devtools_detection"
	EventInjectionAttempt           EventType = "injection_attempt"
	EventBruteForceAttempt          EventType = "brute_force_attempt"
	EventDataBreachAttempt          EventType = "data_breach_attempt"
	EventUnauthorizedAccess         EventType = "unauthorized_access"
	EventPerformanceAnomaly         EventType = "performance_anomaly"
)

// AllEventTypes lists every event type in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventBotDetection,
		EventBehavioralAnomaly,
		EventRateLimitExceeded,
		EventSuspiciousActivity,
		EventContentProtectionViolation,
		EventDevToolsDetection,
		EventInjectionAttempt,
		EventBruteForceAttempt,
		EventDataBreachAttempt,
		EventUnauthorizedAccess,
		EventPerformanceAnomaly,
	}
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Severity grades a security event or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AllSeverities lists severities from lowest to highest.
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// AtLeastHigh is true for high and critical.
func (s Severity) AtLeastHigh() bool { return s.Rank() >= SeverityHigh.Rank() }

// RiskLevel is the four-tier classification shared by analysis and composition.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LevelForScore maps a [0,1] score to a tier. Lower bounds are inclusive.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Severity maps a risk tier onto the event severity of the same name.
func (l RiskLevel) Severity() Severity {
	switch l {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SecurityEvent is an entry in the monitor's log. Only Resolved changes after creation.
type SecurityEvent struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId"`
	Type            EventType      `json:"type"`
	Severity        Severity       `json:"severity"`
	Timestamp       time.Time      `json:"timestamp"`
	Source          string         `json:"source"`
	Description     string         `json:"description"`
	Metadata        map[string]any `json:"metadata"`
	Resolved        bool           `json:"resolved"`
	ResponseActions []string       `json:"responseActions"`
}

// SecurityAlert aggregates qualifying events for one (session, type) pair.
// System-wide threshold alerts carry an empty SessionID.
type SecurityAlert struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"sessionId,omitempty"`
	Type               string    `json:"type"`
	Severity           Severity  `json:"severity"`
	Title              string    `json:"title"`
	Message            string    `json:"message"`
	Timestamp          time.Time `json:"timestamp"`
	LastSeen           time.Time `json:"lastSeen"`
	Count              int       `json:"count"`
	RecommendedActions []string  `json:"recommendedActions"`
	Resolved           bool      `json:"resolved"`
	AutoResolved       bool      `json:"autoResolved"`
}

// Active reports whether the alert still participates in deduplication.
func (a SecurityAlert) Active() bool { return !a.Resolved && !a.AutoResolved }

// EventFilter narrows a query over the event log.
type EventFilter struct {
	Limit     int
	Type      EventType
	Severity  Severity
	SessionID string
}

// Validate checks the filter and returns every violated constraint.
func (f EventFilter) Validate() error {
	var violations []string
	if f.Limit < 1 || f.Limit > MaxEventQueryLimit {
		violations = append(violations, fmt.Sprintf("limit must be between 1 and %d, got %d", MaxEventQueryLimit, f.Limit))
	}
	if f.Type != "" && !f.Type.Valid() {
		violations = append(violations, fmt.Sprintf("unknown event type %q", f.Type))
	}
	if f.Severity != "" && !f.Severity.Valid() {
		violations = append(violations, fmt.Sprintf("unknown severity %q", f.Severity))
	}
	if len(violations) > 0 {
		return ErrValidationFields(violations)
	}
	return nil
}

// Matches reports whether an event passes the filter's predicates (Limit aside).
func (f EventFilter) Matches(e SecurityEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	return true
}

const (
	DefaultEventQueryLimit = 100
	MaxEventQueryLimit     = 1000
)

// BotDetectionRecord is one classification result kept in a session's history.
type BotDetectionRecord struct {
	SessionID        string    `json:"sessionId"`
	Confidence       float64   `json:"confidence"`
	BotScore         float64   `json:"botScore"`
	IsBot            bool      `json:"isBot"`
	RiskLevel        RiskLevel `json:"riskLevel"`
	AllowAccess      bool      `json:"allowAccess"`
	DetectionMethods []string  `json:"detectionMethods"`
	Reasons          []string  `json:"reasons"`
	Timestamp        time.Time `json:"timestamp"`
}

// RiskFactors are the three weighted inputs of a composite assessment.
type RiskFactors struct {
	BehaviorRisk float64 `json:"behaviorRisk"`
	BotRisk      float64 `json:"botRisk"`
	EventRisk    float64 `json:"eventRisk"`
}

// RiskAssessment is computed on demand and never persisted.
type RiskAssessment struct {
	SessionID        string           `json:"sessionId"`
	OverallRisk      float64          `json:"overallRisk"`
	RiskLevel        RiskLevel        `json:"riskLevel"`
	RiskFactors      RiskFactors      `json:"riskFactors"`
	BehaviorAnalysis BehaviorAnalysis `json:"behaviorAnalysis"`
	Recommendations  []string         `json:"recommendations"`
	Timestamp        time.Time        `json:"timestamp"`
}

// GuardResult is the outcome of an in-memory guard check.
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Guard   string `json:"guard,omitempty"` // which guard blocked
}

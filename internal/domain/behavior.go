package domain

import (
	"math"
	"time"
)

// MouseMovement is a sampled pointer position.
type MouseMovement struct {
	X int       `json:"x"`
	Y int       `json:"y"`
	T time.Time `json:"t"`
}

// Keystroke records a key press and how long it was held.
type Keystroke struct {
	Key        string    `json:"key"`
	DurationMs float64   `json:"durationMs"`
	T          time.Time `json:"t"`
}

// Click records a pointer click and its target element.
type Click struct {
	X             int       `json:"x"`
	Y             int       `json:"y"`
	TargetTag     string    `json:"targetTag"`
	TargetID      string    `json:"targetId,omitempty"`
	IsDoubleClick bool      `json:"isDoubleClick"`
	T             time.Time `json:"t"`
}

// ScrollEvent records a scroll position.
type ScrollEvent struct {
	X int       `json:"x"`
	Y int       `json:"y"`
	T time.Time `json:"t"`
}

// Navigation methods accepted by the analyzer.
const (
	NavClick        = "click"
	NavKeyboard     = "keyboard"
	NavProgrammatic = "programmatic"
)

// ValidNavigationMethod reports whether m is a known navigation method.
func ValidNavigationMethod(m string) bool {
	return m == NavClick || m == NavKeyboard || m == NavProgrammatic
}

// NavigationEvent records an in-app route change and how it was triggered.
type NavigationEvent struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Method string    `json:"method"`
	T      time.Time `json:"t"`
}

// BehaviorPattern is a point-in-time copy of one session's buffers.
type BehaviorPattern struct {
	SessionID      string            `json:"sessionId"`
	MouseMovements []MouseMovement   `json:"mouseMovements"`
	Keystrokes     []Keystroke       `json:"keystrokes"`
	Clicks         []Click           `json:"clicks"`
	ScrollEvents   []ScrollEvent     `json:"scrollEvents"`
	Navigations    []NavigationEvent `json:"navigations"`
	SessionStart   time.Time         `json:"sessionStart"`
	LastActivity   time.Time         `json:"lastActivity"`
}

// TotalActions counts buffered events of every kind.
func (p BehaviorPattern) TotalActions() int {
	return len(p.MouseMovements) + len(p.Keystrokes) + len(p.Clicks) + len(p.ScrollEvents)
}

// Duration is the span between the first and the latest tracked event.
func (p BehaviorPattern) Duration() time.Duration {
	return p.LastActivity.Sub(p.SessionStart)
}

// ClickIntervalsMs returns the gaps between consecutive clicks in milliseconds.
func (p BehaviorPattern) ClickIntervalsMs() []float64 {
	if len(p.Clicks) < 2 {
		return nil
	}
	out := make([]float64, 0, len(p.Clicks)-1)
	for i := 1; i < len(p.Clicks); i++ {
		out = append(out, float64(p.Clicks[i].T.Sub(p.Clicks[i-1].T).Milliseconds()))
	}
	return out
}

// MouseVelocities returns the pointer speed in px/s between consecutive samples.
// Pairs with no elapsed time are skipped.
func (p BehaviorPattern) MouseVelocities() []float64 {
	if len(p.MouseMovements) < 2 {
		return nil
	}
	out := make([]float64, 0, len(p.MouseMovements)-1)
	for i := 1; i < len(p.MouseMovements); i++ {
		prev, cur := p.MouseMovements[i-1], p.MouseMovements[i]
		dt := cur.T.Sub(prev.T).Seconds()
		if dt <= 0 {
			continue
		}
		out = append(out, math.Hypot(float64(cur.X-prev.X), float64(cur.Y-prev.Y))/dt)
	}
	return out
}

// ScrollVelocities returns the vertical scroll speed in px/s between consecutive events.
func (p BehaviorPattern) ScrollVelocities() []float64 {
	if len(p.ScrollEvents) < 2 {
		return nil
	}
	out := make([]float64, 0, len(p.ScrollEvents)-1)
	for i := 1; i < len(p.ScrollEvents); i++ {
		prev, cur := p.ScrollEvents[i-1], p.ScrollEvents[i]
		dt := cur.T.Sub(prev.T).Seconds()
		if dt <= 0 {
			continue
		}
		out = append(out, math.Abs(float64(cur.Y-prev.Y))/dt)
	}
	return out
}

// BehaviorAnalysis is the analyzer's verdict for one session.
type BehaviorAnalysis struct {
	SessionID       string    `json:"sessionId"`
	SuspicionScore  float64   `json:"suspicionScore"`
	BotProbability  float64   `json:"botProbability"`
	HumanLikelihood float64   `json:"humanLikelihood"`
	Confidence      float64   `json:"confidence"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	Anomalies       []string  `json:"anomalies"`
}

// ZeroAnalysis is returned for sessions with no recorded behavior.
func ZeroAnalysis(sessionID string) BehaviorAnalysis {
	return BehaviorAnalysis{
		SessionID:       sessionID,
		HumanLikelihood: 1,
		RiskLevel:       RiskLow,
		Anomalies:       []string{},
	}
}

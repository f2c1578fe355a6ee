// Package devtools evaluates browser reports that hint at open developer tools.
package devtools

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nesthaus/riskengine/internal/behavior"
	"github.com/nesthaus/riskengine/internal/domain"
)

// Detection methods.
const (
	MethodWindowSize = "window_size"
	MethodShortcut   = "keyboard_shortcut"
	MethodBehavior   = "bot_behavior"
)

const (
	sizeDeltaThreshold = 200
	sizeDeltaMinimum   = 100
	minInnerWidth      = 400
	minInnerHeight     = 300

	maxClickSamples   = 10
	rapidClickMs      = 100.0
	mouseWithoutKeys  = 100
	uniformClickNV    = 0.1
	localScoreTrigger = 0.9
	minClicksRapid    = 3
	minClicksUniform  = 6
)

// KeyCombo is a keydown the collector saw.
type KeyCombo struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Meta  bool   `json:"meta"`
}

// Report is what the browser collector sends on its periodic check.
type Report struct {
	SessionID      string     `json:"sessionId"`
	OuterWidth     int        `json:"outerWidth"`
	OuterHeight    int        `json:"outerHeight"`
	InnerWidth     int        `json:"innerWidth"`
	InnerHeight    int        `json:"innerHeight"`
	KeyCombos      []KeyCombo `json:"keyCombos,omitempty"`
	MouseMovements int        `json:"mouseMovements"`
	KeyboardEvents int        `json:"keyboardEvents"`
	ClickTimesMs   []int64    `json:"clickTimes,omitempty"` // epoch ms, oldest first
}

// Result is the evaluator's verdict for one report.
type Result struct {
	Detected        bool    `json:"detected"`
	Method          string  `json:"method,omitempty"`
	LocalBotScore   float64 `json:"localBotScore"`
	AlreadyDetected bool    `json:"alreadyDetected"`
}

// Notifier receives the DevTools indicator for later classification.
type Notifier interface {
	NoteDevTools(sessionID, method string)
}

// EventLogger records devtools_detection events.
type EventLogger interface {
	LogSecurityEvent(sessionID string, eventType domain.EventType, severity domain.Severity, description string, metadata map[string]any) (domain.SecurityEvent, error)
}

// Evaluator turns collector reports into at most one detection per session.
type Evaluator struct {
	events   EventLogger
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	detected map[string]marker
}

// marker remembers a session's detection and when it last reported.
type marker struct {
	method string
	seen   time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator.
func NewEvaluator(events EventLogger, notifier Notifier, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		events:   events,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		detected: make(map[string]marker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks a report. Failures are logged, never returned.
func (e *Evaluator) Evaluate(r Report) Result {
	score := LocalBotScore(r)
	res := Result{LocalBotScore: score}

	method := ""
	switch {
	case WindowSizeSuggestsDevTools(r.OuterWidth, r.OuterHeight, r.InnerWidth, r.InnerHeight):
		method = MethodWindowSize
	case containsShortcut(r.KeyCombos):
		method = MethodShortcut
	case score > localScoreTrigger:
		method = MethodBehavior
	}
	if r.SessionID == "" {
		return res
	}

	now := e.now()
	e.mu.Lock()
	prev, seen := e.detected[r.SessionID]
	switch {
	case seen:
		prev.seen = now
		e.detected[r.SessionID] = prev
	case method != "":
		e.detected[r.SessionID] = marker{method: method, seen: now}
	}
	e.mu.Unlock()

	if method == "" {
		return res
	}
	if seen {
		res.AlreadyDetected = true
		res.Method = prev.method
		return res
	}

	res.Detected = true
	res.Method = method

	_, err := e.events.LogSecurityEvent(r.SessionID, domain.EventDevToolsDetection, domain.SeverityLow,
		"Developer tools detected via "+strings.ReplaceAll(method, "_", " "),
		map[string]any{
			"method":        method,
			"outerWidth":    r.OuterWidth,
			"outerHeight":   r.OuterHeight,
			"innerWidth":    r.InnerWidth,
			"innerHeight":   r.InnerHeight,
			"localBotScore": score,
		})
	if err != nil {
		e.logger.Error("log devtools detection failed", "session_id", r.SessionID, "error", err)
	}
	e.notifier.NoteDevTools(r.SessionID, method)
	return res
}

// EvictBefore drops markers of sessions that have not reported since cutoff,
// skipping any for which live returns true. It returns the dropped ids.
func (e *Evaluator) EvictBefore(cutoff time.Time, live func(sessionID string) bool) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for id, m := range e.detected {
		if m.seen.Before(cutoff) && (live == nil || !live(id)) {
			delete(e.detected, id)
			out = append(out, id)
		}
	}
	return out
}

// Forget clears the once-per-session marker.
func (e *Evaluator) Forget(sessionID string) {
	e.mu.Lock()
	delete(e.detected, sessionID)
	e.mu.Unlock()
}

// WindowSizeSuggestsDevTools requires both docked-panel deltas to be large
// and the page viewport to still be a usable size.
func WindowSizeSuggestsDevTools(outerW, outerH, innerW, innerH int) bool {
	dw := outerW - innerW
	dh := outerH - innerH
	return dw > sizeDeltaThreshold && dh > sizeDeltaThreshold &&
		dw >= sizeDeltaMinimum && dh >= sizeDeltaMinimum &&
		innerW > minInnerWidth && innerH > minInnerHeight
}

// IsDevToolsShortcut reports whether the combo opens developer tools or page source.
func IsDevToolsShortcut(k KeyCombo) bool {
	key := strings.ToUpper(k.Key)
	switch {
	case key == "F12":
		return true
	case k.Ctrl && k.Shift && (key == "I" || key == "J"):
		return true
	case k.Ctrl && !k.Shift && key == "U":
		return true
	case k.Meta && k.Alt && (key == "I" || key == "J"):
		return true
	}
	return false
}

func containsShortcut(combos []KeyCombo) bool {
	for _, k := range combos {
		if IsDevToolsShortcut(k) {
			return true
		}
	}
	return false
}

// LocalBotScore rescores the collector's own counters.
func LocalBotScore(r Report) float64 {
	clicks := r.ClickTimesMs
	if len(clicks) > maxClickSamples {
		clicks = clicks[len(clicks)-maxClickSamples:]
	}
	intervals := make([]float64, 0, len(clicks))
	for i := 1; i < len(clicks); i++ {
		intervals = append(intervals, float64(clicks[i]-clicks[i-1]))
	}

	var score float64
	if r.MouseMovements == 0 {
		score += 0.4
	}
	if len(clicks) >= minClicksRapid {
		var sum float64
		for _, iv := range intervals {
			sum += iv
		}
		if sum/float64(len(intervals)) < rapidClickMs {
			score += 0.3
		}
	}
	if r.KeyboardEvents == 0 && r.MouseMovements > mouseWithoutKeys {
		score += 0.2
	}
	if len(clicks) >= minClicksUniform && behavior.NormalizedVariance(intervals) < uniformClickNV {
		score += 0.3
	}
	return score
}

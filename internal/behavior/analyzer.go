package behavior

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

// Scoring thresholds.
const (
	minClickIntervalMs       = 100.0
	uniformCadenceFull       = 0.01 // normalized variance at or below which the full cadence weight applies
	uniformCadenceNone       = 0.1
	keyboardAbsenceMouseMin  = 50
	sparseMouseMin           = 10
	maxHumanActionsPerSecond = 10.0
	minSessionDuration       = 5 * time.Second
	minKeyPressMs            = 30.0
	minActionsForRate        = 5

	maxMouseVelocity         = 2000.0 // px/s
	minMouseVelocityVariance = 0.1
	minVelocitySamples       = 5
	maxStraightLineRatio     = 0.7
	straightSlopeTolerance   = 0.1
	maxScrollVelocity        = 5000.0 // px/s
	minScrollVariance        = 0.2
	minScrollEvents          = 5
	maxProgrammaticNavRatio  = 0.5
	minNavigationsForRatio   = 3

	weightNoMouse         = 0.4
	weightCadence         = 0.3
	weightKeyboardAbsence = 0.2
	weightRapidClicks     = 0.1
)

// Anomaly names reported by AnalyzeBehavior.
const (
	AnomalyNoMouse           = "No mouse movements detected"
	AnomalySparseMouse       = "Insufficient mouse movements for human behavior"
	AnomalyUniformClicks     = "Click timing too consistent"
	AnomalyRapidClicks       = "Clicking too fast"
	AnomalyNoKeyboard        = "No keyboard input despite mouse activity"
	AnomalyUniformTyping     = "Typing rhythm too consistent"
	AnomalyShortKeyPress     = "Key press duration too short"
	AnomalySessionTooShort   = "Session too short"
	AnomalyActionRateTooHigh = "Action rate too high for human behavior"
	AnomalyMouseTooFast      = "Unrealistic mouse velocity detected"
	AnomalyUniformMouseSpeed = "Mouse velocity too consistent"
	AnomalyStraightLines     = "Too many straight-line mouse movements"
	AnomalyScrollTooFast     = "Scroll velocity too high"
	AnomalyUniformScroll     = "Scroll behavior too consistent"
	AnomalyProgrammaticNav   = "Too much programmatic navigation"
)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// Analyzer ingests interaction events into a Store and scores sessions.
type Analyzer struct {
	store   *Store
	logger  *slog.Logger
	now     func() time.Time
	enabled atomic.Bool
}

// NewAnalyzer creates an analyzer backed by store. Tracking starts enabled.
func NewAnalyzer(store *Store, logger *slog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.enabled.Store(true)
	return a
}

// SetEnabled toggles event ingestion at runtime.
func (a *Analyzer) SetEnabled(v bool) { a.enabled.Store(v) }

// Enabled reports whether events are being ingested.
func (a *Analyzer) Enabled() bool { return a.enabled.Load() }

func (a *Analyzer) accept(sessionID string) bool {
	return sessionID != "" && a.enabled.Load()
}

// TrackMouseMovement records a pointer position stamped with the current time.
func (a *Analyzer) TrackMouseMovement(sessionID string, x, y int) {
	a.TrackMouseMovementAt(sessionID, x, y, a.now())
}

// TrackMouseMovementAt records a pointer position observed at at. Moves closer
// together than the store's sample interval are dropped.
func (a *Analyzer) TrackMouseMovementAt(sessionID string, x, y int, at time.Time) {
	if !a.accept(sessionID) {
		return
	}
	a.store.AppendMouse(sessionID, domain.MouseMovement{X: x, Y: y, T: at})
}

// TrackKeystroke records a key press held for durationMs, stamped with the current time.
func (a *Analyzer) TrackKeystroke(sessionID, key string, durationMs float64) {
	a.TrackKeystrokeAt(sessionID, key, durationMs, a.now())
}

// TrackKeystrokeAt records a key press observed at at.
func (a *Analyzer) TrackKeystrokeAt(sessionID, key string, durationMs float64, at time.Time) {
	if !a.accept(sessionID) {
		return
	}
	a.store.AppendKeystroke(sessionID, domain.Keystroke{Key: key, DurationMs: durationMs, T: at})
}

// TrackClick records a click on the target element, stamped with the current time.
func (a *Analyzer) TrackClick(sessionID string, x, y int, targetTag, targetID string, isDoubleClick bool) {
	a.TrackClickAt(sessionID, x, y, targetTag, targetID, isDoubleClick, a.now())
}

// TrackClickAt records a click observed at at.
func (a *Analyzer) TrackClickAt(sessionID string, x, y int, targetTag, targetID string, isDoubleClick bool, at time.Time) {
	if !a.accept(sessionID) {
		return
	}
	a.store.AppendClick(sessionID, domain.Click{
		X: x, Y: y, TargetTag: targetTag, TargetID: targetID, IsDoubleClick: isDoubleClick, T: at,
	})
}

// TrackScroll records a scroll position stamped with the current time.
func (a *Analyzer) TrackScroll(sessionID string, x, y int) {
	a.TrackScrollAt(sessionID, x, y, a.now())
}

// TrackScrollAt records a scroll position observed at at.
func (a *Analyzer) TrackScrollAt(sessionID string, x, y int, at time.Time) {
	if !a.accept(sessionID) {
		return
	}
	a.store.AppendScroll(sessionID, domain.ScrollEvent{X: x, Y: y, T: at})
}

// TrackNavigation records a route change stamped with the current time.
func (a *Analyzer) TrackNavigation(sessionID, from, to, method string) bool {
	return a.TrackNavigationAt(sessionID, from, to, method, a.now())
}

// TrackNavigationAt records a route change observed at at. It returns false
// for an unknown method; valid events are reported as taken even while
// tracking is disabled.
func (a *Analyzer) TrackNavigationAt(sessionID, from, to, method string, at time.Time) bool {
	if !domain.ValidNavigationMethod(method) {
		return false
	}
	if !a.accept(sessionID) {
		return true
	}
	a.store.AppendNavigation(sessionID, domain.NavigationEvent{From: from, To: to, Method: method, T: at})
	return true
}

// GetBehaviorPattern returns a copy of the session's buffers.
func (a *Analyzer) GetBehaviorPattern(sessionID string) (domain.BehaviorPattern, bool) {
	return a.store.Snapshot(sessionID)
}

// EndSession drops the session's buffers.
func (a *Analyzer) EndSession(sessionID string) bool {
	return a.store.EndSession(sessionID)
}

// AnalyzeBehavior scores a session. Unknown sessions get a zeroed analysis.
func (a *Analyzer) AnalyzeBehavior(sessionID string) domain.BehaviorAnalysis {
	p, ok := a.store.Snapshot(sessionID)
	if !ok {
		return domain.ZeroAnalysis(sessionID)
	}
	return Analyze(p)
}

// Stats summarizes live sessions.
type Stats struct {
	ActiveSessions   int     `json:"activeSessions"`
	HighRiskSessions int     `json:"highRiskSessions"`
	AverageSuspicion float64 `json:"averageSuspicion"`
}

// HighRiskPercent is the share of live sessions rated high or critical.
func (s Stats) HighRiskPercent() float64 {
	if s.ActiveSessions == 0 {
		return 0
	}
	return float64(s.HighRiskSessions) / float64(s.ActiveSessions) * 100
}

// Stats analyzes every live session.
func (a *Analyzer) Stats() Stats {
	var st Stats
	var total float64
	for _, id := range a.store.SessionIDs() {
		p, ok := a.store.Snapshot(id)
		if !ok {
			continue
		}
		res := Analyze(p)
		st.ActiveSessions++
		total += res.SuspicionScore
		if res.RiskLevel == domain.RiskHigh || res.RiskLevel == domain.RiskCritical {
			st.HighRiskSessions++
		}
	}
	if st.ActiveSessions > 0 {
		st.AverageSuspicion = total / float64(st.ActiveSessions)
	}
	return st
}

// Analyze scores a behavior snapshot.
func Analyze(p domain.BehaviorPattern) domain.BehaviorAnalysis {
	var (
		suspicion  float64
		indicators []float64
		anomalies  = []string{}
	)

	mouse := len(p.MouseMovements)
	keys := len(p.Keystrokes)
	total := p.TotalActions()
	others := total - mouse

	if mouse == 0 && others >= 1 {
		suspicion += weightNoMouse
		indicators = append(indicators, 0.5)
		anomalies = append(anomalies, AnomalyNoMouse)
	} else if mouse > 0 && mouse < sparseMouseMin && others >= sparseMouseMin {
		indicators = append(indicators, 0.2)
		anomalies = append(anomalies, AnomalySparseMouse)
	}

	intervals := p.ClickIntervalsMs()
	if len(intervals) >= 3 {
		if c := cadenceScore(NormalizedVariance(intervals)); c > 0 {
			suspicion += weightCadence * c
			indicators = append(indicators, 0.5*c)
			anomalies = append(anomalies, AnomalyUniformClicks)
		}
	}
	if len(intervals) > 0 && mean(intervals) < minClickIntervalMs {
		suspicion += weightRapidClicks
		indicators = append(indicators, 0.3)
		anomalies = append(anomalies, AnomalyRapidClicks)
	}

	if keys == 0 && mouse >= keyboardAbsenceMouseMin {
		suspicion += weightKeyboardAbsence
		indicators = append(indicators, 0.3)
		anomalies = append(anomalies, AnomalyNoKeyboard)
	}

	if keys >= 5 {
		keyIntervals := make([]float64, 0, keys-1)
		var held float64
		for i, k := range p.Keystrokes {
			held += k.DurationMs
			if i > 0 {
				keyIntervals = append(keyIntervals, float64(k.T.Sub(p.Keystrokes[i-1].T).Milliseconds()))
			}
		}
		if NormalizedVariance(keyIntervals) < uniformCadenceFull {
			indicators = append(indicators, 0.3)
			anomalies = append(anomalies, AnomalyUniformTyping)
		}
		if held/float64(keys) < minKeyPressMs {
			indicators = append(indicators, 0.2)
			anomalies = append(anomalies, AnomalyShortKeyPress)
		}
	}

	if v := positive(p.MouseVelocities()); len(v) >= minVelocitySamples {
		if mean(v) > maxMouseVelocity {
			indicators = append(indicators, 0.3)
			anomalies = append(anomalies, AnomalyMouseTooFast)
		}
		if NormalizedVariance(v) < minMouseVelocityVariance {
			indicators = append(indicators, 0.6)
			anomalies = append(anomalies, AnomalyUniformMouseSpeed)
		}
	}
	if mouse >= sparseMouseMin && StraightLineRatio(p.MouseMovements) > maxStraightLineRatio {
		indicators = append(indicators, 0.4)
		anomalies = append(anomalies, AnomalyStraightLines)
	}

	if len(p.ScrollEvents) >= minScrollEvents {
		v := p.ScrollVelocities()
		if mean(v) > maxScrollVelocity {
			indicators = append(indicators, 0.3)
			anomalies = append(anomalies, AnomalyScrollTooFast)
		}
		if len(v) >= 2 && NormalizedVariance(v) < minScrollVariance {
			indicators = append(indicators, 0.5)
			anomalies = append(anomalies, AnomalyUniformScroll)
		}
	}

	if n := len(p.Navigations); n >= minNavigationsForRatio {
		var programmatic int
		for _, nav := range p.Navigations {
			if nav.Method == domain.NavProgrammatic {
				programmatic++
			}
		}
		if float64(programmatic) > maxProgrammaticNavRatio*float64(n) {
			indicators = append(indicators, 0.5)
			anomalies = append(anomalies, AnomalyProgrammaticNav)
		}
	}

	if total >= minActionsForRate {
		d := p.Duration()
		if d < minSessionDuration {
			anomalies = append(anomalies, AnomalySessionTooShort)
		}
		if d <= 0 || float64(total)/d.Seconds() > maxHumanActionsPerSecond {
			indicators = append(indicators, 0.3)
			anomalies = append(anomalies, AnomalyActionRateTooHigh)
		}
	}

	suspicion = clamp01(suspicion)
	botProbability := noisyOr(indicators)

	return domain.BehaviorAnalysis{
		SessionID:       p.SessionID,
		SuspicionScore:  suspicion,
		BotProbability:  botProbability,
		HumanLikelihood: 1 - botProbability,
		Confidence:      dataConfidence(p),
		RiskLevel:       domain.LevelForScore(math.Max(suspicion, botProbability)),
		Anomalies:       anomalies,
	}
}

// cadenceScore maps normalized interval variance to [0,1]: fully uniform
// spacing scores 1, falling linearly to 0 at uniformCadenceNone.
func cadenceScore(nv float64) float64 {
	switch {
	case nv <= uniformCadenceFull:
		return 1
	case nv >= uniformCadenceNone:
		return 0
	default:
		return (uniformCadenceNone - nv) / (uniformCadenceNone - uniformCadenceFull)
	}
}

// dataConfidence grows with the amount of evidence collected.
func dataConfidence(p domain.BehaviorPattern) float64 {
	c := math.Min(0.3, float64(len(p.MouseMovements))/100)
	c += math.Min(0.2, float64(len(p.Keystrokes))/50)
	c += math.Min(0.2, float64(len(p.Clicks))/20)
	c += math.Min(0.3, p.Duration().Minutes()/5)
	return clamp01(c)
}

// StraightLineRatio is the share of consecutive move triples whose two
// segments have nearly the same slope. A zero x step counts as 1 to keep
// vertical segments finite.
func StraightLineRatio(moves []domain.MouseMovement) float64 {
	if len(moves) < 3 {
		return 0
	}
	slope := func(a, b domain.MouseMovement) float64 {
		dx := float64(b.X - a.X)
		if dx == 0 {
			dx = 1
		}
		return float64(b.Y-a.Y) / dx
	}
	var straight int
	for i := 2; i < len(moves); i++ {
		if math.Abs(slope(moves[i-2], moves[i-1])-slope(moves[i-1], moves[i])) < straightSlopeTolerance {
			straight++
		}
	}
	return float64(straight) / float64(len(moves)-2)
}

func positive(xs []float64) []float64 {
	out := xs[:0:0]
	for _, x := range xs {
		if x > 0 {
			out = append(out, x)
		}
	}
	return out
}

// NormalizedVariance returns variance(xs)/mean(xs)^2. A zero mean counts as
// perfectly uniform and yields 0; fewer than two samples also yield 0.
func NormalizedVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	if m == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return (sum / float64(len(xs))) / (m * m)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func noisyOr(ps []float64) float64 {
	miss := 1.0
	for _, p := range ps {
		miss *= 1 - clamp01(p)
	}
	return clamp01(1 - miss)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

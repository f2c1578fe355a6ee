package engine

import (
	"time"

	"github.com/nesthaus/riskengine/internal/botdetect"
	"github.com/nesthaus/riskengine/internal/domain"
)

// Tracked event kinds.
const (
	KindMouse      = "mouse"
	KindKeystroke  = "keystroke"
	KindClick      = "click"
	KindScroll     = "scroll"
	KindNavigation = "navigation"
)

// maxBatchEvents caps how much one collector request can ingest.
const maxBatchEvents = 500

// TrackedEvent is one interaction reported by the browser collector.
type TrackedEvent struct {
	Kind        string    `json:"kind"`
	X           int       `json:"x,omitempty"`
	Y           int       `json:"y,omitempty"`
	Key         string    `json:"key,omitempty"`
	DurationMs  float64   `json:"durationMs,omitempty"`
	TargetTag   string    `json:"targetTag,omitempty"`
	TargetID    string    `json:"targetId,omitempty"`
	DoubleClick bool      `json:"doubleClick,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Method      string    `json:"method,omitempty"`
	T           time.Time `json:"t"`
}

// Batch is a collector upload for one session.
type Batch struct {
	SessionID   string                 `json:"sessionId"`
	Events      []TrackedEvent         `json:"events"`
	Fingerprint *botdetect.Fingerprint `json:"fingerprint,omitempty"`
	UserAgent   string                 `json:"-"`
	IPAddress   string                 `json:"-"`
}

// CollectResult summarizes an ingested batch.
type CollectResult struct {
	Accepted       int                       `json:"accepted"`
	Skipped        int                       `json:"skipped"`
	Classification domain.BotDetectionRecord `json:"classification"`
}

// Collect ingests a batch and classifies the session with the new evidence.
// Events without a timestamp, or stamped in the future, are taken as now.
func (e *Engine) Collect(b Batch) (res CollectResult, err error) {
	if b.SessionID == "" {
		return CollectResult{}, domain.ErrValidation("sessionId is required")
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("collect failed", "session_id", b.SessionID, "panic", r)
			res = CollectResult{Classification: domain.BotDetectionRecord{
				SessionID:   b.SessionID,
				RiskLevel:   domain.RiskLow,
				AllowAccess: true,
				Timestamp:   e.now(),
			}}
			err = nil
		}
	}()

	now := e.now()
	for i, ev := range b.Events {
		if i >= maxBatchEvents {
			res.Skipped += len(b.Events) - maxBatchEvents
			break
		}
		at := ev.T
		if at.IsZero() || at.After(now) {
			at = now
		}
		switch ev.Kind {
		case KindMouse:
			e.analyzer.TrackMouseMovementAt(b.SessionID, ev.X, ev.Y, at)
		case KindKeystroke:
			e.analyzer.TrackKeystrokeAt(b.SessionID, ev.Key, ev.DurationMs, at)
		case KindClick:
			e.analyzer.TrackClickAt(b.SessionID, ev.X, ev.Y, ev.TargetTag, ev.TargetID, ev.DoubleClick, at)
		case KindScroll:
			e.analyzer.TrackScrollAt(b.SessionID, ev.X, ev.Y, at)
		case KindNavigation:
			if !e.analyzer.TrackNavigationAt(b.SessionID, ev.From, ev.To, ev.Method, at) {
				res.Skipped++
				continue
			}
		default:
			res.Skipped++
			continue
		}
		res.Accepted++
	}

	res.Classification = e.detector.Classify(b.SessionID, botdetect.Signals{
		UserAgent:   b.UserAgent,
		IPAddress:   b.IPAddress,
		Fingerprint: b.Fingerprint,
	})
	return res, nil
}

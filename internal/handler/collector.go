package handler

import (
	"log/slog"
	"net/http"

	"github.com/nesthaus/riskengine/internal/devtools"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/engine"
	"github.com/nesthaus/riskengine/internal/guard"
	"github.com/nesthaus/riskengine/internal/metrics"
)

// SessionHeader carries the collector session id on requests whose body has
// not been read yet.
const SessionHeader = "X-Session-ID"

// CollectorHandler serves the public browser collector under /collect.
type CollectorHandler struct {
	engine  *engine.Engine
	notices *guard.IdempotencyGuard
	block   bool
	logger  *slog.Logger
}

// NewCollectorHandler creates a CollectorHandler. notices suppresses repeated
// rate limit events from one client inside its TTL. With block set, sessions
// denied access are told so in the response.
func NewCollectorHandler(eng *engine.Engine, notices *guard.IdempotencyGuard, block bool, logger *slog.Logger) *CollectorHandler {
	return &CollectorHandler{engine: eng, notices: notices, block: block, logger: logger}
}

type trackResponse struct {
	Accepted int  `json:"accepted"`
	Skipped  int  `json:"skipped"`
	Blocked  bool `json:"blocked"`
}

// Track handles POST /collect/track.
func (h *CollectorHandler) Track(w http.ResponseWriter, r *http.Request) {
	var batch engine.Batch
	if err := DecodeJSON(r, &batch); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	batch.UserAgent = r.UserAgent()
	batch.IPAddress = ClientIP(r)

	res, err := h.engine.Collect(batch)
	if err != nil {
		RespondError(w, err)
		return
	}
	metrics.CollectorBatchEvents.Observe(float64(res.Accepted))
	metrics.ObserveClassification(res.Classification)

	RespondOK(w, http.StatusAccepted, trackResponse{
		Accepted: res.Accepted,
		Skipped:  res.Skipped,
		Blocked:  h.block && !res.Classification.AllowAccess,
	}, "")
}

// DevTools handles POST /collect/devtools.
func (h *CollectorHandler) DevTools(w http.ResponseWriter, r *http.Request) {
	var report devtools.Report
	if err := DecodeJSON(r, &report); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if report.SessionID == "" {
		RespondError(w, domain.ErrValidation("sessionId is required"))
		return
	}

	RespondOK(w, http.StatusAccepted, h.engine.DevTools().Evaluate(report), "")
}

// OnRateLimited records a rate_limit_exceeded event, at most once per client
// within the notice TTL.
func (h *CollectorHandler) OnRateLimited(r *http.Request, res domain.GuardResult) {
	metrics.CollectorRejectedTotal.Inc()

	ip := ClientIP(r)
	if !h.notices.Check(r.Context(), "collector:"+ip).Allowed {
		return
	}
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID = "ip:" + ip
	}
	_, err := h.engine.Monitor().LogSecurityEvent(sessionID, domain.EventRateLimitExceeded, domain.SeverityMedium,
		"Collector rate limit exceeded", map[string]any{
			"ipAddress": ip,
			"path":      r.URL.Path,
			"userAgent": r.UserAgent(),
			"reason":    res.Reason,
		})
	if err != nil {
		h.logger.Warn("rate limit event not recorded", "ip", ip, "error", err)
	}
}

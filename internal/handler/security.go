package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/engine"
	"github.com/nesthaus/riskengine/internal/guard"
	"github.com/nesthaus/riskengine/internal/repository"
)

const (
	defaultEventLimit   = 100
	defaultSummaryHours = 24
	maxSummaryHours     = 24 * 30
)

// Archive gives read access to the Postgres security archive.
type Archive struct {
	DB     repository.DBTX
	Events repository.SecurityEventRepository
	Alerts repository.SecurityAlertRepository
}

// SecurityHandler serves the analyst API under /security.
type SecurityHandler struct {
	engine  *engine.Engine
	archive *Archive
	reports *guard.IdempotencyGuard
	logger  *slog.Logger
	now     func() time.Time
}

// NewSecurityHandler creates a SecurityHandler. archive may be nil, in which
// case the archive endpoints answer 503.
func NewSecurityHandler(eng *engine.Engine, archive *Archive, reports *guard.IdempotencyGuard, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{engine: eng, archive: archive, reports: reports, logger: logger, now: time.Now}
}

type dashboardResponse struct {
	engine.Dashboard
	Timestamp time.Time `json:"timestamp"`
}

// Dashboard handles GET /security/dashboard.
func (h *SecurityHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	RespondOK(w, http.StatusOK, dashboardResponse{
		Dashboard: h.engine.DashboardData(),
		Timestamp: h.now(),
	}, "")
}

type eventsResponse struct {
	Success   bool                   `json:"success"`
	Data      []domain.SecurityEvent `json:"data"`
	Total     int                    `json:"total"`
	Filters   eventFilterView        `json:"filters"`
	Timestamp time.Time              `json:"timestamp"`
}

type eventFilterView struct {
	Limit     int    `json:"limit"`
	Type      string `json:"type,omitempty"`
	Severity  string `json:"severity,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Events handles GET /security/events.
func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.EventFilter{
		Limit:     defaultEventLimit,
		Type:      domain.EventType(q.Get("type")),
		Severity:  domain.Severity(q.Get("severity")),
		SessionID: q.Get("sessionId"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(w, domain.ErrValidationFields([]string{fmt.Sprintf("limit must be an integer, got %q", raw)}))
			return
		}
		f.Limit = n
	}

	events, err := h.engine.Monitor().RecentEvents(f)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, eventsResponse{
		Success: true,
		Data:    events,
		Total:   len(events),
		Filters: eventFilterView{
			Limit:     f.Limit,
			Type:      string(f.Type),
			Severity:  string(f.Severity),
			SessionID: f.SessionID,
		},
		Timestamp: h.now(),
	})
}

// Alerts handles GET /security/alerts.
func (h *SecurityHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	RespondList(w, h.engine.Monitor().ActiveAlerts())
}

// ResolveAlert handles POST /security/alerts/{id}/resolve.
func (h *SecurityHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Monitor().ResolveAlert(id); err != nil {
		RespondError(w, err)
		return
	}
	h.logger.Info("alert resolved", "alert_id", id, "by", auth.SubjectFromContext(r.Context()))
	RespondOK(w, http.StatusOK, nil, "Alert resolved")
}

// ResolveEvent handles POST /security/events/{id}/resolve.
func (h *SecurityHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Monitor().ResolveEvent(id); err != nil {
		RespondError(w, err)
		return
	}
	h.logger.Info("event resolved", "event_id", id, "by", auth.SubjectFromContext(r.Context()))
	RespondOK(w, http.StatusOK, nil, "Event resolved")
}

type analyzeRequest struct {
	SessionID     string `json:"sessionId"`
	ForceAnalysis bool   `json:"forceAnalysis"`
}

// Analyze handles POST /security/analyze.
func (h *SecurityHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	inv, err := h.engine.Investigate(req.SessionID, req.ForceAnalysis)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondOK(w, http.StatusOK, inv, "")
}

type reportRequest struct {
	SessionID    string          `json:"sessionId"`
	IncidentType string          `json:"incidentType"`
	Description  string          `json:"description"`
	Severity     domain.Severity `json:"severity"`
	Metadata     map[string]any  `json:"metadata"`
}

type reportResponse struct {
	EventID      string          `json:"eventId"`
	SessionID    string          `json:"sessionId"`
	IncidentType string          `json:"incidentType"`
	Severity     domain.Severity `json:"severity"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Report handles POST /security/report. A repeated Idempotency-Key from the
// same caller is rejected with 409.
func (h *SecurityHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		key = auth.SubjectFromContext(r.Context()) + ":" + key
		if res := h.reports.Check(r.Context(), key); !res.Allowed {
			RespondError(w, domain.ErrConflict(res.Reason))
			return
		}
	}

	ev, err := h.engine.ReportIncident(engine.Incident{
		SessionID:    req.SessionID,
		IncidentType: req.IncidentType,
		Description:  req.Description,
		Severity:     req.Severity,
		Metadata:     req.Metadata,
		UserAgent:    r.UserAgent(),
		IPAddress:    ClientIP(r),
	})
	if err != nil {
		if key != "" {
			h.reports.Remove(key)
		}
		RespondError(w, err)
		return
	}

	RespondOK(w, http.StatusCreated, reportResponse{
		EventID:      ev.ID,
		SessionID:    ev.SessionID,
		IncidentType: req.IncidentType,
		Severity:     ev.Severity,
		Timestamp:    ev.Timestamp,
	}, "Security incident reported successfully")
}

// Config handles GET /security/config.
func (h *SecurityHandler) Config(w http.ResponseWriter, r *http.Request) {
	RespondOK(w, http.StatusOK, h.engine.SecurityConfig(), "")
}

type configUpdateResponse struct {
	Updated   []string  `json:"updated"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateConfig handles PUT /security/config.
func (h *SecurityHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var u domain.ConfigUpdate
	if err := DecodeJSON(r, &u); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	keys, err := h.engine.UpdateConfig(u)
	if err != nil {
		RespondError(w, err)
		return
	}
	h.logger.Info("security configuration changed", "keys", keys, "by", auth.SubjectFromContext(r.Context()))
	RespondOK(w, http.StatusOK, configUpdateResponse{Updated: keys, Timestamp: h.now()},
		"Security configuration updated successfully")
}

// ArchivedEvents handles GET /security/archive/events.
func (h *SecurityHandler) ArchivedEvents(w http.ResponseWriter, r *http.Request) {
	if !h.archiveReady(w) {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	events, err := h.archive.Events.List(r.Context(), h.archive.DB, r.URL.Query().Get("sessionId"), limit)
	if err != nil {
		RespondError(w, domain.ErrInternal("list archived events", err))
		return
	}
	RespondList(w, events)
}

// ArchivedEvent handles GET /security/archive/events/{id}.
func (h *SecurityHandler) ArchivedEvent(w http.ResponseWriter, r *http.Request) {
	if !h.archiveReady(w) {
		return
	}
	id := chi.URLParam(r, "id")
	ev, err := h.archive.Events.FindByID(r.Context(), h.archive.DB, id)
	if err != nil {
		RespondError(w, domain.ErrInternal("find archived event", err))
		return
	}
	if ev == nil {
		RespondError(w, domain.ErrNotFound("security event", id))
		return
	}
	RespondOK(w, http.StatusOK, ev, "")
}

// ArchivedAlerts handles GET /security/archive/alerts.
func (h *SecurityHandler) ArchivedAlerts(w http.ResponseWriter, r *http.Request) {
	if !h.archiveReady(w) {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	alerts, err := h.archive.Alerts.ListOpen(r.Context(), h.archive.DB, limit)
	if err != nil {
		RespondError(w, domain.ErrInternal("list archived alerts", err))
		return
	}
	RespondList(w, alerts)
}

type archiveSummary struct {
	Since  time.Time                `json:"since"`
	Counts map[domain.EventType]int `json:"counts"`
}

// ArchiveSummary handles GET /security/archive/summary?hours=N.
func (h *SecurityHandler) ArchiveSummary(w http.ResponseWriter, r *http.Request) {
	if !h.archiveReady(w) {
		return
	}
	hours, ok := queryInt(w, r, "hours", defaultSummaryHours)
	if !ok {
		return
	}
	if hours < 1 || hours > maxSummaryHours {
		RespondError(w, domain.ErrValidationFields([]string{
			fmt.Sprintf("hours must be between 1 and %d, got %d", maxSummaryHours, hours),
		}))
		return
	}

	since := h.now().Add(-time.Duration(hours) * time.Hour)
	counts, err := h.archive.Events.CountByType(r.Context(), h.archive.DB, since)
	if err != nil {
		RespondError(w, domain.ErrInternal("count archived events", err))
		return
	}
	RespondOK(w, http.StatusOK, archiveSummary{Since: since, Counts: counts}, "")
}

func (h *SecurityHandler) archiveReady(w http.ResponseWriter) bool {
	if h.archive == nil {
		RespondError(w, domain.ErrUnavailable("security archive is disabled"))
		return false
	}
	return true
}

// queryLimit reads ?limit=, defaulting to defaultEventLimit, and rejects
// values outside 1..domain.MaxEventQueryLimit.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, ok := queryInt(w, r, "limit", defaultEventLimit)
	if !ok {
		return 0, false
	}
	if limit < 1 || limit > domain.MaxEventQueryLimit {
		RespondError(w, domain.ErrValidationFields([]string{
			fmt.Sprintf("limit must be between 1 and %d, got %d", domain.MaxEventQueryLimit, limit),
		}))
		return 0, false
	}
	return limit, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		RespondError(w, domain.ErrValidationFields([]string{fmt.Sprintf("%s must be an integer, got %q", name, raw)}))
		return 0, false
	}
	return n, true
}

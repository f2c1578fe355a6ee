package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/engine"
	"github.com/nesthaus/riskengine/internal/guard"
	"github.com/nesthaus/riskengine/internal/repository"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	return engine.New(engine.DefaultConfig(), noopLogger())
}

func newSecurityRouter(h *SecurityHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &auth.Claims{Realm: auth.RealmAnalyst, Role: auth.RoleAnalyst}
			claims.Subject = "analyst-1"
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	})
	r.Get("/security/dashboard", h.Dashboard)
	r.Get("/security/events", h.Events)
	r.Get("/security/alerts", h.Alerts)
	r.Post("/security/alerts/{id}/resolve", h.ResolveAlert)
	r.Post("/security/events/{id}/resolve", h.ResolveEvent)
	r.Post("/security/analyze", h.Analyze)
	r.Post("/security/report", h.Report)
	r.Get("/security/config", h.Config)
	r.Put("/security/config", h.UpdateConfig)
	r.Get("/security/archive/events", h.ArchivedEvents)
	r.Get("/security/archive/events/{id}", h.ArchivedEvent)
	r.Get("/security/archive/alerts", h.ArchivedAlerts)
	r.Get("/security/archive/summary", h.ArchiveSummary)
	return r
}

func serve(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSecurityHandler_Dashboard(t *testing.T) {
	eng := newTestEngine(t)
	h := NewSecurityHandler(eng, nil, guard.NewIdempotencyGuard(time.Hour), noopLogger())

	w := serve(newSecurityRouter(h), http.MethodGet, "/security/dashboard", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Contains(t, data, "timestamp")
	assert.Contains(t, data, "behaviorAnalysis")
	assert.Contains(t, data, "botDetection")
}

func TestSecurityHandler_Events(t *testing.T) {
	eng := newTestEngine(t)
	for _, sid := range []string{"s1", "s1", "s2"} {
		_, err := eng.Monitor().LogSecurityEvent(sid, domain.EventSuspiciousActivity, domain.SeverityMedium, "test", nil)
		require.NoError(t, err)
	}
	router := newSecurityRouter(NewSecurityHandler(eng, nil, guard.NewIdempotencyGuard(time.Hour), noopLogger()))

	t.Run("defaults", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/security/events", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.EqualValues(t, 3, body["total"])
		assert.EqualValues(t, 100, body["filters"].(map[string]any)["limit"])
	})

	t.Run("session filter", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/security/events?sessionId=s1&type=suspicious_activity", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 2, decodeBody(t, w)["total"])
	})

	tests := []struct {
		name  string
		query string
	}{
		{"limit zero", "limit=0"},
		{"limit too large", "limit=1001"},
		{"limit not a number", "limit=ten"},
		{"unknown type", "type=teleportation"},
		{"unknown severity", "severity=apocalyptic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodGet, "/security/events?"+tt.query, "", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, "VALIDATION_ERROR", body["code"])
			assert.NotEmpty(t, body["details"])
		})
	}
}

func TestSecurityHandler_ResolveEventAndAlert(t *testing.T) {
	eng := newTestEngine(t)
	ev, err := eng.Monitor().LogSecurityEvent("s1", domain.EventBotDetection, domain.SeverityHigh, "bot", nil)
	require.NoError(t, err)
	router := newSecurityRouter(NewSecurityHandler(eng, nil, guard.NewIdempotencyGuard(time.Hour), noopLogger()))

	w := serve(router, http.MethodPost, "/security/events/"+ev.ID+"/resolve", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Event resolved", decodeBody(t, w)["message"])

	w = serve(router, http.MethodPost, "/security/events/missing/resolve", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, http.MethodPost, "/security/alerts/missing/resolve", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	alerts := eng.Monitor().ActiveAlerts()
	if len(alerts) > 0 {
		w = serve(router, http.MethodPost, "/security/alerts/"+alerts[0].ID+"/resolve", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestSecurityHandler_Alerts(t *testing.T) {
	eng := newTestEngine(t)
	router := newSecurityRouter(NewSecurityHandler(eng, nil, guard.NewIdempotencyGuard(time.Hour), noopLogger()))

	w := serve(router, http.MethodGet, "/security/alerts", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[],"total":0}`, w.Body.String())
}

func TestSecurityHandler_Analyze(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Collect(engine.Batch{
		SessionID: "s1",
		Events:    []engine.TrackedEvent{{Kind: engine.KindClick, X: 10, Y: 10}},
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	})
	require.NoError(t, err)
	router := newSecurityRouter(NewSecurityHandler(eng, nil, guard.NewIdempotencyGuard(time.Hour), noopLogger()))

	t.Run("returns investigation", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/security/analyze", `{"sessionId":"s1","forceAnalysis":true}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, "s1", data["sessionId"])
		assert.Contains(t, data, "riskLevel")
		assert.NotNil(t, data["behaviorPattern"])
		assert.NotEmpty(t, data["botDetectionHistory"])
	})

	t.Run("missing session", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/security/analyze", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/security/analyze", `{"sessionId":`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSecurityHandler_Report(t *testing.T) {
	eng := newTestEngine(t)
	router := newSecurityRouter(NewSecurityHandler(eng, nil, guard.NewIdempotencyGuard(time.Hour), noopLogger()))
	valid := `{"sessionId":"s9","incidentType":"scraping","description":"bulk copy","severity":"high","metadata":{"page":"/pricing"}}`
	headers := map[string]string{
		"Idempotency-Key": "rep-1",
		"User-Agent":      "AnalystConsole/2.0",
		"X-Forwarded-For": "198.51.100.4",
	}

	w := serve(router, http.MethodPost, "/security/report", valid, headers)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Security incident reported successfully", body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "s9", data["sessionId"])
	assert.Equal(t, "scraping", data["incidentType"])
	assert.Equal(t, "high", data["severity"])

	events, err := eng.Monitor().RecentEvents(domain.EventFilter{Limit: 10, SessionID: "s9"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSuspiciousActivity, events[0].Type)
	assert.Equal(t, "Reported incident: scraping - bulk copy", events[0].Description)
	assert.Equal(t, "manual", events[0].Metadata["reportedBy"])
	assert.Equal(t, "198.51.100.4", events[0].Metadata["ipAddress"])
	assert.Equal(t, "AnalystConsole/2.0", events[0].Metadata["userAgent"])
	assert.Equal(t, "/pricing", events[0].Metadata["page"])

	t.Run("duplicate idempotency key", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/security/report", valid, headers)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("rejected report releases its key", func(t *testing.T) {
		h := map[string]string{"Idempotency-Key": "rep-2"}
		w := serve(router, http.MethodPost, "/security/report", `{"sessionId":"s9","severity":"extreme"}`, h)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Len(t, decodeBody(t, w)["details"], 3)

		w = serve(router, http.MethodPost, "/security/report", valid, h)
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestSecurityHandler_Config(t *testing.T) {
	eng := newTestEngine(t)
	router := newSecurityRouter(NewSecurityHandler(eng, nil, guard.NewIdempotencyGuard(time.Hour), noopLogger()))

	t.Run("no allowed key", func(t *testing.T) {
		w := serve(router, http.MethodPut, "/security/config", `{"sessionTimeout":5}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "CONFIG_ERROR", decodeBody(t, w)["code"])
	})

	t.Run("out of range threshold", func(t *testing.T) {
		w := serve(router, http.MethodPut, "/security/config", `{"alertThresholds":{"botDetectionRate":150}}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("applies update", func(t *testing.T) {
		w := serve(router, http.MethodPut, "/security/config", `{"strictMode":true,"alertThresholds":{"criticalEvents":3}}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, []any{"strictMode", "alertThresholds"}, data["updated"])

		w = serve(router, http.MethodGet, "/security/config", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		cfg := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, true, cfg["strictMode"])
		assert.EqualValues(t, 3, cfg["alertThresholds"].(map[string]any)["criticalEvents"])
	})
}

type stubEventRepo struct {
	events []domain.SecurityEvent
	counts map[domain.EventType]int
	since  time.Time
	limit  int
}

func (s *stubEventRepo) Insert(context.Context, repository.DBTX, domain.SecurityEvent) (bool, error) {
	return true, nil
}

func (s *stubEventRepo) FindByID(_ context.Context, _ repository.DBTX, id string) (*domain.SecurityEvent, error) {
	for i := range s.events {
		if s.events[i].ID == id {
			return &s.events[i], nil
		}
	}
	return nil, nil
}

func (s *stubEventRepo) List(_ context.Context, _ repository.DBTX, sessionID string, limit int) ([]domain.SecurityEvent, error) {
	s.limit = limit
	var out []domain.SecurityEvent
	for _, ev := range s.events {
		if sessionID == "" || ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubEventRepo) CountByType(_ context.Context, _ repository.DBTX, since time.Time) (map[domain.EventType]int, error) {
	s.since = since
	return s.counts, nil
}

type stubAlertRepo struct {
	open  []domain.SecurityAlert
	limit int
}

func (s *stubAlertRepo) Upsert(context.Context, repository.DBTX, domain.SecurityAlert) error {
	return nil
}

func (s *stubAlertRepo) ListOpen(_ context.Context, _ repository.DBTX, limit int) ([]domain.SecurityAlert, error) {
	s.limit = limit
	return s.open, nil
}

func TestSecurityHandler_Archive(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	events := &stubEventRepo{
		events: []domain.SecurityEvent{
			{ID: "e1", SessionID: "s1", Type: domain.EventBotDetection, Severity: domain.SeverityHigh},
			{ID: "e2", SessionID: "s2", Type: domain.EventDevToolsDetection, Severity: domain.SeverityMedium},
		},
		counts: map[domain.EventType]int{domain.EventBotDetection: 1},
	}
	alerts := &stubAlertRepo{open: []domain.SecurityAlert{{ID: "a1", Type: "bot_detection", Count: 2}}}
	h := NewSecurityHandler(newTestEngine(t), &Archive{Events: events, Alerts: alerts}, guard.NewIdempotencyGuard(time.Hour), noopLogger())
	h.now = func() time.Time { return now }
	router := newSecurityRouter(h)

	w := serve(router, http.MethodGet, "/security/archive/events?sessionId=s2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["total"])

	w = serve(router, http.MethodGet, "/security/archive/events/e1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "e1", decodeBody(t, w)["data"].(map[string]any)["id"])

	w = serve(router, http.MethodGet, "/security/archive/events/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(router, http.MethodGet, "/security/archive/alerts", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["total"])

	w = serve(router, http.MethodGet, "/security/archive/summary?hours=6", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, now.Add(-6*time.Hour), events.since)
	assert.EqualValues(t, 1, decodeBody(t, w)["data"].(map[string]any)["counts"].(map[string]any)["bot_detection"])

	w = serve(router, http.MethodGet, "/security/archive/summary?hours=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, http.MethodGet, "/security/archive/events?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSecurityHandler_ArchiveLimit(t *testing.T) {
	events := &stubEventRepo{}
	alerts := &stubAlertRepo{}
	h := NewSecurityHandler(newTestEngine(t), &Archive{Events: events, Alerts: alerts}, guard.NewIdempotencyGuard(time.Hour), noopLogger())
	router := newSecurityRouter(h)

	tests := []struct {
		name  string
		query string
		code  int
		limit int
	}{
		{"default", "", http.StatusOK, defaultEventLimit},
		{"lowest", "?limit=1", http.StatusOK, 1},
		{"highest", "?limit=1000", http.StatusOK, domain.MaxEventQueryLimit},
		{"zero", "?limit=0", http.StatusBadRequest, 0},
		{"negative", "?limit=-5", http.StatusBadRequest, 0},
		{"too large", "?limit=1001", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events.limit, alerts.limit = 0, 0

			w := serve(router, http.MethodGet, "/security/archive/events"+tt.query, "", nil)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.limit, events.limit)

			w = serve(router, http.MethodGet, "/security/archive/alerts"+tt.query, "", nil)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.limit, alerts.limit)
			if tt.code == http.StatusBadRequest {
				assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, w)["code"])
			}
		})
	}
}

func TestSecurityHandler_ArchiveDisabled(t *testing.T) {
	router := newSecurityRouter(NewSecurityHandler(newTestEngine(t), nil, guard.NewIdempotencyGuard(time.Hour), noopLogger()))

	for _, path := range []string{"/security/archive/events", "/security/archive/alerts", "/security/archive/summary", "/security/archive/events/e1"} {
		w := serve(router, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

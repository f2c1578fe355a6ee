package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/engine"
	"github.com/nesthaus/riskengine/internal/infra"
)

const testSecret = "router-test-secret-with-enough-length"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	router http.Handler
	engine *engine.Engine
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T, collectorLimit int) *testServer {
	t.Helper()
	logger := testLogger()
	eng := engine.New(engine.DefaultConfig(), logger)
	jwtMgr := auth.NewJWTManager(testSecret, time.Hour, time.Hour)
	router := NewRouter(RouterDeps{
		Engine:         eng,
		JWTMgr:         jwtMgr,
		Hub:            infra.NewWSHub(logger),
		Guards:         NewGuards(collectorLimit, time.Minute),
		Logger:         logger,
		CORSOrigins:    []string{"*"},
		RequestTimeout: 5 * time.Second,
	})
	return &testServer{router: router, engine: eng, jwt: jwtMgr}
}

func (s *testServer) token(t *testing.T, realm auth.Realm, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(realm, "subject-"+role, "", role)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path, body, token string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, 100)
	w := s.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["archive"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t, 100)
	s.do(http.MethodGet, "/health", "", "")

	w := s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRouter_SecurityAccess(t *testing.T) {
	s := newTestServer(t, 100)
	viewer := s.token(t, auth.RealmAnalyst, auth.RoleViewer)
	analyst := s.token(t, auth.RealmAnalyst, auth.RoleAnalyst)
	service := s.token(t, auth.RealmService, auth.RoleService)
	update := `{"strictMode": true}`

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/security/dashboard", "", "", http.StatusUnauthorized},
		{"viewer reads dashboard", http.MethodGet, "/security/dashboard", "", viewer, http.StatusOK},
		{"viewer reads config", http.MethodGet, "/security/config", "", viewer, http.StatusOK},
		{"viewer cannot update config", http.MethodPut, "/security/config", update, viewer, http.StatusForbidden},
		{"service cannot read dashboard", http.MethodGet, "/security/dashboard", "", service, http.StatusForbidden},
		{"service can report", http.MethodPost, "/security/report",
			`{"sessionId":"s-1","incidentType":"scraping","description":"burst of page loads","severity":"medium"}`,
			service, http.StatusCreated},
		{"archive disabled", http.MethodGet, "/security/archive/events", "", viewer, http.StatusServiceUnavailable},
		{"analyst updates config", http.MethodPut, "/security/config", update, analyst, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	assert.True(t, s.engine.SecurityConfig().StrictMode)
}

func TestRouter_CollectorRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	body := `{"sessionId":"s-collect","events":[{"kind":"mouse","x":1,"y":2}]}`

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/collect/track", body, "")
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	w := s.do(http.MethodPost, "/collect/track", body, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	events, err := s.engine.Monitor().RecentEvents(domain.EventFilter{Limit: 10, Type: domain.EventRateLimitExceeded})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRouter_StreamRequiresToken(t *testing.T) {
	s := newTestServer(t, 100)
	w := s.do(http.MethodGet, "/security/stream", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConnectFeeds(t *testing.T) {
	logger := testLogger()
	eng := engine.New(engine.DefaultConfig(), logger)
	hub := infra.NewWSHub(logger)
	conn := &infra.WSConn{ID: "c1", Send: make(chan []byte, 8)}
	require.True(t, hub.Join(infra.RoomEvents, conn))

	unsubscribe := ConnectFeeds(eng.Monitor(), hub, nil)
	_, err := eng.Monitor().LogSecurityEvent("s-feed", domain.EventSuspiciousActivity, domain.SeverityLow, "probe", nil)
	require.NoError(t, err)

	require.Len(t, conn.Send, 1)
	var msg struct {
		Event string `json:"event"`
		Data  struct {
			SessionID string `json:"sessionId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-conn.Send, &msg))
	assert.Equal(t, StreamSecurityEvent, msg.Event)
	assert.Equal(t, "s-feed", msg.Data.SessionID)

	unsubscribe()
	_, err = eng.Monitor().LogSecurityEvent("s-feed", domain.EventSuspiciousActivity, domain.SeverityLow, "probe", nil)
	require.NoError(t, err)
	assert.Empty(t, conn.Send)
}

package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/guard"
)

func TestAuthLockout(t *testing.T) {
	eng := newTestEngine(t)
	jwtMgr := auth.NewJWTManager("lockout-test-secret-with-enough-length", time.Hour, time.Hour)
	lock := NewAuthLockout(guard.NewLockout(), eng.Monitor(), noopLogger())

	protected := lock.Middleware(auth.Authenticate(jwtMgr, lock.Hooks(), "", auth.RealmAnalyst)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })))

	bad := map[string]string{"Authorization": "Bearer not-a-token", "X-Forwarded-For": "198.51.100.23"}
	for i := 0; i < guard.MaxAttempts; i++ {
		w := serve(protected, http.MethodGet, "/security/dashboard", "", bad)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	token, err := jwtMgr.GenerateToken(auth.RealmAnalyst, "analyst-1", "a@example.com", auth.RoleAnalyst)
	require.NoError(t, err)
	good := map[string]string{"Authorization": "Bearer " + token, "X-Forwarded-For": "198.51.100.23"}
	w := serve(protected, http.MethodGet, "/security/dashboard", "", good)
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "locked out even with a valid token")

	good["X-Forwarded-For"] = "198.51.100.99"
	w = serve(protected, http.MethodGet, "/security/dashboard", "", good)
	assert.Equal(t, http.StatusOK, w.Code, "other clients are unaffected")

	events, err := eng.Monitor().RecentEvents(domain.EventFilter{Limit: 10, Type: domain.EventBruteForceAttempt})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ip:198.51.100.23", events[0].SessionID)
	assert.Equal(t, domain.SeverityHigh, events[0].Severity)
}

func TestAuthLockout_SuccessClearsFailures(t *testing.T) {
	eng := newTestEngine(t)
	jwtMgr := auth.NewJWTManager("lockout-test-secret-with-enough-length", time.Hour, time.Hour)
	lock := NewAuthLockout(guard.NewLockout(), eng.Monitor(), noopLogger())
	protected := lock.Middleware(auth.Authenticate(jwtMgr, lock.Hooks(), "", auth.RealmAnalyst)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })))

	token, err := jwtMgr.GenerateToken(auth.RealmAnalyst, "analyst-1", "", auth.RoleViewer)
	require.NoError(t, err)
	bad := map[string]string{"Authorization": "Bearer nope", "X-Forwarded-For": "203.0.113.1"}
	good := map[string]string{"Authorization": "Bearer " + token, "X-Forwarded-For": "203.0.113.1"}

	for i := 0; i < guard.MaxAttempts-1; i++ {
		serve(protected, http.MethodGet, "/", "", bad)
	}
	require.Equal(t, http.StatusOK, serve(protected, http.MethodGet, "/", "", good).Code)
	for i := 0; i < guard.MaxAttempts-1; i++ {
		serve(protected, http.MethodGet, "/", "", bad)
	}
	assert.Equal(t, http.StatusOK, serve(protected, http.MethodGet, "/", "", good).Code)
}

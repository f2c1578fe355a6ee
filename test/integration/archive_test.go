//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/repository"
	"github.com/nesthaus/riskengine/test/integration/testutil"
)

func archivedEvent(sessionID string, t domain.EventType, at time.Time) domain.SecurityEvent {
	return domain.SecurityEvent{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Type:            t,
		Severity:        domain.SeverityHigh,
		Timestamp:       at,
		Source:          "security_monitor",
		Description:     "archived for test",
		Metadata:        map[string]any{"ipAddress": "203.0.113.9"},
		ResponseActions: []string{"flag_session"},
	}
}

func TestArchive_EventRoundTrip(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	repo := repository.NewSecurityEventRepository()

	ev := archivedEvent("it-session", domain.EventBotDetection, time.Now().UTC().Truncate(time.Millisecond))
	inserted, err := repo.Insert(ctx, env.Pool, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, env.Pool, ev)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivery is ignored")

	got, err := repo.FindByID(ctx, env.Pool, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ev.SessionID, got.SessionID)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, "203.0.113.9", got.Metadata["ipAddress"])
	assert.Equal(t, ev.ResponseActions, got.ResponseActions)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))

	missing, err := repo.FindByID(ctx, env.Pool, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestArchive_Endpoints(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	events := repository.NewSecurityEventRepository()
	alerts := repository.NewSecurityAlertRepository()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := events.Insert(ctx, env.Pool, archivedEvent("it-a", domain.EventBotDetection, now.Add(-time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := events.Insert(ctx, env.Pool, archivedEvent("it-b", domain.EventDevToolsDetection, now.Add(-48*time.Hour)))
	require.NoError(t, err)

	require.NoError(t, alerts.Upsert(ctx, env.Pool, domain.SecurityAlert{
		ID: uuid.NewString(), SessionID: "it-a", Type: string(domain.EventBotDetection),
		Severity: domain.SeverityHigh, Title: "Bot Detection", Timestamp: now, LastSeen: now, Count: 3,
	}))
	require.NoError(t, alerts.Upsert(ctx, env.Pool, domain.SecurityAlert{
		ID: uuid.NewString(), SessionID: "it-b", Type: string(domain.EventDevToolsDetection),
		Severity: domain.SeverityLow, Timestamp: now, LastSeen: now, Count: 1, Resolved: true,
	}))

	token := env.AnalystToken(auth.RoleViewer)

	t.Run("events by session", func(t *testing.T) {
		resp := env.GET("/security/archive/events?sessionId=it-a&limit=2", token)
		testutil.AssertStatus(t, resp, http.StatusOK)
		var body struct {
			Data  []domain.SecurityEvent `json:"data"`
			Total int                    `json:"total"`
		}
		testutil.DecodeJSON(t, resp, &body)
		assert.Equal(t, 2, body.Total)
		for _, ev := range body.Data {
			assert.Equal(t, "it-a", ev.SessionID)
		}
	})

	t.Run("open alerts", func(t *testing.T) {
		resp := env.GET("/security/archive/alerts", token)
		testutil.AssertStatus(t, resp, http.StatusOK)
		var body struct {
			Data []domain.SecurityAlert `json:"data"`
		}
		testutil.DecodeJSON(t, resp, &body)
		require.Len(t, body.Data, 1)
		assert.Equal(t, "it-a", body.Data[0].SessionID)
	})

	t.Run("summary window", func(t *testing.T) {
		resp := env.GET("/security/archive/summary?hours=24", token)
		testutil.AssertStatus(t, resp, http.StatusOK)
		var body struct {
			Data struct {
				Counts map[string]int `json:"counts"`
			} `json:"data"`
		}
		testutil.DecodeJSON(t, resp, &body)
		assert.Equal(t, 3, body.Data.Counts[string(domain.EventBotDetection)])
		assert.Zero(t, body.Data.Counts[string(domain.EventDevToolsDetection)])
	})

	t.Run("unknown event", func(t *testing.T) {
		resp := env.GET("/security/archive/events/"+uuid.NewString(), token)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHealth_ArchiveReachable(t *testing.T) {
	env := testutil.NewTestEnv(t)
	resp := env.GET("/health", "")
	testutil.AssertStatus(t, resp, http.StatusOK)
	var body map[string]any
	testutil.DecodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body["archive"])
}

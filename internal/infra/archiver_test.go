package infra

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/repository"
)

type fakeSource struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (s *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		m := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *fakeSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type fakeEventRepo struct {
	mu       sync.Mutex
	seen     map[string]bool
	failures int
}

func (r *fakeEventRepo) Insert(_ context.Context, _ repository.DBTX, ev domain.SecurityEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return false, errors.New("connection reset")
	}
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	if r.seen[ev.ID] {
		return false, nil
	}
	r.seen[ev.ID] = true
	return true, nil
}

func (r *fakeEventRepo) FindByID(context.Context, repository.DBTX, string) (*domain.SecurityEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) List(context.Context, repository.DBTX, string, int) ([]domain.SecurityEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) CountByType(context.Context, repository.DBTX, time.Time) (map[domain.EventType]int, error) {
	return nil, nil
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	stored []domain.SecurityAlert
}

func (r *fakeAlertRepo) Upsert(_ context.Context, _ repository.DBTX, a domain.SecurityAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, a)
	return nil
}

func (r *fakeAlertRepo) ListOpen(context.Context, repository.DBTX, int) ([]domain.SecurityAlert, error) {
	return nil, nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func runArchiver(t *testing.T, a *Archiver, src *fakeSource, wantCommits int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.commits()) == wantCommits }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("archiver did not stop")
	}
}

func TestArchiver_StoresEventsAndAlerts(t *testing.T) {
	ev := domain.SecurityEvent{ID: "ev-1", SessionID: "s1", Type: domain.EventBotDetection, Severity: domain.SeverityHigh}
	al := domain.SecurityAlert{ID: "al-1", SessionID: "s1", Type: "bot_detected", Severity: domain.SeverityHigh, Count: 1}

	src := &fakeSource{pending: []kafka.Message{
		{Topic: testTopics.Events, Offset: 1, Value: mustJSON(t, ev)},
		{Topic: testTopics.Events, Offset: 2, Value: mustJSON(t, ev)},
		{Topic: testTopics.Alerts, Offset: 3, Value: mustJSON(t, al)},
		{Topic: testTopics.Events, Offset: 4, Value: []byte("{not json")},
		{Topic: "other.topic", Offset: 5, Value: mustJSON(t, ev)},
	}}
	events := &fakeEventRepo{}
	alerts := &fakeAlertRepo{}
	a := NewArchiver(src, nil, events, alerts, testTopics, discardLogger())

	runArchiver(t, a, src, 5)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, src.commits())
	assert.Equal(t, ArchiveStats{Events: 1, Duplicates: 1, Alerts: 1, Skipped: 2}, a.Stats())
	require.Len(t, alerts.stored, 1)
	assert.Equal(t, "al-1", alerts.stored[0].ID)
}

func TestArchiver_RetriesStorageFailures(t *testing.T) {
	ev := domain.SecurityEvent{ID: "ev-9", SessionID: "s9", Type: domain.EventBotDetection, Severity: domain.SeverityHigh}
	src := &fakeSource{pending: []kafka.Message{
		{Topic: testTopics.Events, Offset: 7, Value: mustJSON(t, ev)},
	}}
	events := &fakeEventRepo{failures: 2}
	a := NewArchiver(src, nil, events, &fakeAlertRepo{}, testTopics, discardLogger())
	a.retry = time.Millisecond

	runArchiver(t, a, src, 1)

	assert.Equal(t, []int64{7}, src.commits())
	assert.Equal(t, 1, a.Stats().Events)
}

func TestArchiver_SkipsEventWithoutID(t *testing.T) {
	a := NewArchiver(&fakeSource{}, nil, &fakeEventRepo{}, &fakeAlertRepo{}, testTopics, discardLogger())

	err := a.Handle(context.Background(), kafka.Message{Topic: testTopics.Events, Value: []byte(`{"sessionId":"s1"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Stats().Skipped)
}

// Package behavior collects per-session interaction signals and scores them.
package behavior

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/ring"
	"github.com/nesthaus/riskengine/internal/syncutil"
)

// StoreConfig bounds what is kept per session.
type StoreConfig struct {
	MouseCapacity       int
	KeystrokeCapacity   int
	ClickCapacity       int
	ScrollCapacity      int
	NavigationCapacity  int
	MouseSampleInterval time.Duration // moves closer than this to the previous one are dropped
}

// DefaultStoreConfig returns the production buffer sizes.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MouseCapacity:       100,
		KeystrokeCapacity:   50,
		ClickCapacity:       30,
		ScrollCapacity:      30,
		NavigationCapacity:  10,
		MouseSampleInterval: 100 * time.Millisecond,
	}
}

type session struct {
	mouse   *ring.Buffer[domain.MouseMovement]
	keys    *ring.Buffer[domain.Keystroke]
	clicks  *ring.Buffer[domain.Click]
	scrolls *ring.Buffer[domain.ScrollEvent]
	navs    *ring.Buffer[domain.NavigationEvent]
	start   time.Time
	last    atomic.Int64 // unix nanos; read without the session lock by EvictIdle
}

// touch must be called with the session lock held.
func (s *session) touch(at time.Time) {
	if n := at.UnixNano(); n > s.last.Load() {
		s.last.Store(n)
	}
}

func (s *session) lastActivity() time.Time {
	return time.Unix(0, s.last.Load()).In(s.start.Location())
}

func (s *session) idleSince(cutoff time.Time) bool {
	return s.last.Load() < cutoff.UnixNano()
}

// Store keeps bounded behavior buffers keyed by session id.
// Writes to one session are serialized by a session-keyed lock; the map itself
// is only write-locked to add or remove sessions.
type Store struct {
	cfg      StoreConfig
	mu       sync.RWMutex
	sessions map[string]*session
	locks    syncutil.ShardedMutex
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// update runs fn on the session while holding its lock, creating it at `at` if needed.
func (s *Store) update(id string, at time.Time, fn func(*session)) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		sess = &session{
			mouse:   ring.New[domain.MouseMovement](s.cfg.MouseCapacity),
			keys:    ring.New[domain.Keystroke](s.cfg.KeystrokeCapacity),
			clicks:  ring.New[domain.Click](s.cfg.ClickCapacity),
			scrolls: ring.New[domain.ScrollEvent](s.cfg.ScrollCapacity),
			navs:    ring.New[domain.NavigationEvent](s.cfg.NavigationCapacity),
			start:   at,
		}
		sess.last.Store(at.UnixNano())
		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()
	}

	fn(sess)
	sess.touch(at)
}

// AppendMouse records a move unless it falls inside the sample interval.
func (s *Store) AppendMouse(id string, m domain.MouseMovement) {
	s.update(id, m.T, func(sess *session) {
		if prev, ok := sess.mouse.Last(); ok && m.T.Sub(prev.T) < s.cfg.MouseSampleInterval {
			return
		}
		sess.mouse.Push(m)
	})
}

func (s *Store) AppendKeystroke(id string, k domain.Keystroke) {
	s.update(id, k.T, func(sess *session) { sess.keys.Push(k) })
}

func (s *Store) AppendClick(id string, c domain.Click) {
	s.update(id, c.T, func(sess *session) { sess.clicks.Push(c) })
}

func (s *Store) AppendScroll(id string, e domain.ScrollEvent) {
	s.update(id, e.T, func(sess *session) { sess.scrolls.Push(e) })
}

func (s *Store) AppendNavigation(id string, n domain.NavigationEvent) {
	s.update(id, n.T, func(sess *session) { sess.navs.Push(n) })
}

// Snapshot copies a session's buffers.
func (s *Store) Snapshot(id string) (domain.BehaviorPattern, bool) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.BehaviorPattern{}, false
	}

	return domain.BehaviorPattern{
		SessionID:      id,
		MouseMovements: sess.mouse.Slice(),
		Keystrokes:     sess.keys.Slice(),
		Clicks:         sess.clicks.Slice(),
		ScrollEvents:   sess.scrolls.Slice(),
		Navigations:    sess.navs.Slice(),
		SessionStart:   sess.start,
		LastActivity:   sess.lastActivity(),
	}, true
}

// EndSession discards a session's buffers.
func (s *Store) EndSession(id string) bool {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// EvictIdle removes sessions whose last activity is older than ttl and returns their ids.
func (s *Store) EvictIdle(now time.Time, ttl time.Duration) []string {
	cutoff := now.Add(-ttl)

	s.mu.RLock()
	var candidates []string
	for id, sess := range s.sessions {
		if sess.idleSince(cutoff) {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	var evicted []string
	for _, id := range candidates {
		unlock := s.locks.Lock(id)
		s.mu.Lock()
		// Re-check: the session may have seen activity since the scan.
		if sess, ok := s.sessions[id]; ok && sess.idleSince(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
		s.mu.Unlock()
		unlock()
	}
	return evicted
}

// SessionIDs lists the live sessions.
func (s *Store) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether the session has buffered activity.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

package guard

import (
	"context"
	"sync"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

const (
	MaxAttempts   = 5
	LockoutWindow = 15 * time.Minute
)

// Lockout counts failed authentication attempts per key and locks the key
// once MaxAttempts failures fall inside LockoutWindow.
type Lockout struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	max      int
	window   time.Duration
	now      func() time.Time
}

// NewLockout creates a lockout with the default limits.
func NewLockout(opts ...Option) *Lockout {
	o := buildOptions(opts)
	return &Lockout{
		failures: make(map[string][]time.Time),
		max:      MaxAttempts,
		window:   LockoutWindow,
		now:      o.now,
	}
}

// RecordFailure notes a failed attempt and reports whether this failure
// locked the key.
func (l *Lockout) RecordFailure(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ts := append(pruneBefore(l.failures[key], now.Add(-l.window)), now)
	l.failures[key] = ts
	return len(ts) == l.max
}

// RecordSuccess clears the failure history of key.
func (l *Lockout) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
}

// Check rejects a key with too many recent failures.
func (l *Lockout) Check(_ context.Context, key string) domain.GuardResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := pruneBefore(l.failures[key], l.now().Add(-l.window))
	if len(ts) == 0 {
		delete(l.failures, key)
		return domain.GuardResult{Allowed: true}
	}
	l.failures[key] = ts
	if len(ts) >= l.max {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "too many failed authentication attempts, try again later",
			Guard:   "lockout",
		}
	}
	return domain.GuardResult{Allowed: true}
}

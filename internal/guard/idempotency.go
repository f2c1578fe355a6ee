package guard

import (
	"context"
	"sync"
	"time"

	"github.com/nesthaus/riskengine/internal/domain"
)

// IdempotencyGuard deduplicates requests by idempotency key. Keys are
// remembered for the configured TTL.
type IdempotencyGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewIdempotencyGuard creates a new in-memory idempotency guard.
func NewIdempotencyGuard(ttl time.Duration, opts ...Option) *IdempotencyGuard {
	o := buildOptions(opts)
	return &IdempotencyGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  o.now,
	}
}

// Check returns whether the given key has already been processed.
func (ig *IdempotencyGuard) Check(_ context.Context, key string) domain.GuardResult {
	if key == "" {
		return domain.GuardResult{Allowed: true}
	}

	ig.mu.Lock()
	defer ig.mu.Unlock()

	now := ig.now()
	if at, ok := ig.seen[key]; ok && now.Sub(at) < ig.ttl {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "duplicate request: idempotency key already processed",
			Guard:   "idempotency",
		}
	}

	ig.seen[key] = now
	return domain.GuardResult{Allowed: true}
}

// Remove deletes a key from the seen set (for retry scenarios).
func (ig *IdempotencyGuard) Remove(key string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	delete(ig.seen, key)
}

// Sweep drops expired keys.
func (ig *IdempotencyGuard) Sweep() int {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	now := ig.now()
	dropped := 0
	for key, at := range ig.seen {
		if now.Sub(at) >= ig.ttl {
			delete(ig.seen, key)
			dropped++
		}
	}
	return dropped
}

package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := rl.Check(ctx, "203.0.113.5")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	ctx := context.Background()

	rl.Check(ctx, "203.0.113.5")
	rl.Check(ctx, "203.0.113.5")
	result := rl.Check(ctx, "203.0.113.5")

	assert.False(t, result.Allowed)
	assert.Equal(t, "rate_limiter", result.Guard)
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	r1 := rl.Check(ctx, "203.0.113.5")
	r2 := rl.Check(ctx, "203.0.113.6")

	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	require.True(t, rl.Check(ctx, "ip").Allowed)
	clock.Advance(30 * time.Second)
	require.True(t, rl.Check(ctx, "ip").Allowed)
	assert.False(t, rl.Check(ctx, "ip").Allowed)

	clock.Advance(31 * time.Second)
	assert.True(t, rl.Check(ctx, "ip").Allowed, "first request left the window")
	assert.False(t, rl.Check(ctx, "ip").Allowed)
}

func TestRateLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(5, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	rl.Check(ctx, "a")
	clock.Advance(45 * time.Second)
	rl.Check(ctx, "b")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())
}

func TestLockout_LocksAfterMaxFailures(t *testing.T) {
	clock := newFakeClock()
	l := NewLockout(WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i < MaxAttempts; i++ {
		assert.False(t, l.RecordFailure("ip"), "failure %d", i)
		assert.True(t, l.Check(ctx, "ip").Allowed)
	}
	assert.True(t, l.RecordFailure("ip"))

	result := l.Check(ctx, "ip")
	assert.False(t, result.Allowed)
	assert.Equal(t, "lockout", result.Guard)
	assert.True(t, l.Check(ctx, "other").Allowed)

	clock.Advance(LockoutWindow + time.Second)
	assert.True(t, l.Check(ctx, "ip").Allowed)
}

func TestLockout_SuccessClears(t *testing.T) {
	l := NewLockout()
	for i := 0; i < MaxAttempts-1; i++ {
		l.RecordFailure("ip")
	}
	l.RecordSuccess("ip")
	assert.False(t, l.RecordFailure("ip"))
	assert.True(t, l.Check(context.Background(), "ip").Allowed)
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)

	result := cb.Check(context.Background(), "security.events")
	assert.True(t, result.Allowed)
	assert.Equal(t, CircuitClosed, cb.State("security.events"))
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.Check(ctx, "security.events")
	cb.RecordFailure("security.events")
	cb.RecordFailure("security.events")

	result := cb.Check(ctx, "security.events")
	assert.False(t, result.Allowed)
	assert.Equal(t, "circuit_breaker", result.Guard)
	assert.Equal(t, CircuitOpen, cb.State("security.events"))
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.Check(ctx, "security.events")
	cb.RecordFailure("security.events")
	cb.RecordSuccess("security.events")
	cb.RecordFailure("security.events")

	assert.True(t, cb.Check(ctx, "security.events").Allowed)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(1, 5*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	cb.RecordFailure("topic")
	require.False(t, cb.Check(ctx, "topic").Allowed)

	clock.Advance(6 * time.Second)
	require.True(t, cb.Check(ctx, "topic").Allowed, "first probe")
	assert.Equal(t, CircuitHalfOpen, cb.State("topic"))
	assert.False(t, cb.Check(ctx, "topic").Allowed, "second probe while first is pending")

	cb.RecordFailure("topic")
	assert.Equal(t, CircuitOpen, cb.State("topic"))
	assert.False(t, cb.Check(ctx, "topic").Allowed)

	clock.Advance(6 * time.Second)
	require.True(t, cb.Check(ctx, "topic").Allowed)
	cb.RecordSuccess("topic")
	assert.Equal(t, CircuitClosed, cb.State("topic"))
	assert.True(t, cb.Check(ctx, "topic").Allowed)
}

func TestIdempotencyGuard_AllowsFirst(t *testing.T) {
	ig := NewIdempotencyGuard(time.Hour)

	result := ig.Check(context.Background(), "req-123")
	assert.True(t, result.Allowed)
}

func TestIdempotencyGuard_BlocksDuplicate(t *testing.T) {
	ig := NewIdempotencyGuard(time.Hour)
	ctx := context.Background()

	ig.Check(ctx, "req-123")
	result := ig.Check(ctx, "req-123")

	assert.False(t, result.Allowed)
	assert.Equal(t, "idempotency", result.Guard)
}

func TestIdempotencyGuard_EmptyKeyAllowed(t *testing.T) {
	ig := NewIdempotencyGuard(time.Hour)
	ctx := context.Background()

	assert.True(t, ig.Check(ctx, "").Allowed)
	assert.True(t, ig.Check(ctx, "").Allowed)
}

func TestIdempotencyGuard_RemoveAllowsRetry(t *testing.T) {
	ig := NewIdempotencyGuard(time.Hour)
	ctx := context.Background()

	ig.Check(ctx, "req-456")
	ig.Remove("req-456")

	require.True(t, ig.Check(ctx, "req-456").Allowed)
}

func TestIdempotencyGuard_Expires(t *testing.T) {
	clock := newFakeClock()
	ig := NewIdempotencyGuard(time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	ig.Check(ctx, "req-1")
	clock.Advance(30 * time.Minute)
	ig.Check(ctx, "req-2")
	clock.Advance(31 * time.Minute)

	assert.Equal(t, 1, ig.Sweep())
	assert.True(t, ig.Check(ctx, "req-1").Allowed)
	assert.False(t, ig.Check(ctx, "req-2").Allowed)
}

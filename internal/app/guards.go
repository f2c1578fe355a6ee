package app

import (
	"net/http"
	"time"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/guard"
	"github.com/nesthaus/riskengine/internal/handler"
)

// Budgets for the analyst API, per caller.
const (
	securityWindow     = 15 * time.Minute
	securityReadLimit  = 100
	securityWriteLimit = 50
	securityPutLimit   = 10
	reportKeyTTL       = 24 * time.Hour
)

// Guards are the in-process admission controls shared by the routes.
type Guards struct {
	Collector     *guard.RateLimiter
	SecurityRead  *guard.RateLimiter
	SecurityWrite *guard.RateLimiter
	SecurityPut   *guard.RateLimiter
	Lockout       *guard.Lockout
	Reports       *guard.IdempotencyGuard
	Notices       *guard.IdempotencyGuard
}

// NewGuards builds the guards. The collector limit applies per client IP.
func NewGuards(collectorLimit int, collectorWindow time.Duration, opts ...guard.Option) *Guards {
	return &Guards{
		Collector:     guard.NewRateLimiter(collectorLimit, collectorWindow, opts...),
		SecurityRead:  guard.NewRateLimiter(securityReadLimit, securityWindow, opts...),
		SecurityWrite: guard.NewRateLimiter(securityWriteLimit, securityWindow, opts...),
		SecurityPut:   guard.NewRateLimiter(securityPutLimit, securityWindow, opts...),
		Lockout:       guard.NewLockout(opts...),
		Reports:       guard.NewIdempotencyGuard(reportKeyTTL, opts...),
		Notices:       guard.NewIdempotencyGuard(collectorWindow, opts...),
	}
}

// Sweep drops expired state from every guard and returns how many entries
// were removed.
func (g *Guards) Sweep() int {
	return g.Collector.Sweep() +
		g.SecurityRead.Sweep() +
		g.SecurityWrite.Sweep() +
		g.SecurityPut.Sweep() +
		g.Reports.Sweep() +
		g.Notices.Sweep()
}

func (g *Guards) securityLimits() map[string]*guard.RateLimiter {
	return map[string]*guard.RateLimiter{
		http.MethodGet:  g.SecurityRead,
		http.MethodPost: g.SecurityWrite,
		http.MethodPut:  g.SecurityPut,
	}
}

func callerKey(r *http.Request) string {
	if sub := auth.SubjectFromContext(r.Context()); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + handler.ClientIP(r)
}

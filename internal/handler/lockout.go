package handler

import (
	"log/slog"
	"net/http"

	"github.com/nesthaus/riskengine/internal/auth"
	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/guard"
)

// EventLogger records security events.
type EventLogger interface {
	LogSecurityEvent(sessionID string, eventType domain.EventType, severity domain.Severity, description string, metadata map[string]any) (domain.SecurityEvent, error)
}

// AuthLockout locks out client IPs that keep failing authentication on the
// analyst API. Reaching the limit records a brute_force_attempt event.
type AuthLockout struct {
	lockout *guard.Lockout
	events  EventLogger
	logger  *slog.Logger
}

// NewAuthLockout creates an AuthLockout.
func NewAuthLockout(lockout *guard.Lockout, events EventLogger, logger *slog.Logger) *AuthLockout {
	return &AuthLockout{lockout: lockout, events: events, logger: logger}
}

// Hooks feeds authentication outcomes into the lockout.
func (a *AuthLockout) Hooks() auth.Hooks {
	return auth.Hooks{
		OnFailure: a.onFailure,
		OnSuccess: func(r *http.Request, _ *auth.Claims) {
			a.lockout.RecordSuccess(ClientIP(r))
		},
	}
}

func (a *AuthLockout) onFailure(r *http.Request, err error) {
	ip := ClientIP(r)
	if !a.lockout.RecordFailure(ip) {
		return
	}
	a.logger.Warn("client locked out", "ip", ip, "error", err)
	_, logErr := a.events.LogSecurityEvent("ip:"+ip, domain.EventBruteForceAttempt, domain.SeverityHigh,
		"Repeated authentication failures on the security API", map[string]any{
			"ipAddress":   ip,
			"path":        r.URL.Path,
			"userAgent":   r.UserAgent(),
			"maxAttempts": guard.MaxAttempts,
			"lastError":   err.Error(),
		})
	if logErr != nil {
		a.logger.Warn("brute force event not recorded", "ip", ip, "error", logErr)
	}
}

// Middleware rejects locked out clients before their token is checked.
func (a *AuthLockout) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if res := a.lockout.Check(r.Context(), ClientIP(r)); !res.Allowed {
			RespondError(w, domain.ErrRateLimited(res.Reason))
			return
		}
		next.ServeHTTP(w, r)
	})
}

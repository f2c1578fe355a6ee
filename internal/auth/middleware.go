package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const (
	claimsKey  contextKey = "auth_claims"
	subjectKey contextKey = "auth_subject"
)

var (
	errMissingToken = errors.New("missing Authorization header")
	errTokenFormat  = errors.New("invalid Authorization format")
)

// ClaimsFromContext extracts JWT claims from request context.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// SubjectFromContext extracts the subject string from request context.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}

// WithClaims stores claims in ctx the way Authenticate does.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, subjectKey, claims.Subject)
}

// Hooks observe authentication outcomes, for example to drive a lockout.
// OnFailure is not called for requests that carry no credentials at all.
type Hooks struct {
	OnFailure func(r *http.Request, err error)
	OnSuccess func(r *http.Request, claims *Claims)
}

// Authenticate returns middleware that validates bearer tokens from the
// accepted realms. When queryParam is set, a token in that query parameter is
// accepted as well (browsers cannot set headers on WebSocket upgrades).
func Authenticate(jwtMgr *JWTManager, hooks Hooks, queryParam string, realms ...Realm) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractToken(r, queryParam)
			if err == nil {
				var claims *Claims
				claims, err = jwtMgr.ValidateTokenForRealms(token, realms...)
				if err == nil {
					if hooks.OnSuccess != nil {
						hooks.OnSuccess(r, claims)
					}
					next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
					return
				}
			}
			if hooks.OnFailure != nil && !errors.Is(err, errMissingToken) {
				hooks.OnFailure(r, err)
			}
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		})
	}
}

// RequireRole returns middleware that checks the caller's role.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no auth context")
				return
			}
			if !roleSet[claims.Role] {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request, queryParam string) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if queryParam != "" {
			if t := r.URL.Query().Get(queryParam); t != "" {
				return t, nil
			}
		}
		return "", errMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errTokenFormat
	}
	return parts[1], nil
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"code":    code,
		"message": msg,
	})
}

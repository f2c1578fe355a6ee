package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	RealmAnalyst Realm = "analyst"
	RealmService Realm = "service"
)

// Claims holds the custom JWT claims for both realms.
type Claims struct {
	jwt.RegisteredClaims
	Realm Realm  `json:"realm"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// JWTManager handles token generation and validation.
type JWTManager struct {
	secret        []byte
	analystExpiry time.Duration
	serviceExpiry time.Duration
	now           func() time.Time
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, analystExpiry, serviceExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		analystExpiry: analystExpiry,
		serviceExpiry: serviceExpiry,
		now:           time.Now,
	}
}

// GenerateToken creates a signed JWT for the given realm and subject.
// Service tokens always carry RoleService.
func (m *JWTManager) GenerateToken(realm Realm, subject, email, role string) (string, error) {
	var expiry time.Duration
	switch realm {
	case RealmAnalyst:
		if !ValidAnalystRole(role) {
			return "", fmt.Errorf("unknown analyst role: %q", role)
		}
		expiry = m.analystExpiry
	case RealmService:
		role = RoleService
		expiry = m.serviceExpiry
	default:
		return "", fmt.Errorf("unknown realm: %s", realm)
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm: realm,
		Email: email,
		Role:  role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ValidateTokenForRealms validates a token and ensures it belongs to one of
// the accepted realms.
func (m *JWTManager) ValidateTokenForRealms(tokenString string, realms ...Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	for _, r := range realms {
		if claims.Realm == r {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("realm %s not accepted", claims.Realm)
}

package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role tags the authorization level of a caller into the identity store
type Role string

const (
	RoleAdmin            Role = "ADMIN"
	RoleSupport          Role = "SUPPORT"
	RoleServiceLookup    Role = "SERVICE_LOOKUP"
	RoleInternalConsumer Role = "INTERNAL_CONSUMER"
	RoleOwner            Role = "OWNER"
)

// Valid reports whether the role is one of the recognized tags
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupport, RoleServiceLookup, RoleInternalConsumer, RoleOwner:
		return true
	}
	return false
}

// CanReadPlaintextPII reports whether the role sees unredacted projections
func (r Role) CanReadPlaintextPII() bool {
	return r == RoleAdmin || r == RoleOwner
}

// Claims is the service token claim set. ActorID identifies the calling
// service or operator and ends up on every audit row.
type Claims struct {
	ActorID string `json:"actor_id"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies internal service tokens
type Service struct {
	secret string
	expiry time.Duration
	issuer string
}

// NewService creates a new token service
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{
		secret: secret,
		expiry: expiry,
		issuer: "treasuretrails-payments",
	}
}

// Issue mints a service token for the given actor and role
func (s *Service) Issue(actorID string, role Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("unknown role: %s", role)
	}
	now := time.Now()
	claims := Claims{
		ActorID: actorID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   actorID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	return tokenString, nil
}

// Verify validates and parses a service token
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if !claims.Role.Valid() {
		return nil, fmt.Errorf("unknown role in token: %s", claims.Role)
	}

	return claims, nil
}

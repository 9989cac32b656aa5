package secrets

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Service-key roles understood by the platform API gateway.
const (
	RoleAnon        = "anon"
	RoleServiceRole = "service_role"
)

// ServiceKeyClaims is the payload of a project API key.
type ServiceKeyClaims struct {
	Role string `json:"role"`
	Ref  string `json:"ref,omitempty"`
	jwtlib.RegisteredClaims
}

// MintServiceKey issues a long-lived HS256 project API key for the given
// role, signed with the project's JWT secret. The gateway and the project's
// own services validate these tokens offline, so the expiry is deliberately
// far out.
func MintServiceKey(role, projectRef, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ServiceKeyClaims{
		Role: role,
		Ref:  projectRef,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "selfbase",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseServiceKey validates a project API key and extracts its claims.
func ParseServiceKey(token, secret string) (*ServiceKeyClaims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &ServiceKeyClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*ServiceKeyClaims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what a validated bearer token asserts about the caller. The
// proxy forwards these fields as X-User-* headers for downstream services to
// trust.
type Identity struct {
	UserID         string
	Email          string
	Role           string
	OrganizationID string
}

// TokenValidator validates HS256 bearer tokens signed with the platform's
// shared secret.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator builds a validator for the given signing secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate parses and verifies a token string and extracts the identity
// claims. Any parse, signature, or expiry failure is returned as an error;
// a token without a user_id claim is rejected too.
func (v *TokenValidator) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	id := &Identity{
		UserID:         claimStr(claims, "user_id"),
		Email:          claimStr(claims, "email"),
		Role:           claimStr(claims, "role"),
		OrganizationID: claimStr(claims, "organization_id"),
	}
	if id.UserID == "" {
		return nil, fmt.Errorf("token missing user_id claim")
	}
	return id, nil
}

func claimStr(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// SignIdentity mints a token for an identity. The gateway itself never
// issues tokens in production (the auth service does); this exists for local
// tooling and tests.
func SignIdentity(secret string, id Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":         id.UserID,
		"email":           id.Email,
		"role":            id.Role,
		"organization_id": id.OrganizationID,
		"exp":             time.Now().Add(ttl).Unix(),
		"iat":             time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

package utils

import (
	"errors" // Error values
	"time"   // Time for token expiration

	"github.com/golang-jwt/jwt/v5" // JWT library
)

// JWT Claims
type Claims struct {
	Email                string   `json:"email,omitempty"` // Contact email
	Phone                string   `json:"phone,omitempty"` // Contact phone
	Name                 string   `json:"name"`            // Display name
	Roles                []string `json:"roles"`           // Account-level roles, budget roles live in the store
	jwt.RegisteredClaims          // Standard JWT claims, Subject carries the user ID
}

// TokenSubject is the identity data embedded in a token
type TokenSubject struct {
	UserID string
	Email  string
	Phone  string
	Name   string
}

// GenerateJWT creates a signed token for the given subject
func GenerateJWT(sub TokenSubject, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour // Token expires in 24 hours by default
	}
	now := time.Now()
	// Set token claims
	claims := Claims{
		Email: sub.Email,
		Phone: sub.Phone,
		Name:  sub.Name,
		Roles: []string{"user"},
		// Standard claims
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)), // Expiry enforced on parse
			IssuedAt:  jwt.NewNumericDate(now),          // Issued at current time
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims) // Create token with claims
	return token.SignedString([]byte(secret))                  // Sign the token with the secret
}

// ParseJWT parses and validates a JWT token string
func ParseJWT(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil // Return the secret key for validation
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	// Check for parsing errors
	if err != nil {
		return nil, err // Return error if parsing fails
	}
	// Validate token and extract claims
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

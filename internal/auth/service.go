// Package auth validates bearer tokens and carries the authenticated user
// through request contexts. Token issuance and account flows live in a
// separate identity service; the feed engine only needs "who is asking".
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coyapp/coy-server/internal/config"
)

// ErrAuthenticationRequired aborts an aggregation that has no user context
var ErrAuthenticationRequired = errors.New("authentication required")

// Service validates access tokens
type Service struct {
	secret   []byte
	issuer   string
	audience string
}

// NewService creates a token validator from auth configuration
func NewService(cfg config.AuthConfig) *Service {
	return &Service{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
	}
}

// ValidateAccessToken verifies an access token and returns the user ID
func (s *Service) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token missing subject")
	}

	return sub, nil
}

package services

import (
	"fmt"
	"net/http"
	"time"

	apperrors "peerlink/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated identity of an API or signaling client.
type Claims struct {
	PeerID string `json:"peer_id,omitempty"`
	jwt.RegisteredClaims
}

// AuthService issues and validates the bearer tokens protecting the control
// surfaces.
type AuthService struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthService(secret string, ttl time.Duration) *AuthService {
	return &AuthService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// IssueToken creates a signed token for a client.
func (a *AuthService) IssueToken(subject, peerID string) (string, error) {
	now := time.Now()
	claims := Claims{
		PeerID: peerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token.
func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "invalid token", http.StatusUnauthorized)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.NewUnauthorizedError("invalid token claims")
	}
	return claims, nil
}

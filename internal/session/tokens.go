package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errEmptyToken = errors.New("session.token.empty")

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// AccessTokenInfo holds registered claims read from an access credential.
type AccessTokenInfo struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim is at or before now. Tokens without
// an exp claim never expire by this check.
func (info AccessTokenInfo) Expired(now time.Time) bool {
	if info.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(info.ExpiresAt)
}

// InspectAccessToken decodes a JWT access credential without verifying its signature.
// It is informational only; the server stays the authority on validity.
func InspectAccessToken(token string) (AccessTokenInfo, error) {
	if strings.TrimSpace(token) == "" {
		return AccessTokenInfo{}, fmt.Errorf("session.token.inspect: %w", errEmptyToken)
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return AccessTokenInfo{}, fmt.Errorf("session.token.inspect: %w", err)
	}
	info := AccessTokenInfo{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return info, nil
}

package devapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errInvalidAccessToken = errors.New("devapi.access_token.invalid")

// AccessClaims are embedded in every access token.
type AccessClaims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// MintAccessToken creates a signed HS256 access token for user.
func MintAccessToken(user User, issuer string, signingKey []byte, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}

// ParseAccessToken verifies signature, issuer, and expiry against clock.
func ParseAccessToken(raw string, issuer string, signingKey []byte, clock Clock) (*AccessClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errInvalidAccessToken
	}
	parsedToken, parseErr := jwt.ParseWithClaims(raw, &AccessClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	)
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, errors.Join(errInvalidAccessToken, parseErr)
	}
	claims, ok := parsedToken.Claims.(*AccessClaims)
	if !ok || claims.UserID == 0 {
		return nil, errInvalidAccessToken
	}
	return claims, nil
}

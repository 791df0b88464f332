package devapi

import (
	"errors"
	"strings"
	"time"
)

const (
	defaultIssuer     = "todoctl-devapi"
	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
)

var (
	errMissingSigningKey = errors.New("devapi.config.missing_signing_key")
	errInvalidAccessTTL  = errors.New("devapi.config.invalid_access_ttl")
	errInvalidRefreshTTL = errors.New("devapi.config.invalid_refresh_ttl")
)

// Config configures token issuance for the development API.
type Config struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefresh issues a new refresh token on every refresh and revokes the old one.
	RotateRefresh      bool
	EnableCORS         bool
	CORSAllowedOrigins []string
}

func (configuration Config) withDefaults() (Config, error) {
	if len(configuration.SigningKey) == 0 {
		return Config{}, errMissingSigningKey
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = defaultIssuer
	}
	if configuration.AccessTTL == 0 {
		configuration.AccessTTL = defaultAccessTTL
	}
	if configuration.AccessTTL < 0 {
		return Config{}, errInvalidAccessTTL
	}
	if configuration.RefreshTTL == 0 {
		configuration.RefreshTTL = defaultRefreshTTL
	}
	if configuration.RefreshTTL < 0 {
		return Config{}, errInvalidRefreshTTL
	}
	return configuration, nil
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

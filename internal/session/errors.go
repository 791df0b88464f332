package session

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxErrorDetailBytes = 256

var (
	// ErrAuthInvalid indicates the login endpoint rejected the supplied username and password.
	ErrAuthInvalid = errors.New("session.auth_invalid")
	// ErrRefreshInvalid indicates the refresh credential was absent, rejected, or could not be exchanged.
	ErrRefreshInvalid = errors.New("session.refresh_invalid")
	// ErrMissingRefreshCredential is returned when an authorization failure cannot be healed
	// because no refresh credential is stored.
	ErrMissingRefreshCredential = fmt.Errorf("session.missing_refresh_credential: %w", ErrRefreshInvalid)
	errRefreshSuperseded        = fmt.Errorf("session.refresh.superseded: %w", ErrRefreshInvalid)
	// ErrEmptyAccessToken is returned by stores asked to persist a pair without an access credential.
	ErrEmptyAccessToken = errors.New("session.store.empty_access_token")

	errMissingBaseURL = errors.New("session.config.missing_base_url")
	errInvalidBaseURL = errors.New("session.config.invalid_base_url")
	errMissingStore   = errors.New("session.config.missing_store")
	errMissingRefresh = errors.New("session.config.missing_refresher")
)

// AuthError describes a rejected login attempt. It unwraps to ErrAuthInvalid.
type AuthError struct {
	StatusCode int
	Detail     string
}

func (authError *AuthError) Error() string {
	if authError.Detail == "" {
		return fmt.Sprintf("session.login.status_%d: %s", authError.StatusCode, ErrAuthInvalid.Error())
	}
	return fmt.Sprintf("session.login.status_%d: %s: %s", authError.StatusCode, ErrAuthInvalid.Error(), authError.Detail)
}

func (authError *AuthError) Unwrap() error {
	return ErrAuthInvalid
}

// RequestError is a non-2xx response to a business request. It is surfaced unchanged
// after at most one authorization-driven replay.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (requestError *RequestError) Error() string {
	message := fmt.Sprintf("session.request: %s %s: status %d", requestError.Method, requestError.URL, requestError.StatusCode)
	if detail := strings.TrimSpace(string(requestError.Body)); detail != "" {
		detail = truncateUTF8(detail, maxErrorDetailBytes)
		message += ": " + detail
	}
	return message
}

// IsUnauthorized reports whether the final response was an authorization failure.
func (requestError *RequestError) IsUnauthorized() bool {
	return requestError.StatusCode == 401
}

// truncateUTF8 cuts value to at most limit bytes without splitting a rune.
func truncateUTF8(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

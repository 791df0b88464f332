package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Endpoint paths relative to the API base URL.
const (
	loginPath        = "token/"
	refreshPath      = "token/refresh/"
	currentUserPath  = "users/me/"
	registrationPath = "users/register/"
)

// TokenPair is the credential-issuing endpoint's payload. Refresh is empty when the
// server does not rotate refresh credentials.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// CredentialRefresher exchanges a refresh credential for a new access credential.
// Implementations must not touch stored credentials.
type CredentialRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// HTTPRefresher posts {"refresh": ...} to the token/refresh/ endpoint.
type HTTPRefresher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRefresher builds a refresher against baseURL. The client must not be the
// pipeline client, otherwise a rejected refresh would recurse into the pipeline.
func NewHTTPRefresher(baseURL *url.URL, client *http.Client) *HTTPRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRefresher{
		endpoint: resolveEndpoint(baseURL, refreshPath),
		client:   client,
	}
}

// Refresh succeeds only on a 2xx response carrying a non-empty access value; every
// other outcome, including transport failures, wraps ErrRefreshInvalid.
func (refresher *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, ErrMissingRefreshCredential
	}
	request, err := newJSONRequest(ctx, http.MethodPost, refresher.endpoint, map[string]string{"refresh": refreshToken})
	if err != nil {
		return TokenPair{}, fmt.Errorf("session.refresh.request: %w: %w", ErrRefreshInvalid, err)
	}
	response, err := sendJSON(refresher.client, request)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session.refresh.transport: %w: %w", ErrRefreshInvalid, err)
	}
	if !response.successful() {
		return TokenPair{}, fmt.Errorf("session.refresh.status_%d: %w", response.statusCode, ErrRefreshInvalid)
	}
	var pair TokenPair
	if decodeErr := response.decode(&pair); decodeErr != nil {
		return TokenPair{}, fmt.Errorf("session.refresh.decode: %w: %w", ErrRefreshInvalid, decodeErr)
	}
	if strings.TrimSpace(pair.Access) == "" {
		return TokenPair{}, fmt.Errorf("session.refresh.empty_access: %w", ErrRefreshInvalid)
	}
	return pair, nil
}

func resolveEndpoint(baseURL *url.URL, path string) string {
	reference, err := url.Parse(path)
	if err != nil {
		return baseURL.String() + path
	}
	return baseURL.ResolveReference(reference).String()
}

func normalizeBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", errInvalidBaseURL, trimmed)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}

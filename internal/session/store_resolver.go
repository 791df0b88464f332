package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// OpenCredentialStore selects a CredentialStore from a URL:
// memory://, sqlite://path, postgres://..., redis://... .
// The returned label names the backend for logging.
func OpenCredentialStore(ctx context.Context, storeURL string) (CredentialStore, string, error) {
	trimmed := strings.TrimSpace(storeURL)
	if trimmed == "" {
		return nil, "", fmt.Errorf("credential_store.open: %w", errEmptyDatabaseURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, "", fmt.Errorf("credential_store.parse_url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory":
		return NewMemoryCredentialStore(), "memory", nil
	case "redis", "rediss":
		store, redisErr := NewRedisCredentialStore(ctx, trimmed, "")
		if redisErr != nil {
			return nil, "", redisErr
		}
		return store, "redis", nil
	default:
		store, databaseErr := NewDatabaseCredentialStore(ctx, trimmed)
		if databaseErr != nil {
			return nil, "", databaseErr
		}
		return store, store.Driver(), nil
	}
}

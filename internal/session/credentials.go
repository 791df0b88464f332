package session

import (
	"context"
	"strings"
	"sync"
)

// Well-known keys under which the credential pair is persisted.
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
)

// Credentials is the stored access/refresh pair.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// HasAccess reports whether an access credential is present.
func (credentials Credentials) HasAccess() bool {
	return strings.TrimSpace(credentials.AccessToken) != ""
}

// HasRefresh reports whether a refresh credential is present.
func (credentials Credentials) HasRefresh() bool {
	return strings.TrimSpace(credentials.RefreshToken) != ""
}

// CredentialStore persists the credential pair. Save writes both fields together or
// not at all; Clear removes both and is idempotent.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, credentials Credentials) error
	Clear(ctx context.Context) error
}

// MemoryCredentialStore keeps credentials in process memory. Intended for tests and
// short-lived processes.
type MemoryCredentialStore struct {
	mutex   sync.Mutex
	entries map[string]string
}

// NewMemoryCredentialStore constructs an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{entries: make(map[string]string)}
}

// Load returns the stored pair; missing entries come back empty.
func (store *MemoryCredentialStore) Load(ctx context.Context) (Credentials, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return Credentials{
		AccessToken:  store.entries[AccessTokenKey],
		RefreshToken: store.entries[RefreshTokenKey],
	}, nil
}

// Save replaces both entries under a single lock.
func (store *MemoryCredentialStore) Save(ctx context.Context, credentials Credentials) error {
	if !credentials.HasAccess() {
		return ErrEmptyAccessToken
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries[AccessTokenKey] = credentials.AccessToken
	if credentials.HasRefresh() {
		store.entries[RefreshTokenKey] = credentials.RefreshToken
	} else {
		delete(store.entries, RefreshTokenKey)
	}
	return nil
}

// Clear removes both entries.
func (store *MemoryCredentialStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, AccessTokenKey)
	delete(store.entries, RefreshTokenKey)
	return nil
}

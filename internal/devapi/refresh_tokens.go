package devapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const refreshOpaqueByteLength = 32

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)

// refreshTokenRandomSource is swapped in tests to force entropy failures.
var refreshTokenRandomSource = rand.Read

// RefreshTokenStore manages long-lived opaque refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, userID int, expiresAt time.Time, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (userID int, tokenID string, err error)
	Revoke(ctx context.Context, tokenID string) error
}

// MemoryRefreshTokenStore keeps hashed refresh tokens in memory.
type MemoryRefreshTokenStore struct {
	mutex  sync.Mutex
	clock  Clock
	byID   map[string]*refreshRecord
	byHash map[string]string
}

type refreshRecord struct {
	tokenID         string
	userID          int
	hash            string
	expiresAt       time.Time
	revokedAt       time.Time
	previousTokenID string
}

// NewMemoryRefreshTokenStore creates an empty store. A nil clock uses the system clock.
func NewMemoryRefreshTokenStore(clock Clock) *MemoryRefreshTokenStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryRefreshTokenStore{
		clock:  clock,
		byID:   make(map[string]*refreshRecord),
		byHash: make(map[string]string),
	}
}

// Issue creates a new token, optionally linked to the token it replaces.
func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, userID int, expiresAt time.Time, previousTokenID string) (string, string, error) {
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID := uuid.NewString()
	store.byID[tokenID] = &refreshRecord{
		tokenID:         tokenID,
		userID:          userID,
		hash:            hashValue,
		expiresAt:       expiresAt,
		previousTokenID: previousTokenID,
	}
	store.byHash[hashValue] = tokenID
	return tokenID, opaque, nil
}

// Validate resolves an opaque token to its owner and token id.
func (store *MemoryRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (int, string, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return 0, "", ErrRefreshTokenEmptyOpaque
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[hashOpaque(tokenOpaque)]
	if !ok {
		return 0, "", ErrRefreshTokenNotFound
	}
	record := store.byID[tokenID]
	if record == nil {
		return 0, "", ErrRefreshTokenNotFound
	}
	if !record.revokedAt.IsZero() {
		return 0, "", ErrRefreshTokenRevoked
	}
	if !store.clock.Now().Before(record.expiresAt) {
		return 0, "", ErrRefreshTokenExpired
	}
	return record.userID, record.tokenID, nil
}

// Revoke marks a token as revoked. Revoking twice is not an error.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return ErrRefreshTokenNotFound
	}
	if record.revokedAt.IsZero() {
		record.revokedAt = store.clock.Now()
	}
	return nil
}

func generateRefreshOpaque() (string, string, error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, err := refreshTokenRandomSource(randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

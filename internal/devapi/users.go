package devapi

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const minimumPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("users.invalid_credentials")
	ErrUsernameTaken      = errors.New("users.username_taken")
	ErrUsernameRequired   = errors.New("users.username_required")
	ErrPasswordTooShort   = errors.New("users.password_too_short")
	ErrUserNotFound       = errors.New("users.not_found")
)

// User is the profile served by users/me/.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Registration is the body accepted by users/register/.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserStore persists accounts and checks passwords.
type UserStore interface {
	Register(ctx context.Context, registration Registration) (User, error)
	Authenticate(ctx context.Context, username string, password string) (User, error)
	Lookup(ctx context.Context, userID int) (User, error)
}

// MemoryUserStore keeps accounts with bcrypt password hashes in memory.
type MemoryUserStore struct {
	mutex      sync.RWMutex
	hashCost   int
	nextID     int
	byID       map[int]*userRecord
	byUsername map[string]int
}

type userRecord struct {
	profile      User
	passwordHash []byte
}

// NewMemoryUserStore builds an empty store. A zero cost selects bcrypt.DefaultCost.
func NewMemoryUserStore(hashCost int) *MemoryUserStore {
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &MemoryUserStore{
		hashCost:   hashCost,
		byID:       make(map[int]*userRecord),
		byUsername: make(map[string]int),
	}
}

// Register validates and stores a new account.
func (store *MemoryUserStore) Register(ctx context.Context, registration Registration) (User, error) {
	username := strings.TrimSpace(registration.Username)
	if username == "" {
		return User{}, ErrUsernameRequired
	}
	if len(registration.Password) < minimumPasswordLength {
		return User{}, ErrPasswordTooShort
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(registration.Password), store.hashCost)
	if hashErr != nil {
		return User{}, hashErr
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	key := strings.ToLower(username)
	if _, exists := store.byUsername[key]; exists {
		return User{}, ErrUsernameTaken
	}
	store.nextID++
	profile := User{
		ID:        store.nextID,
		Username:  username,
		Email:     strings.TrimSpace(registration.Email),
		FirstName: strings.TrimSpace(registration.FirstName),
		LastName:  strings.TrimSpace(registration.LastName),
	}
	store.byID[profile.ID] = &userRecord{profile: profile, passwordHash: passwordHash}
	store.byUsername[key] = profile.ID
	return profile, nil
}

// Authenticate returns the account when the password matches.
func (store *MemoryUserStore) Authenticate(ctx context.Context, username string, password string) (User, error) {
	store.mutex.RLock()
	userID, exists := store.byUsername[strings.ToLower(strings.TrimSpace(username))]
	var record *userRecord
	if exists {
		record = store.byID[userID]
	}
	store.mutex.RUnlock()
	if record == nil {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return record.profile, nil
}

// Lookup returns an account by id.
func (store *MemoryUserStore) Lookup(ctx context.Context, userID int) (User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	record, ok := store.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return record.profile, nil
}

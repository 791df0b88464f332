package devapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

var testSigningKey = []byte("devapi-test-signing-key")

type manualClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newManualClock() *manualClock {
	return &manualClock{current: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *manualClock) Advance(step time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(step)
}

type serverHarness struct {
	server   *Server
	clock    *manualClock
	registry *prometheus.Registry
}

func newServerHarness(t *testing.T, mutate func(*Config)) *serverHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := newManualClock()
	configuration := Config{
		SigningKey: testSigningKey,
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
	}
	if mutate != nil {
		mutate(&configuration)
	}
	registry := prometheus.NewRegistry()
	server, err := NewServer(Options{
		Config:   configuration,
		Logger:   zaptest.NewLogger(t),
		Users:    NewMemoryUserStore(bcrypt.MinCost),
		Clock:    clock,
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	if _, err := server.Users().Register(context.Background(), Registration{Username: "alice", Password: "correct-horse", FirstName: "Alice"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &serverHarness{server: server, clock: clock, registry: registry}
}

func (harness *serverHarness) do(t *testing.T, method string, path string, bearer string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	harness.server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func (harness *serverHarness) login(t *testing.T) (string, string) {
	t.Helper()
	recorder := harness.do(t, http.MethodPost, "/api/token/", "", map[string]string{"username": "alice", "password": "correct-horse"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", recorder.Code, recorder.Body.String())
	}
	var pair struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	decodeBody(t, recorder, &pair)
	return pair.Access, pair.Refresh
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
}

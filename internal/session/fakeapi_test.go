package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

// fakeAPI mimics the token/refresh/users/tasks contract with switchable behaviour.
type fakeAPI struct {
	mutex          sync.Mutex
	users          map[string]string
	validAccess    map[string]bool
	refreshIssues  map[string]TokenPair
	authorizations []string
	requestIDs     []string
	taskBodies     []string

	refreshCalls atomic.Int32
	taskCalls    atomic.Int32
	refreshDelay time.Duration
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		users:         map[string]string{"alice": "secret"},
		validAccess:   make(map[string]bool),
		refreshIssues: make(map[string]TokenPair),
	}
}

func (api *fakeAPI) allowAccess(token string) {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.validAccess[token] = true
}

func (api *fakeAPI) issueOnRefresh(refreshToken string, pair TokenPair) {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.refreshIssues[refreshToken] = pair
}

func (api *fakeAPI) seenAuthorizations() []string {
	api.mutex.Lock()
	defer api.mutex.Unlock()
	return append([]string(nil), api.authorizations...)
}

func (api *fakeAPI) authorized(contextGin *gin.Context) bool {
	header := contextGin.GetHeader("Authorization")
	api.mutex.Lock()
	defer api.mutex.Unlock()
	api.authorizations = append(api.authorizations, header)
	api.requestIDs = append(api.requestIDs, contextGin.GetHeader(RequestIDHeader))
	token := strings.TrimPrefix(header, "Bearer ")
	return header != "" && api.validAccess[token]
}

func (api *fakeAPI) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/api")

	group.POST("/token/", func(contextGin *gin.Context) {
		var inbound struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil {
			return
		}
		api.mutex.Lock()
		expected, ok := api.users[inbound.Username]
		api.mutex.Unlock()
		if !ok || expected != inbound.Password {
			contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "No active account found with the given credentials"})
			return
		}
		api.allowAccess("A1")
		contextGin.JSON(http.StatusOK, gin.H{"access": "A1", "refresh": "R1"})
	})

	group.POST("/token/refresh/", func(contextGin *gin.Context) {
		api.refreshCalls.Add(1)
		var inbound struct {
			Refresh string `json:"refresh"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil {
			return
		}
		if api.refreshDelay > 0 {
			select {
			case <-time.After(api.refreshDelay):
			case <-contextGin.Request.Context().Done():
				return
			}
		}
		api.mutex.Lock()
		pair, ok := api.refreshIssues[inbound.Refresh]
		api.mutex.Unlock()
		if !ok {
			contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Token is invalid or expired", "code": "token_not_valid"})
			return
		}
		contextGin.JSON(http.StatusOK, pair)
	})

	group.GET("/users/me/", func(contextGin *gin.Context) {
		if !api.authorized(contextGin) {
			contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Given token not valid for any token type"})
			return
		}
		contextGin.JSON(http.StatusOK, User{ID: 7, Username: "alice", FirstName: "Alice"})
	})

	group.Any("/tasks/", func(contextGin *gin.Context) {
		api.taskCalls.Add(1)
		if !api.authorized(contextGin) {
			contextGin.JSON(http.StatusUnauthorized, gin.H{"detail": "Given token not valid for any token type"})
			return
		}
		if contextGin.Request.Method == http.MethodPost {
			body, _ := contextGin.GetRawData()
			api.mutex.Lock()
			api.taskBodies = append(api.taskBodies, string(body))
			api.mutex.Unlock()
			contextGin.Data(http.StatusCreated, "application/json", body)
			return
		}
		contextGin.JSON(http.StatusOK, []gin.H{{"id": 1, "title": "write tests"}})
	})

	group.GET("/broken/", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusInternalServerError, gin.H{"detail": "boom"})
	})

	return router
}

type sessionFixture struct {
	api       *fakeAPI
	server    *httptest.Server
	store     *MemoryCredentialStore
	metrics   *CounterMetrics
	client    *Client
	endedMu   sync.Mutex
	endedWith []error
}

func (fixture *sessionFixture) ended() []error {
	fixture.endedMu.Lock()
	defer fixture.endedMu.Unlock()
	return append([]error(nil), fixture.endedWith...)
}

func newSessionFixture(t *testing.T, mutate func(*Config)) *sessionFixture {
	t.Helper()
	fixture := &sessionFixture{
		api:     newFakeAPI(),
		store:   NewMemoryCredentialStore(),
		metrics: NewCounterMetrics(),
	}
	fixture.server = httptest.NewServer(fixture.api.router())
	t.Cleanup(fixture.server.Close)

	configuration := Config{
		BaseURL:        fixture.server.URL + "/api",
		Store:          fixture.store,
		Logger:         zaptest.NewLogger(t),
		Metrics:        fixture.metrics,
		RefreshTimeout: 2 * time.Second,
		OnSessionEnded: func(event SessionEndedEvent) {
			fixture.endedMu.Lock()
			defer fixture.endedMu.Unlock()
			fixture.endedWith = append(fixture.endedWith, event.Reason)
		},
	}
	if mutate != nil {
		mutate(&configuration)
	}
	client, err := New(configuration)
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	fixture.client = client
	return fixture
}

func (fixture *sessionFixture) seed(t *testing.T, access string, refresh string) {
	t.Helper()
	if err := fixture.store.Save(context.Background(), Credentials{AccessToken: access, RefreshToken: refresh}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
}

package devapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options wires a Server. Nil stores are replaced by in-memory ones.
type Options struct {
	Config        Config
	Logger        *zap.Logger
	Users         UserStore
	RefreshTokens RefreshTokenStore
	Tasks         *TaskStore
	Clock         Clock
	// Registry receives the server's collectors and backs /metrics.
	Registry *prometheus.Registry
}

// Server is an in-memory implementation of the task API used for local development.
type Server struct {
	config        Config
	logger        *zap.Logger
	users         UserStore
	refreshTokens RefreshTokenStore
	tasks         *TaskStore
	clock         Clock
	metrics       *serverMetrics
	router        *gin.Engine
}

// NewServer validates options and mounts every route.
func NewServer(options Options) (*Server, error) {
	configuration, err := options.Config.withDefaults()
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := options.Clock
	if clock == nil {
		clock = systemClock{}
	}
	users := options.Users
	if users == nil {
		users = NewMemoryUserStore(0)
	}
	refreshTokens := options.RefreshTokens
	if refreshTokens == nil {
		refreshTokens = NewMemoryRefreshTokenStore(clock)
	}
	taskStore := options.Tasks
	if taskStore == nil {
		taskStore = NewTaskStore(clock)
	}
	registry := options.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics, err := newServerMetrics(registry)
	if err != nil {
		return nil, err
	}

	server := &Server{
		config:        configuration,
		logger:        logger,
		users:         users,
		refreshTokens: refreshTokens,
		tasks:         taskStore,
		clock:         clock,
		metrics:       metrics,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(zapLoggerMiddleware(logger, metrics))
	if configuration.EnableCORS {
		corsMiddleware, corsErr := ConfigureCORS(logger, configuration.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	server.mountAuthRoutes(api)

	protected := api.Group("")
	protected.Use(server.requireBearer())
	protected.GET("/users/me/", server.handleCurrentUser)
	server.mountTaskRoutes(protected)

	server.router = router
	return server, nil
}

// Handler returns the HTTP handler serving the API.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Users exposes the account store, e.g. for seeding a demo user.
func (server *Server) Users() UserStore {
	return server.users
}

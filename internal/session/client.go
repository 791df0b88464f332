package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:8000/api/.
	BaseURL string
	Store   CredentialStore
	// HTTPTransport carries both pipeline and unauthenticated calls. Defaults to
	// http.DefaultTransport.
	HTTPTransport http.RoundTripper
	// Refresher overrides the token/refresh/ exchange; defaults to an HTTPRefresher.
	Refresher      CredentialRefresher
	Logger         *zap.Logger
	Metrics        MetricsRecorder
	Clock          Clock
	RefreshTimeout time.Duration
	RequestTimeout time.Duration
	OnSessionEnded func(SessionEndedEvent)
}

// User is the profile returned by users/me/.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName prefers the first name and falls back to the username.
func (user *User) DisplayName() string {
	if user == nil {
		return ""
	}
	if strings.TrimSpace(user.FirstName) != "" {
		return user.FirstName
	}
	return user.Username
}

// Registration is the payload accepted by users/register/.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Status summarises the local session without contacting the server.
type Status struct {
	State         State
	Authenticated bool
	HasRefresh    bool
	Token         AccessTokenInfo
	TokenReadable bool
	Expired       bool
}

// Client owns the credential lifecycle and the authenticated request pipeline.
type Client struct {
	baseURL     *url.URL
	store       CredentialStore
	transport   *Transport
	apiClient   *http.Client
	plainClient *http.Client
	logger      *zap.Logger
	metrics     MetricsRecorder
	clock       Clock
	state       *stateMachine
}

// New validates the configuration and constructs a Client.
func New(configuration Config) (*Client, error) {
	baseURL, err := normalizeBaseURL(configuration.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("session.new: %w", err)
	}
	if configuration.Store == nil {
		return nil, fmt.Errorf("session.new: %w", errMissingStore)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = noopMetrics{}
	if configuration.Metrics != nil {
		metrics = configuration.Metrics
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	base := configuration.HTTPTransport
	if base == nil {
		base = http.DefaultTransport
	}
	plainClient := &http.Client{Transport: base, Timeout: configuration.RequestTimeout}
	refresher := configuration.Refresher
	if refresher == nil {
		refresher = NewHTTPRefresher(baseURL, plainClient)
	}

	state := &stateMachine{}
	transport, err := newTransport(TransportConfig{
		Base:           base,
		Store:          configuration.Store,
		Refresher:      refresher,
		Logger:         logger,
		Metrics:        metrics,
		Clock:          clock,
		RefreshTimeout: configuration.RefreshTimeout,
		OnSessionEnded: configuration.OnSessionEnded,
	}, state)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:     baseURL,
		store:       configuration.Store,
		transport:   transport,
		apiClient:   &http.Client{Transport: transport, Timeout: configuration.RequestTimeout},
		plainClient: plainClient,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		state:       state,
	}, nil
}

// HTTPClient returns the pipeline-backed client for callers that build their own requests.
func (client *Client) HTTPClient() *http.Client {
	return client.apiClient
}

// BaseURL returns the normalized API root.
func (client *Client) BaseURL() string {
	return client.baseURL.String()
}

// State reports the current session state.
func (client *Client) State() State {
	return client.state.get()
}

// Login exchanges username and password for a credential pair, stores both values
// together, and returns the current user's profile. A rejected attempt leaves any
// existing session untouched.
func (client *Client) Login(ctx context.Context, username string, password string) (*User, error) {
	previousState := client.state.set(StateAuthenticating)

	request, err := newJSONRequest(ctx, http.MethodPost, resolveEndpoint(client.baseURL, loginPath), map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		client.state.set(previousState)
		return nil, fmt.Errorf("session.login: %w", err)
	}
	response, err := sendJSON(client.plainClient, request)
	if err != nil {
		client.state.set(previousState)
		client.metrics.Increment(EventLoginFailure)
		return nil, fmt.Errorf("session.login.transport: %w", err)
	}
	if !response.successful() {
		client.state.set(previousState)
		client.metrics.Increment(EventLoginFailure)
		client.logger.Info("login rejected",
			zap.String("code", "session.login.rejected"),
			zap.Int("status", response.statusCode))
		return nil, &AuthError{StatusCode: response.statusCode, Detail: detailFromBody(response.body)}
	}
	var pair TokenPair
	if decodeErr := response.decode(&pair); decodeErr != nil || strings.TrimSpace(pair.Access) == "" {
		client.state.set(previousState)
		client.metrics.Increment(EventLoginFailure)
		return nil, &AuthError{StatusCode: response.statusCode, Detail: "response carried no access credential"}
	}
	if saveErr := client.transport.establishSession(ctx, Credentials{AccessToken: pair.Access, RefreshToken: pair.Refresh}); saveErr != nil {
		client.state.set(previousState)
		return nil, fmt.Errorf("session.login.save: %w", saveErr)
	}
	client.metrics.Increment(EventLoginSuccess)
	client.logger.Info("login succeeded", zap.String("code", "session.login.succeeded"))

	return client.CurrentUser(ctx)
}

// Register creates an account. It does not log in.
func (client *Client) Register(ctx context.Context, registration Registration) error {
	request, err := newJSONRequest(ctx, http.MethodPost, resolveEndpoint(client.baseURL, registrationPath), registration)
	if err != nil {
		return fmt.Errorf("session.register: %w", err)
	}
	response, err := sendJSON(client.plainClient, request)
	if err != nil {
		return fmt.Errorf("session.register.transport: %w", err)
	}
	if !response.successful() {
		return &RequestError{Method: request.Method, URL: request.URL.String(), StatusCode: response.statusCode, Body: response.body}
	}
	return nil
}

// Logout clears both stored credentials. It is idempotent; the only possible error
// is a storage failure.
func (client *Client) Logout(ctx context.Context) error {
	if err := client.transport.dropSession(ctx); err != nil {
		return fmt.Errorf("session.logout: %w", err)
	}
	client.metrics.Increment(EventLogout)
	return nil
}

// IsAuthenticated reports whether an access credential is stored. It does not check
// expiry; an expired credential reports true until a request triggers a refresh.
func (client *Client) IsAuthenticated(ctx context.Context) bool {
	credentials, err := client.store.Load(ctx)
	if err != nil {
		client.logger.Warn("credential load failed",
			zap.String("code", "session.is_authenticated.load_failed"),
			zap.Error(err))
		return false
	}
	return credentials.HasAccess()
}

// CurrentUser fetches users/me/ through the pipeline.
func (client *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := client.Do(ctx, http.MethodGet, currentUserPath, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Restore validates a stored session at startup. With no stored credential it returns
// (nil, nil). When the profile cannot be fetched the credentials are cleared.
func (client *Client) Restore(ctx context.Context) (*User, error) {
	if !client.IsAuthenticated(ctx) {
		client.state.set(StateAnonymous)
		return nil, nil
	}
	user, err := client.CurrentUser(ctx)
	if err != nil {
		client.logger.Warn("stored session could not be restored",
			zap.String("code", "session.restore.failed"),
			zap.Error(err))
		if logoutErr := client.Logout(ctx); logoutErr != nil {
			return nil, fmt.Errorf("session.restore: %w (logout: %v)", err, logoutErr)
		}
		return nil, fmt.Errorf("session.restore: %w", err)
	}
	return user, nil
}

// Status inspects the stored credential locally.
func (client *Client) Status(ctx context.Context) (Status, error) {
	credentials, err := client.store.Load(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("session.status: %w", err)
	}
	status := Status{
		State:         client.state.get(),
		Authenticated: credentials.HasAccess(),
		HasRefresh:    credentials.HasRefresh(),
	}
	if !status.Authenticated {
		return status, nil
	}
	info, inspectErr := InspectAccessToken(credentials.AccessToken)
	if inspectErr != nil {
		return status, nil
	}
	status.Token = info
	status.TokenReadable = true
	status.Expired = info.Expired(client.clock.Now())
	return status, nil
}

// Do sends a JSON request to path (relative to the base URL) through the pipeline and
// decodes a 2xx body into out. Non-2xx responses become *RequestError.
func (client *Client) Do(ctx context.Context, method string, path string, payload any, out any) error {
	request, err := newJSONRequest(ctx, method, resolveEndpoint(client.baseURL, path), payload)
	if err != nil {
		return err
	}
	response, err := sendJSON(client.apiClient, request)
	if err != nil {
		return fmt.Errorf("session.request: %w", err)
	}
	if !response.successful() {
		return &RequestError{Method: method, URL: request.URL.String(), StatusCode: response.statusCode, Body: response.body}
	}
	if decodeErr := response.decode(out); decodeErr != nil {
		return fmt.Errorf("session.decode: %w", decodeErr)
	}
	return nil
}

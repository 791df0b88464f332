package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// RequestIDHeader is attached to every outbound request and kept across the replay.
	RequestIDHeader = "X-Request-Id"

	defaultRefreshTimeout = 10 * time.Second
	refreshFlightKey      = "refresh"
)

// SessionEndedEvent is delivered when stored credentials were cleared because the
// session could not be renewed.
type SessionEndedEvent struct {
	Reason error
	At     time.Time
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	Base           http.RoundTripper
	Store          CredentialStore
	Refresher      CredentialRefresher
	Logger         *zap.Logger
	Metrics        MetricsRecorder
	Clock          Clock
	RefreshTimeout time.Duration
	OnSessionEnded func(SessionEndedEvent)
}

// Transport is an http.RoundTripper that attaches the stored bearer credential,
// heals a single authorization failure per request by refreshing the credential and
// replaying the request, and ends the session when the refresh is rejected.
// Concurrent authorization failures share one refresh call.
type Transport struct {
	base           http.RoundTripper
	store          CredentialStore
	refresher      CredentialRefresher
	logger         *zap.Logger
	metrics        MetricsRecorder
	clock          Clock
	refreshTimeout time.Duration
	onSessionEnded func(SessionEndedEvent)
	state          *stateMachine

	refreshGroup singleflight.Group

	// sessionMutex orders writes of the stored pair. epoch changes whenever a session
	// is established or ended; a refresh started under an older epoch must not write.
	sessionMutex sync.Mutex
	epoch        uint64

	failureMutex sync.Mutex
	lastFailure  *refreshFailure
}

// refreshFailure remembers which access credential a failed refresh was meant to
// replace, so requests that observed the same 401 late fail with the same error
// instead of starting another refresh.
type refreshFailure struct {
	access string
	err    error
}

// NewTransport validates the configuration and builds a Transport.
func NewTransport(configuration TransportConfig) (*Transport, error) {
	return newTransport(configuration, &stateMachine{})
}

func newTransport(configuration TransportConfig, state *stateMachine) (*Transport, error) {
	if configuration.Store == nil {
		return nil, fmt.Errorf("session.transport.new: %w", errMissingStore)
	}
	if configuration.Refresher == nil {
		return nil, fmt.Errorf("session.transport.new: %w", errMissingRefresh)
	}
	base := configuration.Base
	if base == nil {
		base = http.DefaultTransport
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
	refreshTimeout := configuration.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	return &Transport{
		base:           base,
		store:          configuration.Store,
		refresher:      configuration.Refresher,
		logger:         logger,
		metrics:        metrics,
		clock:          clock,
		refreshTimeout: refreshTimeout,
		onSessionEnded: configuration.OnSessionEnded,
		state:          state,
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (transport *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	bodySource, bodyErr := replayableBody(request)
	if bodyErr != nil {
		return nil, bodyErr
	}
	requestID := request.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	outbound, sentAccess, err := transport.attachCredential(request, bodySource, requestID)
	if err != nil {
		return nil, err
	}
	response, err := transport.base.RoundTrip(outbound)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusUnauthorized {
		return response, nil
	}
	return transport.handleUnauthorized(request, response, bodySource, requestID, sentAccess)
}

// attachCredential never fails on a missing or unreadable credential; the request is
// then sent unauthenticated.
func (transport *Transport) attachCredential(request *http.Request, bodySource bodyFactory, requestID string) (*http.Request, string, error) {
	credentials, loadErr := transport.store.Load(request.Context())
	if loadErr != nil {
		transport.logger.Warn("credential load failed; sending request unauthenticated",
			zap.String("code", "session.attach.load_failed"),
			zap.String("request_id", requestID),
			zap.Error(loadErr))
		credentials = Credentials{}
	}
	if credentials.HasAccess() {
		transport.promoteFromAnonymous()
	}
	outbound, err := buildOutbound(request, bodySource, requestID, credentials.AccessToken)
	if err != nil {
		return nil, "", err
	}
	return outbound, credentials.AccessToken, nil
}

func (transport *Transport) handleUnauthorized(request *http.Request, response *http.Response, bodySource bodyFactory, requestID string, sentAccess string) (*http.Response, error) {
	original, bufferErr := bufferResponse(response)
	if bufferErr != nil {
		return nil, bufferErr
	}
	transport.logger.Debug("authorization failure; refreshing credential",
		zap.String("code", "session.unauthorized"),
		zap.String("method", request.Method),
		zap.String("path", request.URL.Path),
		zap.String("request_id", requestID))

	freshAccess, refreshErr := transport.refreshCredential(request.Context(), sentAccess)
	if refreshErr != nil {
		if errors.Is(refreshErr, ErrMissingRefreshCredential) {
			return original, nil
		}
		return nil, refreshErr
	}

	replay, err := buildOutbound(request, bodySource, requestID, freshAccess)
	if err != nil {
		return nil, err
	}
	replayResponse, err := transport.base.RoundTrip(replay)
	if err != nil {
		return nil, err
	}
	if replayResponse.StatusCode == http.StatusUnauthorized {
		transport.logger.Warn("replayed request rejected",
			zap.String("code", "session.replay.unauthorized"),
			zap.String("method", request.Method),
			zap.String("path", request.URL.Path),
			zap.String("request_id", requestID))
	}
	return replayResponse, nil
}

// refreshCredential joins the in-flight refresh or starts one. A caller whose context
// ends stops waiting; the shared refresh keeps running for the others.
func (transport *Transport) refreshCredential(ctx context.Context, sentAccess string) (string, error) {
	leader := false
	resultChannel := transport.refreshGroup.DoChan(refreshFlightKey, func() (interface{}, error) {
		leader = true
		return transport.performRefresh(ctx, sentAccess)
	})
	select {
	case result := <-resultChannel:
		if result.Shared && !leader {
			transport.metrics.Increment(EventRefreshCoalesced)
		}
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("session.refresh.wait: %w", ctx.Err())
	}
}

func (transport *Transport) performRefresh(callerContext context.Context, sentAccess string) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerContext), transport.refreshTimeout)
	defer cancel()

	epoch := transport.currentEpoch()
	stored, loadErr := transport.store.Load(ctx)
	if loadErr != nil {
		return "", fmt.Errorf("session.refresh.load: %w", loadErr)
	}
	if stored.HasAccess() && stored.AccessToken != sentAccess {
		return stored.AccessToken, nil
	}
	if failure := transport.failureFor(sentAccess); failure != nil {
		return "", failure.err
	}
	if !stored.HasRefresh() {
		if !stored.HasAccess() && strings.TrimSpace(sentAccess) == "" {
			// Anonymous request: there is no session to end.
			return "", ErrMissingRefreshCredential
		}
		transport.endSession(ctx, epoch, sentAccess, ErrMissingRefreshCredential)
		return "", ErrMissingRefreshCredential
	}

	transport.sessionMutex.Lock()
	if transport.epoch != epoch {
		transport.sessionMutex.Unlock()
		return "", errRefreshSuperseded
	}
	previousState := transport.state.set(StateRefreshing)
	transport.sessionMutex.Unlock()

	pair, refreshErr := transport.refresher.Refresh(ctx, stored.RefreshToken)
	if refreshErr != nil {
		transport.metrics.Increment(EventRefreshFailure)
		transport.endSession(ctx, epoch, sentAccess, refreshErr)
		return "", refreshErr
	}

	renewed := Credentials{AccessToken: pair.Access, RefreshToken: stored.RefreshToken}
	if strings.TrimSpace(pair.Refresh) != "" {
		renewed.RefreshToken = pair.Refresh
	}
	if err := transport.storeRefreshed(ctx, epoch, renewed, previousState); err != nil {
		return "", err
	}
	transport.metrics.Increment(EventRefreshSuccess)
	transport.logger.Info("access credential refreshed",
		zap.String("code", "session.refresh.succeeded"),
		zap.Bool("rotated", strings.TrimSpace(pair.Refresh) != ""))
	return pair.Access, nil
}

// storeRefreshed saves a renewed pair unless the session changed while the refresh
// was in flight; in that case the pair is dropped and the state left alone.
func (transport *Transport) storeRefreshed(ctx context.Context, epoch uint64, renewed Credentials, previousState State) error {
	transport.sessionMutex.Lock()
	defer transport.sessionMutex.Unlock()
	if transport.epoch != epoch {
		transport.logger.Info("refreshed credential discarded; session changed during refresh",
			zap.String("code", "session.refresh.superseded"))
		return errRefreshSuperseded
	}
	if saveErr := transport.store.Save(ctx, renewed); saveErr != nil {
		transport.state.set(previousState)
		transport.logger.Error("refreshed credential could not be stored",
			zap.String("code", "session.refresh.save_failed"),
			zap.Error(saveErr))
		return fmt.Errorf("session.refresh.save: %w", saveErr)
	}
	transport.state.set(StateAuthenticated)
	return nil
}

func (transport *Transport) endSession(ctx context.Context, epoch uint64, sentAccess string, reason error) {
	clearContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), transport.refreshTimeout)
	defer cancel()

	transport.sessionMutex.Lock()
	if transport.epoch != epoch {
		transport.sessionMutex.Unlock()
		transport.logger.Debug("session already replaced; keeping stored credentials",
			zap.String("code", "session.end.superseded"),
			zap.Error(reason))
		return
	}
	if clearErr := transport.store.Clear(clearContext); clearErr != nil {
		transport.logger.Error("credential clear failed",
			zap.String("code", "session.end.clear_failed"),
			zap.Error(clearErr))
	}
	transport.epoch++
	transport.state.set(StateAnonymous)
	transport.failureMutex.Lock()
	transport.lastFailure = &refreshFailure{access: sentAccess, err: reason}
	transport.failureMutex.Unlock()
	transport.sessionMutex.Unlock()

	transport.metrics.Increment(EventSessionEnded)
	transport.logger.Warn("session ended",
		zap.String("code", "session.ended"),
		zap.Error(reason))
	if transport.onSessionEnded != nil {
		transport.onSessionEnded(SessionEndedEvent{Reason: reason, At: transport.clock.Now()})
	}
}

func (transport *Transport) failureFor(sentAccess string) *refreshFailure {
	transport.failureMutex.Lock()
	defer transport.failureMutex.Unlock()
	if transport.lastFailure == nil || transport.lastFailure.access != sentAccess {
		return nil
	}
	return transport.lastFailure
}

// establishSession stores a freshly issued pair as the new session. A refresh still
// in flight for the previous session will not overwrite it.
func (transport *Transport) establishSession(ctx context.Context, credentials Credentials) error {
	transport.sessionMutex.Lock()
	defer transport.sessionMutex.Unlock()
	if err := transport.store.Save(ctx, credentials); err != nil {
		return err
	}
	transport.epoch++
	transport.failureMutex.Lock()
	transport.lastFailure = nil
	transport.failureMutex.Unlock()
	transport.state.set(StateAuthenticated)
	return nil
}

// dropSession clears the stored pair on explicit logout. The state is Anonymous
// afterwards even when the store fails.
func (transport *Transport) dropSession(ctx context.Context) error {
	transport.sessionMutex.Lock()
	defer transport.sessionMutex.Unlock()
	transport.epoch++
	transport.state.set(StateAnonymous)
	return transport.store.Clear(ctx)
}

func (transport *Transport) currentEpoch() uint64 {
	transport.sessionMutex.Lock()
	defer transport.sessionMutex.Unlock()
	return transport.epoch
}

func (transport *Transport) promoteFromAnonymous() {
	transport.state.mutex.Lock()
	defer transport.state.mutex.Unlock()
	if transport.state.current == StateAnonymous {
		transport.state.current = StateAuthenticated
	}
}

type bodyFactory func() (io.ReadCloser, error)

// replayableBody returns a factory yielding fresh copies of the request body so the
// request can be sent twice. The caller's body is always closed.
func replayableBody(request *http.Request) (bodyFactory, error) {
	if request.Body == nil || request.Body == http.NoBody {
		return nil, nil
	}
	if request.GetBody != nil {
		_ = request.Body.Close()
		return request.GetBody, nil
	}
	buffered, err := io.ReadAll(request.Body)
	_ = request.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("session.request.buffer_body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buffered)), nil
	}, nil
}

func buildOutbound(request *http.Request, bodySource bodyFactory, requestID string, accessToken string) (*http.Request, error) {
	outbound := request.Clone(request.Context())
	if bodySource != nil {
		body, err := bodySource()
		if err != nil {
			return nil, fmt.Errorf("session.request.body: %w", err)
		}
		outbound.Body = body
		outbound.GetBody = bodySource
	}
	outbound.Header.Set(RequestIDHeader, requestID)
	if strings.TrimSpace(accessToken) != "" {
		outbound.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return outbound, nil
}

func bufferResponse(response *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes))
	_ = response.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("session.response.buffer_body: %w", err)
	}
	response.Body = io.NopCloser(bytes.NewReader(body))
	response.ContentLength = int64(len(body))
	return response, nil
}

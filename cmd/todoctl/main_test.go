package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/todoctl/internal/devapi"
)

type steppingClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *steppingClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *steppingClock) Advance(step time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(step)
}

type cliHarness struct {
	apiURL   string
	storeURL string
	clock    *steppingClock
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := &steppingClock{current: time.Now().UTC()}
	api, err := devapi.NewServer(devapi.Options{
		Config: devapi.Config{
			SigningKey: []byte("cli-test-secret"),
			AccessTTL:  5 * time.Minute,
			RefreshTTL: time.Hour,
		},
		Logger: zap.NewNop(),
		Users:  devapi.NewMemoryUserStore(4),
		Clock:  clock,
	})
	if err != nil {
		t.Fatalf("build api: %v", err)
	}
	if _, err := api.Users().Register(context.Background(), devapi.Registration{
		Username: "alice",
		Password: "correct-horse",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return &cliHarness{
		apiURL:   server.URL + "/api/",
		storeURL: "sqlite://" + filepath.Join(t.TempDir(), "state", "credentials.db"),
		clock:    clock,
	}
}

func (harness *cliHarness) run(t *testing.T, arguments ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	rootCmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append(arguments, "--api_url", harness.apiURL, "--credential_store", harness.storeURL))
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (harness *cliHarness) mustRun(t *testing.T, arguments ...string) string {
	t.Helper()
	stdout, stderr, err := harness.run(t, arguments...)
	if err != nil {
		t.Fatalf("todoctl %s failed: %v\nstderr: %s", strings.Join(arguments, " "), err, stderr)
	}
	return stdout
}

// tableValue returns the value cell of the key/value row whose key matches.
func tableValue(output string, key string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, key+" ") {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(line, key))
	}
	return ""
}

func TestRootCommandHelp(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	rootCmd := newRootCommand()
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"--help"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, expected := range []string{"login", "logout", "tasks", "serve-dev", "--api_url", "--credential_store"} {
		if !strings.Contains(stdout.String(), expected) {
			t.Fatalf("expected help to mention %q, got:\n%s", expected, stdout.String())
		}
	}
}

func TestRunServeDevMissingConfig(t *testing.T) {
	err := runServeDev(&cobra.Command{}, nil)
	expectedMessage := "config.uninitialized_config: dev server configuration not prepared; PreRunE must execute before RunE"
	if err == nil || err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %v", expectedMessage, err)
	}
}

func withServeHTTPStub(stub func(*http.Server) error) func() {
	original := serveHTTP
	serveHTTP = stub
	return func() { serveHTTP = original }
}

func TestRunServeDevSuccess(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	var servedHandler http.Handler
	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		servedHandler = server.Handler
		return http.ErrServerClosed
	})
	defer restoreServe()

	rootCmd := newRootCommand()
	rootCmd.SetArgs([]string{"serve-dev",
		"--listen_addr", ":0",
		"--jwt_signing_key", "signing-secret",
		"--demo_user", "demo",
		"--demo_password", "demo-password",
		"--enable_cors",
		"--cors_allowed_origins", "http://localhost:5173",
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("expected serve-dev to succeed, got %v", err)
	}
	if servedHandler == nil {
		t.Fatalf("expected handler to be configured")
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/token/", strings.NewReader(`{"username":"demo","password":"demo-password"}`))
	request.Header.Set("Content-Type", "application/json")
	servedHandler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected demo user to log in, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRunServeDevRejectsShortDemoPassword(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		t.Fatalf("server must not start")
		return nil
	})
	defer restoreServe()

	rootCmd := newRootCommand()
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"serve-dev", "--jwt_signing_key", "signing-secret", "--demo_user", "demo", "--demo_password", "short"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "serve_dev.demo_user") {
		t.Fatalf("expected demo user error, got %v", err)
	}
}

func TestCLISessionLifecycle(t *testing.T) {
	harness := newCLIHarness(t)

	stdout := harness.mustRun(t, "status")
	if tableValue(stdout, "authenticated") != "false" {
		t.Fatalf("expected anonymous status, got:\n%s", stdout)
	}

	_, _, err := harness.run(t, "login", "--username", "alice", "--password", "wrong-password")
	if err == nil || !strings.Contains(err.Error(), "No active account found") {
		t.Fatalf("expected rejected login, got %v", err)
	}

	stdout = harness.mustRun(t, "login", "--username", "alice", "--password", "correct-horse")
	if strings.TrimSpace(stdout) != "logged in as alice" {
		t.Fatalf("unexpected login output %q", stdout)
	}

	stdout = harness.mustRun(t, "whoami")
	if !strings.HasPrefix(stdout, "alice (id ") {
		t.Fatalf("unexpected whoami output %q", stdout)
	}

	stdout = harness.mustRun(t, "status")
	if tableValue(stdout, "refresh credential") != "true" || tableValue(stdout, "subject") == "" {
		t.Fatalf("expected refresh credential in status, got:\n%s", stdout)
	}

	harness.mustRun(t, "logout")
	if _, _, err := harness.run(t, "whoami"); err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("expected whoami to fail after logout, got %v", err)
	}
	harness.mustRun(t, "logout")
}

func TestCLITaskCommands(t *testing.T) {
	harness := newCLIHarness(t)
	harness.mustRun(t, "login", "--username", "alice", "--password", "correct-horse")

	stdout := harness.mustRun(t, "categories", "add", "home", "--color", "#ff0000")
	if strings.TrimSpace(stdout) != "created category 1" {
		t.Fatalf("unexpected category output %q", stdout)
	}
	stdout = harness.mustRun(t, "tasks", "add", "buy", "milk", "--priority", "high", "--due", "2030-01-02", "--category-id", "1")
	if strings.TrimSpace(stdout) != "created task 1" {
		t.Fatalf("unexpected create output %q", stdout)
	}
	harness.mustRun(t, "tasks", "add", "file taxes", "--priority", "low")

	stdout = harness.mustRun(t, "tasks", "list", "--priority", "high")
	if !strings.Contains(stdout, "buy milk") || strings.Contains(stdout, "file taxes") {
		t.Fatalf("expected only the high priority task, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "home") || !strings.Contains(stdout, "2030-01-02") {
		t.Fatalf("expected category and due date columns, got:\n%s", stdout)
	}

	stdout = harness.mustRun(t, "tasks", "show", "1")
	if !strings.Contains(stdout, "buy milk") || !strings.Contains(stdout, "high") {
		t.Fatalf("unexpected show output:\n%s", stdout)
	}

	stdout = harness.mustRun(t, "tasks", "move", "2", "in_progress")
	if strings.TrimSpace(stdout) != "task 2 is now in_progress at position 0" {
		t.Fatalf("unexpected move output %q", stdout)
	}

	stdout = harness.mustRun(t, "tasks", "done", "1")
	if strings.TrimSpace(stdout) != "task 1 [x]" {
		t.Fatalf("unexpected done output %q", stdout)
	}

	stdout = harness.mustRun(t, "tasks", "board")
	if !strings.Contains(stdout, "== IN_PROGRESS (1)") || !strings.Contains(stdout, "== DONE (1)") {
		t.Fatalf("unexpected board output:\n%s", stdout)
	}

	stdout = harness.mustRun(t, "stats", "--recent", "0")
	if tableValue(stdout, "total") != "2" || tableValue(stdout, "completed") != "1" || tableValue(stdout, "status in_progress") != "1" {
		t.Fatalf("unexpected stats output:\n%s", stdout)
	}

	harness.mustRun(t, "tasks", "rm", "2")
	if _, _, err := harness.run(t, "tasks", "show", "2"); err == nil || !strings.Contains(err.Error(), "tasks.not_found") {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, _, err := harness.run(t, "tasks", "show", "abc"); err == nil || !strings.Contains(err.Error(), "invalid task id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestCLIRefreshesExpiredAccessAcrossInvocations(t *testing.T) {
	harness := newCLIHarness(t)
	harness.mustRun(t, "login", "--username", "alice", "--password", "correct-horse")
	harness.mustRun(t, "tasks", "add", "water plants")

	harness.clock.Advance(10 * time.Minute)
	_, stderr, err := harness.run(t, "tasks", "list")
	if err != nil {
		t.Fatalf("expected refresh to heal the request, got %v (stderr %s)", err, stderr)
	}
	if strings.Contains(stderr, sessionEndedNotice) {
		t.Fatalf("session must not end on a successful refresh")
	}

	stdout := harness.mustRun(t, "status")
	if tableValue(stdout, "access expired") != "false" {
		t.Fatalf("expected the refreshed access credential to be stored, got:\n%s", stdout)
	}
}

func TestCLIEndsSessionWhenRefreshExpires(t *testing.T) {
	harness := newCLIHarness(t)
	harness.mustRun(t, "login", "--username", "alice", "--password", "correct-horse")

	harness.clock.Advance(2 * time.Hour)
	_, stderr, err := harness.run(t, "tasks", "list")
	if err == nil {
		t.Fatalf("expected the request to fail once the refresh credential expired")
	}
	if !strings.Contains(stderr, sessionEndedNotice) {
		t.Fatalf("expected session ended notice, got stderr:\n%s", stderr)
	}

	stdout := harness.mustRun(t, "status")
	if tableValue(stdout, "authenticated") != "false" || tableValue(stdout, "refresh credential") != "false" {
		t.Fatalf("expected cleared credentials, got:\n%s", stdout)
	}

	stdout = harness.mustRun(t, "login", "--username", "alice", "--password", "correct-horse")
	if strings.TrimSpace(stdout) != "logged in as alice" {
		t.Fatalf("expected re-login to work, got %q", stdout)
	}
}

func TestCLIWritesSessionMetricsFile(t *testing.T) {
	harness := newCLIHarness(t)
	metricsPath := filepath.Join(t.TempDir(), "todoctl.prom")

	harness.mustRun(t, "login", "--username", "alice", "--password", "correct-horse", "--metrics_file", metricsPath)
	content, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("expected metrics file, got %v", err)
	}
	if !strings.Contains(string(content), `todoctl_session_events_total{event="login.success"} 1`) {
		t.Fatalf("expected login counter in metrics file, got:\n%s", content)
	}

	harness.clock.Advance(10 * time.Minute)
	harness.mustRun(t, "tasks", "list", "--metrics_file", metricsPath)
	content, err = os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("expected metrics file, got %v", err)
	}
	if !strings.Contains(string(content), `todoctl_session_events_total{event="refresh.success"} 1`) {
		t.Fatalf("expected refresh counter in metrics file, got:\n%s", content)
	}
	if strings.Contains(string(content), `event="login.success"`) {
		t.Fatalf("each run writes only its own counters, got:\n%s", content)
	}
}

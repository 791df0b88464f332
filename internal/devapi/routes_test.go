package devapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tyemirov/todoctl/internal/tasks"
)

func TestLoginIssuesCredentialPair(t *testing.T) {
	harness := newServerHarness(t, nil)

	access, refresh := harness.login(t)
	if access == "" || refresh == "" {
		t.Fatalf("expected both credentials, got %q / %q", access, refresh)
	}

	rejected := harness.do(t, http.MethodPost, "/api/token/", "", map[string]string{"username": "alice", "password": "nope-nope"})
	if rejected.Code != http.StatusUnauthorized || !strings.Contains(rejected.Body.String(), detailInvalidLogin) {
		t.Fatalf("expected 401 with detail, got %d %s", rejected.Code, rejected.Body.String())
	}
	missing := harness.do(t, http.MethodPost, "/api/token/", "", map[string]string{"username": "alice"})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", missing.Code)
	}

	if value := testutil.ToFloat64(harness.server.metrics.authEvents.WithLabelValues(eventLoginSuccess)); value != 1 {
		t.Fatalf("expected one login success, got %v", value)
	}
	if value := testutil.ToFloat64(harness.server.metrics.authEvents.WithLabelValues(eventLoginFailure)); value != 1 {
		t.Fatalf("expected one login failure, got %v", value)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	harness := newServerHarness(t, nil)

	anonymous := harness.do(t, http.MethodGet, "/api/tasks/", "", nil)
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", anonymous.Code)
	}
	garbage := harness.do(t, http.MethodGet, "/api/users/me/", "garbage", nil)
	if garbage.Code != http.StatusUnauthorized || !strings.Contains(garbage.Body.String(), "token_not_valid") {
		t.Fatalf("expected token_not_valid, got %d %s", garbage.Code, garbage.Body.String())
	}

	access, _ := harness.login(t)
	me := harness.do(t, http.MethodGet, "/api/users/me/", access, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("expected profile, got %d", me.Code)
	}
	var user User
	decodeBody(t, me, &user)
	if user.Username != "alice" || user.FirstName != "Alice" {
		t.Fatalf("unexpected profile %+v", user)
	}

	harness.clock.Advance(6 * time.Minute)
	expired := harness.do(t, http.MethodGet, "/api/users/me/", access, nil)
	if expired.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired access to be rejected, got %d", expired.Code)
	}
}

func TestRefreshWithoutRotation(t *testing.T) {
	harness := newServerHarness(t, nil)
	_, refresh := harness.login(t)

	for attempt := 0; attempt < 2; attempt++ {
		recorder := harness.do(t, http.MethodPost, "/api/token/refresh/", "", map[string]string{"refresh": refresh})
		if recorder.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", attempt, recorder.Code)
		}
		var payload map[string]string
		decodeBody(t, recorder, &payload)
		if payload["access"] == "" {
			t.Fatalf("expected access value")
		}
		if _, rotated := payload["refresh"]; rotated {
			t.Fatalf("refresh must not rotate by default")
		}
	}

	harness.clock.Advance(2 * time.Hour)
	expired := harness.do(t, http.MethodPost, "/api/token/refresh/", "", map[string]string{"refresh": refresh})
	if expired.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired refresh to be rejected, got %d", expired.Code)
	}
}

func TestRefreshWithRotation(t *testing.T) {
	harness := newServerHarness(t, func(configuration *Config) {
		configuration.RotateRefresh = true
	})
	_, refresh := harness.login(t)

	recorder := harness.do(t, http.MethodPost, "/api/token/refresh/", "", map[string]string{"refresh": refresh})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload map[string]string
	decodeBody(t, recorder, &payload)
	if payload["refresh"] == "" || payload["refresh"] == refresh {
		t.Fatalf("expected rotated refresh value, got %v", payload)
	}

	reused := harness.do(t, http.MethodPost, "/api/token/refresh/", "", map[string]string{"refresh": refresh})
	if reused.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked refresh to be rejected, got %d", reused.Code)
	}
	if value := testutil.ToFloat64(harness.server.metrics.authEvents.WithLabelValues(eventRefreshFailure)); value != 1 {
		t.Fatalf("expected one refresh failure, got %v", value)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	harness := newServerHarness(t, nil)

	created := harness.do(t, http.MethodPost, "/api/users/register/", "", Registration{Username: "bob", Password: "long-enough", Email: "bob@example.com"})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", created.Code, created.Body.String())
	}
	duplicate := harness.do(t, http.MethodPost, "/api/users/register/", "", Registration{Username: "bob", Password: "long-enough"})
	if duplicate.Code != http.StatusBadRequest || !strings.Contains(duplicate.Body.String(), "already exists") {
		t.Fatalf("expected duplicate rejection, got %d %s", duplicate.Code, duplicate.Body.String())
	}
	short := harness.do(t, http.MethodPost, "/api/users/register/", "", Registration{Username: "eve", Password: "short"})
	if short.Code != http.StatusBadRequest {
		t.Fatalf("expected short password rejection, got %d", short.Code)
	}
}

func TestTaskRoutes(t *testing.T) {
	harness := newServerHarness(t, nil)
	access, _ := harness.login(t)

	categoryRecorder := harness.do(t, http.MethodPost, "/api/categories/", access, tasks.Category{Name: "Work"})
	if categoryRecorder.Code != http.StatusCreated {
		t.Fatalf("create category: %d", categoryRecorder.Code)
	}
	var category tasks.Category
	decodeBody(t, categoryRecorder, &category)

	for _, title := range []string{"one", "two", "three"} {
		recorder := harness.do(t, http.MethodPost, "/api/tasks/", access, tasks.Task{Title: title, Category: &category.ID, Priority: tasks.PriorityHigh})
		if recorder.Code != http.StatusCreated {
			t.Fatalf("create %s: %d %s", title, recorder.Code, recorder.Body.String())
		}
		harness.clock.Advance(time.Second)
	}
	blank := harness.do(t, http.MethodPost, "/api/tasks/", access, tasks.Task{Title: " "})
	if blank.Code != http.StatusBadRequest {
		t.Fatalf("expected blank title rejection, got %d", blank.Code)
	}

	var all []tasks.Task
	decodeBody(t, harness.do(t, http.MethodGet, "/api/tasks/?category=Work", access, nil), &all)
	if len(all) != 3 || all[0].Title != "three" || all[0].CategoryName != "Work" {
		t.Fatalf("unexpected listing %+v", all)
	}

	var page struct {
		Count   int          `json:"count"`
		Results []tasks.Task `json:"results"`
	}
	decodeBody(t, harness.do(t, http.MethodGet, "/api/tasks/?limit=2", access, nil), &page)
	if page.Count != 3 || len(page.Results) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}

	target := all[0]
	target.Status = tasks.StatusDone
	target.Completed = true
	updated := harness.do(t, http.MethodPut, "/api/tasks/"+strconv.Itoa(target.ID)+"/", access, target)
	if updated.Code != http.StatusOK {
		t.Fatalf("update: %d %s", updated.Code, updated.Body.String())
	}

	var stats tasks.Stats
	decodeBody(t, harness.do(t, http.MethodGet, "/api/tasks/stats/", access, nil), &stats)
	if stats.Total != 3 || stats.Completed != 1 || stats.ByPriority[tasks.PriorityHigh] != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	deleted := harness.do(t, http.MethodDelete, "/api/tasks/"+strconv.Itoa(target.ID)+"/", access, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", deleted.Code)
	}
	if missing := harness.do(t, http.MethodGet, "/api/tasks/"+strconv.Itoa(target.ID)+"/", access, nil); missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", missing.Code)
	}
	if invalid := harness.do(t, http.MethodGet, "/api/tasks/abc/", access, nil); invalid.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-numeric id, got %d", invalid.Code)
	}
}

func TestRequestIDAndOperationalRoutes(t *testing.T) {
	harness := newServerHarness(t, nil)

	health := harness.do(t, http.MethodGet, "/healthz", "", nil)
	if health.Code != http.StatusOK || health.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected health with generated request id, got %d %v", health.Code, health.Header())
	}

	harness.login(t)
	metrics := harness.do(t, http.MethodGet, "/metrics", "", nil)
	if metrics.Code != http.StatusOK {
		t.Fatalf("metrics: %d", metrics.Code)
	}
	for _, name := range []string{"todoctl_devapi_auth_events_total", "todoctl_devapi_http_requests_total"} {
		if !strings.Contains(metrics.Body.String(), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestNewServerValidatesConfig(t *testing.T) {
	if _, err := NewServer(Options{}); !errors.Is(err, errMissingSigningKey) {
		t.Fatalf("expected errMissingSigningKey, got %v", err)
	}
	if _, err := NewServer(Options{Config: Config{SigningKey: testSigningKey, AccessTTL: -time.Second}}); !errors.Is(err, errInvalidAccessTTL) {
		t.Fatalf("expected errInvalidAccessTTL, got %v", err)
	}
	_, err := NewServer(Options{Config: Config{SigningKey: testSigningKey, EnableCORS: true, CORSAllowedOrigins: []string{"*"}}})
	if !errors.Is(err, errWildcardOrigin) {
		t.Fatalf("expected errWildcardOrigin, got %v", err)
	}
}

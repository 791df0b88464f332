package session

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRequestErrorTruncatesDetailOnRuneBoundary(t *testing.T) {
	t.Parallel()

	body := "x" + strings.Repeat("é", 200)
	requestError := &RequestError{Method: "GET", URL: "http://api/tasks/", StatusCode: 400, Body: []byte(body)}
	message := requestError.Error()
	if !utf8.ValidString(message) {
		t.Fatalf("error message is not valid UTF-8: %q", message)
	}
	expectedDetail := "x" + strings.Repeat("é", 127)
	if !strings.HasSuffix(message, ": "+expectedDetail) {
		t.Fatalf("expected detail trimmed to %d bytes, got %q", len(expectedDetail), message)
	}
}

func TestRequestErrorKeepsShortDetail(t *testing.T) {
	t.Parallel()

	requestError := &RequestError{Method: "POST", URL: "http://api/tasks/", StatusCode: 400, Body: []byte(` {"title":["This field may not be blank."]} `)}
	expected := `session.request: POST http://api/tasks/: status 400: {"title":["This field may not be blank."]}`
	if requestError.Error() != expected {
		t.Fatalf("expected %q, got %q", expected, requestError.Error())
	}
	if requestError.IsUnauthorized() {
		t.Fatalf("400 is not an authorization failure")
	}
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		value    string
		limit    int
		expected string
	}{
		{name: "short", value: "abc", limit: 5, expected: "abc"},
		{name: "ascii cut", value: "abcdef", limit: 4, expected: "abcd"},
		{name: "inside two-byte rune", value: "aé", limit: 2, expected: "a"},
		{name: "inside four-byte rune", value: "ab😀", limit: 4, expected: "ab"},
		{name: "on boundary", value: "éé", limit: 2, expected: "é"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if got := truncateUTF8(testCase.value, testCase.limit); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestAuthErrorUnwrapsToAuthInvalid(t *testing.T) {
	t.Parallel()

	authError := &AuthError{StatusCode: 401}
	if !errors.Is(authError, ErrAuthInvalid) {
		t.Fatalf("expected AuthError to match ErrAuthInvalid")
	}
	if authError.Error() != "session.login.status_401: session.auth_invalid" {
		t.Fatalf("unexpected message %q", authError.Error())
	}
}

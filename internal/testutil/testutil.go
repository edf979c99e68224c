// Package testutil provides shared test helpers for HTTP handlers that
// speak JSON.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// Get serves a GET request for path through h and returns the recorder.
func Get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return Do(t, h, http.MethodGet, path)
}

// Do serves a body-less request through h and returns the recorder.
func Do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d (body %q)", rec.Code, want, rec.Body.String())
	}
}

// DecodeJSON decodes the recorded body into a T, failing the test if the
// response is not JSON.
func DecodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// AssertJSONError checks for a JSON error body with the given status and
// returns its message.
func AssertJSONError(t *testing.T, rec *httptest.ResponseRecorder, want int) string {
	t.Helper()
	AssertStatusCode(t, rec, want)
	body := DecodeJSON[map[string]string](t, rec)
	msg, ok := body["error"]
	if !ok || msg == "" {
		t.Errorf("body %v has no error message", body)
	}
	return msg
}

package testutil

import (
	"encoding/json"
	"net/http"
	"testing"
)

func jsonHandler(status int, v any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	})
}

func TestGetAndDecode(t *testing.T) {
	t.Parallel()

	rec := Get(t, jsonHandler(http.StatusOK, map[string]int{"tick": 3}), "/api/anything")
	AssertStatusCode(t, rec, http.StatusOK)
	got := DecodeJSON[map[string]int](t, rec)
	if got["tick"] != 3 {
		t.Errorf("tick = %d, want 3", got["tick"])
	}
}

func TestDoUsesMethod(t *testing.T) {
	t.Parallel()

	var method string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { method = r.Method })
	Do(t, h, http.MethodDelete, "/")
	if method != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", method)
	}
}

func TestAssertJSONError(t *testing.T) {
	t.Parallel()

	rec := Get(t, jsonHandler(http.StatusNotFound, map[string]string{"error": "nope"}), "/")
	if msg := AssertJSONError(t, rec, http.StatusNotFound); msg != "nope" {
		t.Errorf("message = %q, want %q", msg, "nope")
	}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"draftr/internal/platform/config"
)

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
}

func TestClient_Complete(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "hello")
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL, APIKey: "key", Model: "m"})
	got, err := c.Complete(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestClient_ExtractJSON(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "```json\n{\"company_name\":\"Acme\"}\n```")
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL, APIKey: "key", Model: "m"})
	var out struct {
		CompanyName string `json:"company_name"`
	}
	if err := c.ExtractJSON(context.Background(), "sys", "prompt", &out); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.CompanyName != "Acme" {
		t.Errorf("got %q", out.CompanyName)
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := completionServer(t, http.StatusServiceUnavailable, "")
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL, APIKey: "key", Model: "m"})
	_, err := c.Complete(context.Background(), "sys", "prompt")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !statusErr.Temporary() {
		t.Error("503 should be temporary")
	}
}

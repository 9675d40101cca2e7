package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newTestClient(t *testing.T, server *httptest.Server, buf *bytes.Buffer) *Client {
	t.Helper()
	return NewClient(server.Client(), newTestLogger(buf), Config{
		APIKey:  "test-key",
		Model:   "gemini-1.5-flash",
		BaseURL: server.URL + "/v1",
	})
}

func TestNewClient_BuildsEndpoint(t *testing.T) {
	c := NewClient(nil, nil, Config{APIKey: "k"})
	want := "https://generativelanguage.googleapis.com/v1/models/gemini-1.5-flash:generateContent"
	if c.endpoint != want {
		t.Errorf("endpoint = %q, want %q", c.endpoint, want)
	}

	c = NewClient(nil, nil, Config{APIKey: "k", Model: "gemini-2.0-flash", BaseURL: "http://localhost:9999/v1beta/"})
	want = "http://localhost:9999/v1beta/models/gemini-2.0-flash:generateContent"
	if c.endpoint != want {
		t.Errorf("endpoint = %q, want %q", c.endpoint, want)
	}
}

func TestClient_GenerateContent_ReturnsFirstCandidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q, want test-key", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}

		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if len(body.Contents) != 1 || len(body.Contents[0].Parts) != 1 || body.Contents[0].Parts[0].Text != "hello prompt" {
			t.Errorf("unexpected request body: %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"the answer"},{"text":"ignored"}]}},{"content":{"parts":[{"text":"second"}]}}]}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	answer, err := newTestClient(t, server, &buf).GenerateContent(context.Background(), "hello prompt")
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}
	if answer != "the answer" {
		t.Errorf("answer = %q, want %q", answer, "the answer")
	}
}

func TestClient_GenerateContent_NoCandidates_ReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	answer, err := newTestClient(t, server, &buf).GenerateContent(context.Background(), "p")
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}
	if answer != "" {
		t.Errorf("answer = %q, want empty", answer)
	}
}

func TestClient_GenerateContent_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	_, err := newTestClient(t, server, &buf).GenerateContent(context.Background(), "p")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", statusErr.StatusCode)
	}
	if !strings.Contains(buf.String(), "gemini returned error status") {
		t.Errorf("expected error log, got %s", buf.String())
	}
}

func TestClient_GenerateContent_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	if _, err := newTestClient(t, server, &buf).GenerateContent(context.Background(), "p"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestClient_GenerateContent_TransportErrorDoesNotLeakKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	var buf bytes.Buffer
	c := newTestClient(t, server, &buf)
	server.Close()

	_, err := c.GenerateContent(context.Background(), "p")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Errorf("error leaks API key: %v", err)
	}
	if strings.Contains(buf.String(), "test-key") {
		t.Errorf("log leaks API key: %s", buf.String())
	}
}

func TestClient_GenerateContent_HonorsContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	if _, err := newTestClient(t, server, &buf).GenerateContent(ctx, "p"); err == nil {
		t.Fatal("expected error after context deadline")
	}
}

package llmclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"modelgate/internal/core"
)

func fastConfig(baseURL string) Config {
	cfg := DefaultConfig("chat_completions", baseURL)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestDoRawRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(fastConfig(server.URL), nil)
	resp, err := c.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"})
	if err != nil {
		t.Fatalf("DoRaw() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}

func TestDoRawNoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer server.Close()

	c := New(fastConfig(server.URL), nil)
	_, err := c.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"})
	if err == nil {
		t.Fatal("DoRaw() error = nil, want protocol error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1: 4xx must not retry", got)
	}

	var ge *core.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("error type = %T", err)
	}
	if ge.Type != core.ErrorTypeUpstreamProtocol {
		t.Errorf("Type = %q", ge.Type)
	}
	if ge.Message != "bad request" {
		t.Errorf("Message = %q, upstream envelope must pass through", ge.Message)
	}
}

func TestDoRawExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastConfig(server.URL)
	cfg.MaxRetries = 2
	c := New(cfg, nil)

	_, err := c.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"})
	if err == nil {
		t.Fatal("DoRaw() error = nil, want failure after retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestDoStreamNoRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	c := New(fastConfig(server.URL), nil)
	_, err := c.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/", Body: map[string]string{"x": "y"}})
	if err == nil {
		t.Fatal("DoStream() error = nil, want failure")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1: streaming must never retry", got)
	}
}

func TestDoStreamReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"x\":1}\n\n"))
	}))
	defer server.Close()

	c := New(fastConfig(server.URL), nil)
	body, err := c.DoStream(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"})
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "data: {\"x\":1}\n\n" {
		t.Errorf("body = %q", data)
	}
}

func TestBearerAuthHeaders(t *testing.T) {
	var gotAuth, gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(fastConfig(server.URL), BearerAuth("sk-test"))
	ctx := core.WithCorrelationID(context.Background(), "corr-42")
	if _, err := c.DoRaw(ctx, Request{Method: http.MethodGet, Endpoint: "/"}); err != nil {
		t.Fatalf("DoRaw() error = %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotRequestID != "corr-42" {
		t.Errorf("X-Request-ID = %q", gotRequestID)
	}
}

func TestBearerAuthEmptyKey(t *testing.T) {
	var sawAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(fastConfig(server.URL), BearerAuth(""))
	if _, err := c.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"}); err != nil {
		t.Fatalf("DoRaw() error = %v", err)
	}
	if sawAuth {
		t.Error("Authorization header set for local binding without key")
	}
}

func TestDoUnmarshalsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":"hello","n":3}`))
	}))
	defer server.Close()

	c := New(fastConfig(server.URL), nil)
	var out struct {
		Value string `json:"value"`
		N     int    `json:"n"`
	}
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"}, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if out.Value != "hello" || out.N != 3 {
		t.Errorf("out = %+v", out)
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	cfg := DefaultConfig("x", "http://example.com")
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = 3 * time.Second
	c := New(cfg, nil)

	if got := c.calculateBackoff(1); got != time.Second {
		t.Errorf("backoff(1) = %v, want 1s", got)
	}
	if got := c.calculateBackoff(2); got != 2*time.Second {
		t.Errorf("backoff(2) = %v, want 2s", got)
	}
	if got := c.calculateBackoff(10); got != 3*time.Second {
		t.Errorf("backoff(10) = %v, want cap of 3s", got)
	}
}

package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoPostHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newOpenAICompatClient(Config{Provider: "custom", Model: "m", BaseURL: srv.URL})

	start := time.Now()
	if _, err := c.doPost(context.Background(), "/chat/completions", map[string]string{}); err != nil {
		t.Fatalf("doPost after rate limit: %v", err)
	}
	elapsed := time.Since(start)

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
	// Retry-After asked for 3s, more than the default pause.
	if elapsed < 3*time.Second {
		t.Errorf("retry waited %v, want at least the Retry-After delay", elapsed)
	}
}

func TestDoPostRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newOpenAICompatClient(Config{Provider: "custom", Model: "m", BaseURL: srv.URL})

	_, err := c.doPost(context.Background(), "/chat/completions", map[string]string{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != maxRetries+1 {
		t.Errorf("expected %d requests, got %d", maxRetries+1, got)
	}
}

func TestDoPostNoRetryOnPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newOpenAICompatClient(Config{Provider: "custom", Model: "m", BaseURL: srv.URL})

	_, err := c.doPost(context.Background(), "/chat/completions", map[string]string{})
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 request for a permanent failure, got %d", got)
	}
}

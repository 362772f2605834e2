package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/config"
)

func testConfig(srv *httptest.Server) config.LLM {
	return config.LLM{
		APIKey:                 "test-key",
		Provider:               "openai",
		Model:                  "gpt-4o-mini",
		MaxRequestsPerMinute:   60,
		MaxConcurrentRequests:  10,
		RateLimitRetryAttempts: 5,
		BaseDelay:              10 * time.Millisecond,
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
}

func TestCompleteHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(okHandler))
	defer srv.Close()

	c := New(testConfig(srv))
	c.http = srv.Client()
	overrideBaseURL(t, c, srv.URL)

	res, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "hi" {
		t.Errorf("got content %q", res.Content)
	}
}

func TestConcurrencyNeverExceedsCap(t *testing.T) {
	var inFlight int32
	var maxSeen int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		okHandler(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(srv)
	cfg.MaxConcurrentRequests = 3
	cfg.MaxRequestsPerMinute = 1000
	c := New(cfg)
	c.http = srv.Client()
	overrideBaseURL(t, c, srv.URL)

	done := make(chan struct{}, 12)
	for i := 0; i < 12; i++ {
		go func() {
			_, _ = c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 12; i++ {
		<-done
	}

	if atomic.LoadInt32(&maxSeen) > 3 {
		t.Errorf("concurrent in-flight exceeded cap: saw %d", maxSeen)
	}
}

func TestRetryAfterHonored(t *testing.T) {
	var calls int32
	var firstCallAt time.Time
	var secondCallAt time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			firstCallAt = time.Now()
			w.Header().Set("retry-after", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		secondCallAt = time.Now()
		okHandler(w, r)
	}))
	defer srv.Close()

	c := New(testConfig(srv))
	c.http = srv.Client()
	overrideBaseURL(t, c, srv.URL)

	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondCallAt.Sub(firstCallAt) < time.Second {
		t.Errorf("retry-after not honored: gap was %v", secondCallAt.Sub(firstCallAt))
	}
}

func overrideBaseURL(t *testing.T, c *Client, url string) {
	t.Helper()
	c.baseURLOverride = url
}

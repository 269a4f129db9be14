package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbsparrow/cyberdrop-dl/internal/cache"
	"github.com/jbsparrow/cyberdrop-dl/internal/cookies"
	"github.com/jbsparrow/cyberdrop-dl/internal/rate"
)

func testGovernor() *rate.Governor {
	return rate.New(rate.Config{
		DefaultRate: rate.HostRate{Capacity: 1000, Period: time.Second},
	}, nil)
}

func testCache(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestClient(t *testing.T, cfg Config, store *cache.Store, solver Solver) *Client {
	t.Helper()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "test-agent"
	}
	c, err := New(cfg, testGovernor(), store, cookies.NewJar(), solver, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Keep retry waits short for tests.
	c.retry.BaseDelay = 5 * time.Millisecond
	c.retry.MaxDelay = 20 * time.Millisecond
	return c
}

func TestGetServesFromCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>page</html>")
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Attempts: 1}, testCache(t), nil)

	first, err := c.Get(context.Background(), srv.URL+"/p", nil)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if first.FromCache {
		t.Fatal("first response claims to be cached")
	}

	second, err := c.Get(context.Background(), srv.URL+"/p", nil)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second response not served from cache")
	}
	if string(second.Body) != "<html>page</html>" {
		t.Fatalf("cached body = %q", second.Body)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("server hit %d times, want 1", n)
	}
}

func TestGetBustDropsCachedEntry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		io.WriteString(w, "fresh")
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Attempts: 1}, testCache(t), nil)
	if _, err := c.Get(context.Background(), srv.URL+"/p", nil); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if _, err := c.Get(context.Background(), srv.URL+"/p", &Options{Bust: true}); err != nil {
		t.Fatalf("bust: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("server hit %d times, want 2", n)
	}
}

func TestNotFoundCachedAndNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Attempts: 5}, testCache(t), nil)

	resp, err := c.Get(context.Background(), srv.URL+"/gone", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
	if resp == nil || resp.Status != 404 {
		t.Fatalf("response not returned alongside the error: %+v", resp)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("404 retried: server hit %d times", n)
	}

	// The negative result is served from cache on the next attempt.
	resp, err = c.Get(context.Background(), srv.URL+"/gone", nil)
	if !errors.As(err, &se) || !resp.FromCache {
		t.Fatalf("cached 404 = %+v, %v", resp, err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("cached 404 still hit the server: %d", n)
	}
}

func TestTransientErrorRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "recovered")
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Attempts: 3}, nil, nil)
	resp, err := c.Get(context.Background(), srv.URL+"/flaky", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "recovered" {
		t.Fatalf("body = %q", resp.Body)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("server hit %d times, want 2", n)
	}
}

type fakeSolver struct {
	calls    int32
	solution *Solution
	err      error
}

func (f *fakeSolver) Solve(ctx context.Context, rawurl string) (*Solution, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.solution, f.err
}

const challengePage = `<html><head><title>Just a moment...</title></head></html>`

func TestChallengeSolvedWithContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, challengePage)
	}))
	defer srv.Close()

	solver := &fakeSolver{solution: &Solution{
		Status:    200,
		Content:   []byte("<html>real page</html>"),
		UserAgent: "test-agent",
		Cookies:   []cookies.Cookie{{Name: "cf_clearance", Value: "tok", Domain: "127.0.0.1", Path: "/"}},
	}}
	c := newTestClient(t, Config{Attempts: 1}, nil, solver)

	resp, err := c.Get(context.Background(), srv.URL+"/p", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "<html>real page</html>" {
		t.Fatalf("body = %q, want solver content", resp.Body)
	}
	if atomic.LoadInt32(&solver.calls) != 1 {
		t.Fatalf("solver called %d times, want 1", solver.calls)
	}
}

func TestChallengeSolvedCookiesOnlyRefetches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			io.WriteString(w, challengePage)
			return
		}
		if _, err := r.Cookie("cf_clearance"); err != nil {
			t.Error("refetch missing solver cookie")
		}
		io.WriteString(w, "cleared")
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	host := u.Hostname()

	// The solver worked but under a different user agent: install the
	// cookies and let the client re-fetch the original URL itself.
	solver := &fakeSolver{solution: &Solution{
		Status:    200,
		Content:   []byte("<html>someone else's view</html>"),
		UserAgent: "other-agent",
		Cookies:   []cookies.Cookie{{Name: "cf_clearance", Value: "tok", Domain: host, Path: "/"}},
	}}
	c := newTestClient(t, Config{Attempts: 1}, nil, solver)

	resp, err := c.Get(context.Background(), srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "cleared" {
		t.Fatalf("body = %q, want refetched content", resp.Body)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("server hit %d times, want 2", n)
	}
}

func TestChallengeStillBlockedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, challengePage)
	}))
	defer srv.Close()

	solver := &fakeSolver{solution: &Solution{
		Status:    403,
		Content:   []byte(challengePage),
		UserAgent: "other-agent",
	}}
	c := newTestClient(t, Config{Attempts: 5}, nil, solver)

	_, err := c.Get(context.Background(), srv.URL+"/p", nil)
	if !errors.Is(err, ErrChallengeFailed) {
		t.Fatalf("err = %v, want ErrChallengeFailed", err)
	}
	if atomic.LoadInt32(&solver.calls) != 1 {
		t.Fatalf("solver called %d times, want 1", solver.calls)
	}
}

func TestChallengeWithoutSolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, challengePage)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Attempts: 1}, nil, nil)
	if _, err := c.Get(context.Background(), srv.URL+"/p", nil); !errors.Is(err, ErrSolverUnavailable) {
		t.Fatalf("err = %v, want ErrSolverUnavailable", err)
	}
}

func TestChallengePageNeverCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, challengePage)
	}))
	defer srv.Close()

	store := testCache(t)
	solver := &fakeSolver{err: errors.New("solver down")}
	c := newTestClient(t, Config{Attempts: 1}, store, solver)
	c.Get(context.Background(), srv.URL+"/p", nil)

	if e, _ := store.Get("GET", srv.URL+"/p"); e != nil {
		t.Fatal("challenge page landed in the cache")
	}
}

func TestHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "scraper-ua" {
			t.Errorf("user agent = %q", got)
		}
		if got := r.Header.Get("Referer"); got != "https://ref.example/album" {
			t.Errorf("referer = %q", got)
		}
		if got := r.Header.Get("X-Custom"); got != "yes" {
			t.Errorf("custom header = %q", got)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Attempts: 1}, nil, nil)
	_, err := c.Get(context.Background(), srv.URL+"/p", &Options{
		UserAgent: "scraper-ua",
		Referer:   "https://ref.example/album",
		Headers:   map[string]string{"X-Custom": "yes"},
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestStreamBypassesBuffering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "bytes=100-" {
			t.Errorf("range header = %q", got)
		}
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "chunk")
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Attempts: 1}, nil, nil)
	res, err := c.Stream(context.Background(), srv.URL+"/f", &Options{
		Headers: map[string]string{"Range": "bytes=100-"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if string(b) != "chunk" {
		t.Fatalf("body = %q", b)
	}
}

func TestRejectsBadURLs(t *testing.T) {
	c := newTestClient(t, Config{Attempts: 1}, nil, nil)
	for _, bad := range []string{"ftp://host/x", "://broken"} {
		if _, err := c.Get(context.Background(), bad, nil); err == nil {
			t.Errorf("Get(%q) accepted invalid URL", bad)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryFatal},
		{"canceled", context.Canceled, ErrCategoryFatal},
		{"404", &StatusError{Code: 404}, ErrCategoryFatal},
		{"403", &StatusError{Code: 403}, ErrCategoryFatal},
		{"408", &StatusError{Code: 408}, ErrCategoryRetryable},
		{"429", &StatusError{Code: 429}, ErrCategoryThrottled},
		{"500", &StatusError{Code: 500}, ErrCategoryRetryable},
		{"503", &StatusError{Code: 503}, ErrCategoryRetryable},
		{"521", &StatusError{Code: 521}, ErrCategoryThrottled},
		{"eof", io.EOF, ErrCategoryRetryable},
		{"unexpected eof", io.ErrUnexpectedEOF, ErrCategoryRetryable},
		{"reset string", errors.New("read tcp: connection reset by peer"), ErrCategoryRetryable},
		{"throttle string", errors.New("server said: rate limit exceeded"), ErrCategoryThrottled},
		{"unknown", errors.New("something odd"), ErrCategoryFatal},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("%s: ClassifyError = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLooksChallenged(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"fingerprint any status", 200, challengePage, true},
		{"ddos guard", 200, `<html><title>DDOS-GUARD</title></html>`, true},
		{"503 html", 503, `<!DOCTYPE html><html>busy</html>`, true},
		{"503 api error", 503, `{"error":"maintenance"}`, false},
		{"plain page", 200, `<html>content</html>`, false},
		{"plain 404", 404, `not found`, false},
	}
	for _, tt := range tests {
		if got := looksChallenged(tt.status, []byte(tt.body)); got != tt.want {
			t.Errorf("%s: looksChallenged = %v, want %v", tt.name, got, tt.want)
		}
	}
}

package servly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testService(t *testing.T, gateway string, mutate func(*Config), opts ...Option) *Service {
	t.Helper()
	cfg := Config{
		Gateway: gateway,
		Service: "users",
		Version: "v1",
		Refresh: RefreshConfig{Endpoint: "/auth/refresh"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestTokenAttachedToRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/v1/me" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": "ada"})
	}))
	defer srv.Close()

	s := testService(t, srv.URL, nil)
	if err := s.SetTokens(Tokens{AccessToken: "tok-1"}); err != nil {
		t.Fatal(err)
	}

	var out struct{ Name string }
	if err := s.Get(context.Background(), "me").Unmarshal(&out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "ada" {
		t.Fatalf("name = %q", out.Name)
	}
}

func TestPublicRequestCarriesNoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("public request carried authorization %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := testService(t, srv.URL, nil)
	if err := s.SetTokens(Tokens{AccessToken: "tok-1"}); err != nil {
		t.Fatal(err)
	}
	s.MarkPublic("login")

	if err := s.Get(context.Background(), "login").Err(); err != nil {
		t.Fatal(err)
	}
	// The per-request marker works without prior registration.
	if err := s.Post(context.Background(), "register", map[string]string{"u": "ada"}, Public()).Err(); err != nil {
		t.Fatal(err)
	}
}

func TestMockModeServesWithoutNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("mocked request reached the network")
	}))
	defer srv.Close()

	s := testService(t, srv.URL, func(c *Config) { c.Mock.Enabled = true })
	if err := s.RegisterMockJSON(http.MethodGet, "me", http.StatusOK, map[string]string{"name": "mocked"}); err != nil {
		t.Fatal(err)
	}

	res := s.Get(context.Background(), "me")
	if res.StatusCode() != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode())
	}
	var out struct{ Name string }
	if err := res.Unmarshal(&out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "mocked" {
		t.Fatalf("name = %q", out.Name)
	}
}

func TestMockMatchesWithGatewayBasePath(t *testing.T) {
	s := testService(t, "https://host.invalid/api", func(c *Config) {
		c.Mock.Enabled = true
		c.Mock.Strict = true
	})
	if err := s.RegisterMockJSON(http.MethodGet, "me", http.StatusOK, map[string]string{"name": "mocked"}); err != nil {
		t.Fatal(err)
	}

	var out struct{ Name string }
	if err := s.Get(context.Background(), "me").Unmarshal(&out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "mocked" {
		t.Fatalf("name = %q", out.Name)
	}
}

func TestStrictMockModeRejectsUnmatched(t *testing.T) {
	s := testService(t, "https://api.invalid", func(c *Config) {
		c.Mock.Enabled = true
		c.Mock.Strict = true
	})
	err := s.Get(context.Background(), "me").Err()
	if !errors.Is(err, ErrMockUnmatched) {
		t.Fatalf("err = %v, want ErrMockUnmatched", err)
	}
}

func TestMockModePassthroughWhenNotStrict(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := testService(t, srv.URL, func(c *Config) { c.Mock.Enabled = true })
	if err := s.Get(context.Background(), "unmocked").Err(); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("network hits = %d", hits.Load())
	}
}

// refreshBackend is a test server whose protected endpoint accepts only the
// most recently issued access token.
type refreshBackend struct {
	mu           sync.Mutex
	current      string
	refreshCalls atomic.Int32
	apiCalls     atomic.Int32
	refreshDelay time.Duration
	rotate       func(n int32) (access string, status int)
}

func newRefreshBackend(initial string) *refreshBackend {
	b := &refreshBackend{current: initial}
	b.rotate = func(n int32) (string, int) { return "fresh-token", http.StatusOK }
	return b
}

func (b *refreshBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		n := b.refreshCalls.Add(1)
		if b.refreshDelay > 0 {
			time.Sleep(b.refreshDelay)
		}
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		access, status := b.rotate(n)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		b.mu.Lock()
		b.current = access
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  access,
			"refresh_token": "rt-rotated",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/users/v1/me", func(w http.ResponseWriter, r *http.Request) {
		b.apiCalls.Add(1)
		b.mu.Lock()
		want := "Bearer " + b.current
		b.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": "ada"})
	})
	return mux
}

func TestUnauthorizedTriggersRefreshAndReplay(t *testing.T) {
	backend := newRefreshBackend("fresh-token")
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	s := testService(t, srv.URL, nil)
	if err := s.SetTokens(Tokens{AccessToken: "stale-token", RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}

	res := s.Get(context.Background(), "me")
	if err := res.Err(); err != nil {
		t.Fatal(err)
	}
	if res.StatusCode() != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode())
	}
	if n := backend.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}

	toks, ok, err := s.Tokens()
	if err != nil || !ok {
		t.Fatalf("tokens after refresh: ok=%v err=%v", ok, err)
	}
	if toks.AccessToken != "fresh-token" || toks.RefreshToken != "rt-rotated" {
		t.Fatalf("stored tokens = %+v", toks)
	}
}

func TestConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	backend := newRefreshBackend("fresh-token")
	backend.refreshDelay = 75 * time.Millisecond
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	s := testService(t, srv.URL, nil)
	if err := s.SetTokens(Tokens{AccessToken: "stale-token", RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}

	const workers = 20
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Get(context.Background(), "me").Err()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := backend.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
}

func TestFailedRefreshReturnsSessionExpired(t *testing.T) {
	backend := newRefreshBackend("unreachable")
	backend.rotate = func(int32) (string, int) { return "", http.StatusForbidden }
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	var logouts atomic.Int32
	s := testService(t, srv.URL, nil, WithOnLogout(func() { logouts.Add(1) }))
	if err := s.SetTokens(Tokens{AccessToken: "stale-token", RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}

	err := s.Get(context.Background(), "me").Err()
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("err = %v, want ErrRefreshRejected cause", err)
	}
	if n := logouts.Load(); n != 1 {
		t.Fatalf("logout callbacks = %d, want 1", n)
	}
	if _, ok, _ := s.Tokens(); ok {
		t.Fatal("tokens survived a rejected refresh")
	}
}

func TestMissingRefreshTokenFailsFast(t *testing.T) {
	backend := newRefreshBackend("fresh-token")
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	s := testService(t, srv.URL, nil)
	if err := s.SetTokens(Tokens{AccessToken: "stale-token"}); err != nil {
		t.Fatal(err)
	}

	err := s.Get(context.Background(), "me").Err()
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("err = %v", err)
	}
	if n := backend.refreshCalls.Load(); n != 0 {
		t.Fatalf("refresh endpoint hit %d times without a refresh token", n)
	}
}

func TestReplayBoundStopsRefreshLoop(t *testing.T) {
	backend := newRefreshBackend("never-issued")
	// Each refresh succeeds but issues a token the API keeps rejecting.
	backend.rotate = func(n int32) (string, int) { return "still-wrong", http.StatusOK }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			backend.handler().ServeHTTP(w, r)
			return
		}
		backend.apiCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := testService(t, srv.URL, nil)
	if err := s.SetTokens(Tokens{AccessToken: "stale-token", RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}

	res := s.Get(context.Background(), "me")
	if err := res.Err(); err != nil {
		t.Fatal(err)
	}
	if res.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("status = %d, want the final 401 surfaced", res.StatusCode())
	}
	if n := backend.apiCalls.Load(); n != 2 {
		t.Fatalf("api calls = %d, want initial plus one replay", n)
	}
	if n := backend.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
}

func TestProactiveRefreshBeforeExpiry(t *testing.T) {
	backend := newRefreshBackend("fresh-token")
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	s := testService(t, srv.URL, func(c *Config) {
		c.Refresh.ProactiveWindow = time.Hour
	})
	err := s.SetTokens(Tokens{
		AccessToken:  "nearly-expired",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Get(context.Background(), "me").Err(); err != nil {
		t.Fatal(err)
	}
	if n := backend.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if n := backend.apiCalls.Load(); n != 1 {
		t.Fatalf("api calls = %d, want the fresh token on the first try", n)
	}
}

func TestForceRefresh(t *testing.T) {
	backend := newRefreshBackend("fresh-token")
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	s := testService(t, srv.URL, nil)
	if err := s.SetTokens(Tokens{AccessToken: "old", RefreshToken: "rt-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ForceRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	toks, _, err := s.Tokens()
	if err != nil {
		t.Fatal(err)
	}
	if toks.AccessToken != "fresh-token" {
		t.Fatalf("access = %q", toks.AccessToken)
	}
}

func TestAuthNoneNeverReadsStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("authorization = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := testService(t, srv.URL, func(c *Config) { c.Auth.Scheme = AuthNone })
	if err := s.SetTokens(Tokens{AccessToken: "tok"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Get(context.Background(), "me").Err(); err != nil {
		t.Fatal(err)
	}
}

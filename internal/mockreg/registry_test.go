package mockreg

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newReq(t *testing.T, method, target string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, target, nil)
}

func TestExactMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(http.MethodGet, "/users/1", Response{Status: 200, Body: []byte(`{"id":1}`)})

	res, ok, err := r.Serve(newReq(t, http.MethodGet, "http://gw/users/1"))
	if err != nil || !ok {
		t.Fatalf("serve: ok=%v err=%v", ok, err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != `{"id":1}` {
		t.Errorf("body = %s", body)
	}

	if _, ok, _ := r.Serve(newReq(t, http.MethodDelete, "http://gw/users/1")); ok {
		t.Error("DELETE should not match a GET registration")
	}
}

func TestWildcardMethod(t *testing.T) {
	r := NewRegistry()
	r.Register(AnyMethod, "/ping", Response{Status: 204})

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		res, ok, err := r.Serve(newReq(t, m, "http://gw/ping"))
		if err != nil || !ok {
			t.Fatalf("%s /ping: ok=%v err=%v", m, ok, err)
		}
		res.Body.Close()
		if res.StatusCode != 204 {
			t.Errorf("%s status = %d", m, res.StatusCode)
		}
	}
}

func TestPrefixPatterns(t *testing.T) {
	r := NewRegistry()
	r.Register(http.MethodGet, "/files/*", Response{Status: 200, Body: []byte("any file")})
	r.Register(http.MethodGet, "/files/private/*", Response{Status: 403, Body: []byte("denied")})

	res, ok, _ := r.Serve(newReq(t, http.MethodGet, "http://gw/files/a/b.txt"))
	if !ok {
		t.Fatal("expected prefix match")
	}
	res.Body.Close()
	if res.StatusCode != 200 {
		t.Errorf("generic prefix status = %d", res.StatusCode)
	}

	// The longer prefix must win.
	res, ok, _ = r.Serve(newReq(t, http.MethodGet, "http://gw/files/private/x"))
	if !ok {
		t.Fatal("expected prefix match")
	}
	res.Body.Close()
	if res.StatusCode != 403 {
		t.Errorf("specific prefix status = %d, want 403", res.StatusCode)
	}
}

func TestUnregisterAndReset(t *testing.T) {
	r := NewRegistry()
	r.Register(http.MethodGet, "/a", Response{Status: 200})
	r.Register(http.MethodGet, "/b/*", Response{Status: 200})

	r.Unregister(http.MethodGet, "/a")
	if _, ok := r.Match(http.MethodGet, "/a"); ok {
		t.Error("unregistered exact path still matches")
	}

	r.Reset()
	if _, ok := r.Match(http.MethodGet, "/b/anything"); ok {
		t.Error("reset registry still matches")
	}
}

func TestDelayHonorsContext(t *testing.T) {
	r := NewRegistry()
	r.Register(http.MethodGet, "/slow", Response{Status: 200, Delay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "http://gw/slow", nil).WithContext(ctx)

	_, ok, err := r.Serve(req)
	if !ok {
		t.Fatal("expected a match")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestResponderFunc(t *testing.T) {
	r := NewRegistry()
	r.RegisterResponder(http.MethodGet, "/echo", ResponderFunc(func(req *http.Request) (Response, error) {
		return Response{Status: 200, Body: []byte(req.URL.Query().Get("msg"))}, nil
	}))

	res, ok, err := r.Serve(newReq(t, http.MethodGet, "http://gw/echo?msg=hello"))
	if err != nil || !ok {
		t.Fatalf("serve: ok=%v err=%v", ok, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q, want hello", body)
	}
}

func TestPathNormalisation(t *testing.T) {
	r := NewRegistry()
	r.Register(http.MethodGet, "users", Response{Status: 200})

	if _, ok := r.Match(http.MethodGet, "/users/"); !ok {
		t.Error("trailing-slash path should match slash-less registration")
	}
}

func TestServeDefaultsStatus(t *testing.T) {
	r := NewRegistry()
	r.Register(http.MethodGet, "/ok", Response{Body: []byte("x")})

	res, _, err := r.Serve(newReq(t, http.MethodGet, "http://gw/ok"))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("zero status should default to 200, got %d", res.StatusCode)
	}
	if !strings.HasPrefix(res.Status, "200") {
		t.Errorf("status line = %q", res.Status)
	}
}

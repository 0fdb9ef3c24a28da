// Package mockreg matches requests against registered canned responses so a
// client can run in mock mode without touching the network.
//
// Lookup order for a request: exact method+path, wildcard method+path, then
// the longest registered prefix pattern (a path ending in "/*").
package mockreg

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// AnyMethod matches every HTTP method for a registered path.
const AnyMethod = "*"

// Response describes a canned mock response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// Delay is applied before the response is returned, honoring the
	// request context.
	Delay time.Duration
}

// Responder computes a mock response for a request. Implementations must be
// safe for concurrent use.
type Responder interface {
	Respond(req *http.Request) (Response, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(req *http.Request) (Response, error)

func (f ResponderFunc) Respond(req *http.Request) (Response, error) { return f(req) }

type staticResponder struct{ res Response }

func (s staticResponder) Respond(*http.Request) (Response, error) { return s.res, nil }

// Registry stores mock registrations. Safe for concurrent use.
type Registry struct {
	exact    *xsync.MapOf[string, Responder]
	prefixes *xsync.MapOf[string, Responder]
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    xsync.NewMapOf[string, Responder](),
		prefixes: xsync.NewMapOf[string, Responder](),
	}
}

// Register records a static response for method+path. A path ending in "/*"
// registers a prefix pattern. Method AnyMethod matches all methods.
func (r *Registry) Register(method, path string, res Response) {
	r.RegisterResponder(method, path, staticResponder{res: res})
}

// RegisterResponder records a dynamic responder for method+path.
func (r *Registry) RegisterResponder(method, path string, responder Responder) {
	method = normalizeMethod(method)
	if prefix, ok := strings.CutSuffix(path, "/*"); ok {
		r.prefixes.Store(patternKey(method, normalizePath(prefix)), responder)
		return
	}
	r.exact.Store(patternKey(method, normalizePath(path)), responder)
}

// Unregister removes a registration; it accepts the same path forms as
// Register.
func (r *Registry) Unregister(method, path string) {
	method = normalizeMethod(method)
	if prefix, ok := strings.CutSuffix(path, "/*"); ok {
		r.prefixes.Delete(patternKey(method, normalizePath(prefix)))
		return
	}
	r.exact.Delete(patternKey(method, normalizePath(path)))
}

// Reset drops all registrations.
func (r *Registry) Reset() {
	r.exact.Clear()
	r.prefixes.Clear()
}

// Match finds the responder for method+path, if any.
func (r *Registry) Match(method, path string) (Responder, bool) {
	method = normalizeMethod(method)
	path = normalizePath(path)

	if res, ok := r.exact.Load(patternKey(method, path)); ok {
		return res, true
	}
	if res, ok := r.exact.Load(patternKey(AnyMethod, path)); ok {
		return res, true
	}

	var best Responder
	bestLen := -1
	r.prefixes.Range(func(key string, res Responder) bool {
		m, prefix := splitPatternKey(key)
		if m != method && m != AnyMethod {
			return true
		}
		if prefix != "" && !strings.HasPrefix(path, prefix) {
			return true
		}
		// Prefer the most specific prefix; on a tie, an exact-method
		// registration beats a wildcard one.
		if len(prefix) > bestLen || (len(prefix) == bestLen && m == method) {
			best = res
			bestLen = len(prefix)
		}
		return true
	})
	if best != nil {
		return best, true
	}
	return nil, false
}

// Serve resolves the request against the registry and builds an
// *http.Response. The second return is false when no registration matched.
func (r *Registry) Serve(req *http.Request) (*http.Response, bool, error) {
	responder, ok := r.Match(req.Method, req.URL.Path)
	if !ok {
		return nil, false, nil
	}
	res, err := responder.Respond(req)
	if err != nil {
		return nil, true, fmt.Errorf("mock responder: %w", err)
	}
	if res.Delay > 0 {
		select {
		case <-time.After(res.Delay):
		case <-req.Context().Done():
			return nil, true, req.Context().Err()
		}
	}
	if res.Status == 0 {
		res.Status = http.StatusOK
	}
	header := http.Header{}
	for k, vs := range res.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", res.Status, http.StatusText(res.Status)),
		StatusCode:    res.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(res.Body)),
		ContentLength: int64(len(res.Body)),
		Request:       req,
	}, true, nil
}

func normalizeMethod(m string) string {
	if m == "" {
		return AnyMethod
	}
	return strings.ToUpper(m)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func patternKey(method, path string) string { return method + " " + path }

func splitPatternKey(key string) (method, path string) {
	method, path, _ = strings.Cut(key, " ")
	return method, path
}

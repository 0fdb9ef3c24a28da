// Package endpoints tracks which service endpoints are public, meaning the
// client must not attach credentials and must not attempt a token refresh
// for them.
package endpoints

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// Wildcard marks every endpoint of a service as public.
const Wildcard = "*"

// Registry holds public-endpoint markers. Safe for concurrent use.
type Registry struct {
	marks *xsync.MapOf[string, struct{}]
}

func NewRegistry() *Registry {
	return &Registry{marks: xsync.NewMapOf[string, struct{}]()}
}

// MarkPublic records the given endpoints of service as public. Passing
// Wildcard (or no endpoints) marks the whole service public.
func (r *Registry) MarkPublic(service string, eps ...string) {
	if len(eps) == 0 {
		eps = []string{Wildcard}
	}
	for _, ep := range eps {
		r.marks.Store(key(service, ep), struct{}{})
	}
}

// Unmark removes a previously recorded marker.
func (r *Registry) Unmark(service, endpoint string) {
	r.marks.Delete(key(service, endpoint))
}

// IsPublic reports whether the endpoint (or its whole service) is marked.
func (r *Registry) IsPublic(service, endpoint string) bool {
	if _, ok := r.marks.Load(key(service, Wildcard)); ok {
		return true
	}
	_, ok := r.marks.Load(key(service, endpoint))
	return ok
}

func key(service, endpoint string) string {
	return service + "\x00" + strings.Trim(endpoint, "/")
}

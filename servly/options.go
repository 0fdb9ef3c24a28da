package servly

import (
	"log/slog"
	"net/http"
	"time"
)

// Doer dispatches a single HTTP request. *http.Client satisfies it, as do
// the transport adapters under adapters/.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenStore abstracts token persistence for WithTokenStore. Implementations
// must be safe for concurrent use; Load returns ok=false when nothing is
// stored.
type TokenStore interface {
	Load() (Tokens, bool, error)
	Save(Tokens) error
	Clear() error
}

// RetryConfig parameterises the retrying transport enabled by WithRetry.
type RetryConfig struct {
	Max     int
	WaitMin time.Duration
	WaitMax time.Duration
}

type Option func(*Service)

// WithHTTPClient replaces the default underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpc = c
			s.doer = c
		}
	}
}

// WithDoer replaces the transport entirely, e.g. with the fasthttp adapter.
func WithDoer(d Doer) Option {
	return func(s *Service) {
		if d != nil {
			s.doer = d
		}
	}
}

// WithTokenStore overrides the storage configured in Config.Storage.
func WithTokenStore(store TokenStore) Option {
	return func(s *Service) {
		if store != nil {
			s.store = storeBridge{store}
		}
	}
}

// WithLogger enables structured logging. The default logger discards
// everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics installs a metrics collector. The default collector discards
// all events.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRetry dispatches through a retrying transport for transient transport
// and 5xx failures. Auth statuses are handled by the refresh flow, never by
// retries.
func WithRetry(rc RetryConfig) Option {
	return func(s *Service) {
		s.retry = &rc
	}
}

// WithOnLogout registers a callback invoked once whenever the session
// definitively ends: a rejected refresh or a refresh attempt without a
// refresh token.
func WithOnLogout(fn func()) Option {
	return func(s *Service) {
		s.onLogout = fn
	}
}

package servly

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// AuthScheme selects how the access token is attached to requests.
type AuthScheme string

const (
	// AuthBearer sends "Authorization: Bearer <token>".
	AuthBearer AuthScheme = "bearer"
	// AuthHeader sends the raw token in a configurable header.
	AuthHeader AuthScheme = "header"
	// AuthNone never attaches credentials.
	AuthNone AuthScheme = "none"
)

// StorageKind selects the token persistence backend.
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageFile   StorageKind = "file"
	StorageCookie StorageKind = "cookie"
)

// RefreshBodyMode selects the refresh request encoding.
type RefreshBodyMode string

const (
	RefreshBodyJSON RefreshBodyMode = "json"
	RefreshBodyForm RefreshBodyMode = "form"
)

// Config describes one service client.
type Config struct {
	// Gateway is the absolute base URL all endpoints are composed under.
	Gateway string
	// Service is the service name path segment. May be empty when the
	// gateway itself is the service.
	Service string
	// Version is the API version path segment, e.g. "v1". Optional.
	Version string

	UserAgent string
	// Timeout bounds each dispatch including the response body read.
	Timeout time.Duration

	Auth    AuthConfig
	Storage StorageConfig
	Refresh RefreshConfig
	Mock    MockConfig
}

// AuthConfig controls token attachment.
type AuthConfig struct {
	Scheme AuthScheme
	// Header carries the token, default "Authorization".
	Header string
	// Prefix is prepended to the token value; default "Bearer " for the
	// bearer scheme, empty otherwise.
	Prefix string
}

// StorageConfig selects where tokens are persisted.
type StorageConfig struct {
	Kind StorageKind
	// Path is the token file for StorageFile.
	Path string
	// CookieScope is the URL cookies are bound to for StorageCookie;
	// defaults to the gateway.
	CookieScope string
}

// RefreshConfig controls the 401 refresh flow. An empty Endpoint disables
// refreshing entirely.
type RefreshConfig struct {
	// Endpoint receives the refresh token. Relative endpoints are resolved
	// against the gateway.
	Endpoint string
	// Statuses trigger a refresh-and-replay, default [401].
	Statuses []int
	Mode     RefreshBodyMode
	// Field is the request field carrying the refresh token, default
	// "refresh_token".
	Field string
	// ProactiveWindow refreshes before a token expires instead of waiting
	// for the first auth failure. Zero disables proactive refreshes.
	ProactiveWindow time.Duration
	// MaxReplays bounds how often one request is replayed after a
	// refresh, default 1.
	MaxReplays int
	Headers    map[string]string
}

// MockConfig controls mock mode.
type MockConfig struct {
	// Enabled serves registered mocks instead of dispatching.
	Enabled bool
	// Strict fails requests without a registered mock instead of letting
	// them through to the network.
	Strict bool
}

const defaultTimeout = 15 * time.Second

func (c *Config) setDefaults() {
	if c.Auth.Scheme == "" {
		c.Auth.Scheme = AuthBearer
	}
	if c.Auth.Header == "" {
		c.Auth.Header = "Authorization"
	}
	if c.Auth.Prefix == "" && c.Auth.Scheme == AuthBearer {
		c.Auth.Prefix = "Bearer "
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageMemory
	}
	if c.Storage.Kind == StorageCookie && c.Storage.CookieScope == "" {
		c.Storage.CookieScope = c.Gateway
	}
	if c.Refresh.Endpoint != "" {
		if len(c.Refresh.Statuses) == 0 {
			c.Refresh.Statuses = []int{401}
		}
		if c.Refresh.Mode == "" {
			c.Refresh.Mode = RefreshBodyJSON
		}
		if c.Refresh.Field == "" {
			c.Refresh.Field = "refresh_token"
		}
		if c.Refresh.MaxReplays == 0 {
			c.Refresh.MaxReplays = 1
		}
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

func (c Config) Validate() error {
	if c.Gateway == "" {
		return errors.New("gateway is required")
	}
	u, err := url.Parse(c.Gateway)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway must be an absolute URL: %q", c.Gateway)
	}
	switch c.Auth.Scheme {
	case AuthBearer, AuthHeader, AuthNone, "":
	default:
		return fmt.Errorf("unsupported auth scheme %q", c.Auth.Scheme)
	}
	switch c.Storage.Kind {
	case StorageMemory, StorageCookie, "":
	case StorageFile:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the file backend")
		}
	default:
		return fmt.Errorf("unsupported storage kind %q", c.Storage.Kind)
	}
	if c.Refresh.Endpoint != "" {
		switch c.Refresh.Mode {
		case RefreshBodyJSON, RefreshBodyForm, "":
		default:
			return fmt.Errorf("unsupported refresh body mode %q", c.Refresh.Mode)
		}
		for _, s := range c.Refresh.Statuses {
			if s < 100 || s > 599 {
				return fmt.Errorf("invalid refresh status %d", s)
			}
		}
		if c.Refresh.MaxReplays < 0 {
			return errors.New("refresh.max_replays must not be negative")
		}
	}
	return nil
}

// refreshEndpoint resolves the refresh endpoint against the gateway.
func (c Config) refreshEndpoint() (string, error) {
	ep := c.Refresh.Endpoint
	if ep == "" {
		return "", nil
	}
	u, err := url.Parse(ep)
	if err != nil {
		return "", fmt.Errorf("parse refresh endpoint: %w", err)
	}
	if u.IsAbs() {
		return ep, nil
	}
	base, err := url.Parse(c.Gateway)
	if err != nil {
		return "", fmt.Errorf("parse gateway: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

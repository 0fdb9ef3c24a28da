// Package tokenstore persists access/refresh token pairs for the client.
//
// Three backends are provided, selected by Kind: an in-process store, a
// file-backed store and a cookie-jar-backed store. All backends are safe
// for concurrent use.
package tokenstore

import (
	"errors"
	"time"
)

// Kind selects the token persistence backend.
type Kind string

const (
	// KindMemory keeps tokens in process memory only.
	KindMemory Kind = "memory"
	// KindFile persists tokens as a JSON file on disk.
	KindFile Kind = "file"
	// KindCookie keeps tokens in an http.CookieJar scoped to a URL.
	KindCookie Kind = "cookie"
)

var (
	ErrNoTokens     = errors.New("no tokens stored")
	ErrUnsupported  = errors.New("unsupported token store kind")
	ErrMissingPath  = errors.New("file token store requires a path")
	ErrMissingScope = errors.New("cookie token store requires a scope URL")
)

// Tokens holds one access/refresh token pair.
//
// ExpiresAt is zero when the upstream did not report a lifetime.
type Tokens struct {
	Access    string    `json:"access_token"`
	Refresh   string    `json:"refresh_token"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Empty reports whether the pair holds no tokens at all.
func (t Tokens) Empty() bool { return t.Access == "" && t.Refresh == "" }

// Store reads and writes a token pair.
//
// Load returns ErrNoTokens when nothing has been saved yet. Clear is
// idempotent.
type Store interface {
	Load() (Tokens, error)
	Save(Tokens) error
	Clear() error
}

// Config selects and parameterises a backend for New.
type Config struct {
	Kind Kind
	// Path is the token file location for KindFile.
	Path string
	// Scope is the URL cookies are attached to for KindCookie.
	Scope string
}

// New builds a Store for the configured kind.
func New(cfg Config) (Store, error) {
	switch cfg.Kind {
	case KindMemory, "":
		return NewMemory(), nil
	case KindFile:
		if cfg.Path == "" {
			return nil, ErrMissingPath
		}
		return NewFile(cfg.Path), nil
	case KindCookie:
		if cfg.Scope == "" {
			return nil, ErrMissingScope
		}
		return NewCookie(cfg.Scope)
	default:
		return nil, ErrUnsupported
	}
}

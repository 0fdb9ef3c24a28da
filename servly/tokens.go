package servly

import (
	"errors"
	"time"

	"github.com/keksclan/goServly/internal/tokenstore"
)

// Tokens is one access/refresh token pair as seen by callers.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// storeBridge adapts a public TokenStore to the internal store contract.
type storeBridge struct{ s TokenStore }

func (b storeBridge) Load() (tokenstore.Tokens, error) {
	t, ok, err := b.s.Load()
	if err != nil {
		return tokenstore.Tokens{}, err
	}
	if !ok {
		return tokenstore.Tokens{}, tokenstore.ErrNoTokens
	}
	return tokenstore.Tokens{Access: t.AccessToken, Refresh: t.RefreshToken, ExpiresAt: t.ExpiresAt}, nil
}

func (b storeBridge) Save(t tokenstore.Tokens) error {
	return b.s.Save(Tokens{AccessToken: t.Access, RefreshToken: t.Refresh, ExpiresAt: t.ExpiresAt})
}

func (b storeBridge) Clear() error { return b.s.Clear() }

// SetTokens stores a token pair, typically right after login.
func (s *Service) SetTokens(t Tokens) error {
	return s.store.Save(tokenstore.Tokens{
		Access:    t.AccessToken,
		Refresh:   t.RefreshToken,
		ExpiresAt: t.ExpiresAt,
	})
}

// Tokens returns the stored pair. ok is false when nothing is stored.
func (s *Service) Tokens() (t Tokens, ok bool, err error) {
	cur, err := s.store.Load()
	if err != nil {
		if errors.Is(err, tokenstore.ErrNoTokens) {
			return Tokens{}, false, nil
		}
		return Tokens{}, false, err
	}
	return Tokens{AccessToken: cur.Access, RefreshToken: cur.Refresh, ExpiresAt: cur.ExpiresAt}, true, nil
}

// Logout clears the stored tokens. It does not invoke the logout callback;
// that is reserved for sessions ended by the server.
func (s *Service) Logout() error { return s.store.Clear() }

// Package servlyoauth2 exposes a service's token pair as an
// oauth2.TokenSource for libraries consuming golang.org/x/oauth2.
package servlyoauth2

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/oauth2"

	"github.com/keksclan/goServly/servly"
)

// Session is the token surface the source reads from. A *servly.Service
// satisfies it.
type Session interface {
	Tokens() (servly.Tokens, bool, error)
	ForceRefresh(ctx context.Context) error
}

// ErrNoSession is returned when no token pair is available and a refresh
// cannot produce one.
var ErrNoSession = errors.New("servlyoauth2: no active session")

// TokenSource returns an oauth2.TokenSource over the session. Expired tokens
// trigger one ForceRefresh; concurrent Token calls are serialized the way
// oauth2.ReuseTokenSource does it.
func TokenSource(ctx context.Context, s Session) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, session: s}
}

type tokenSource struct {
	ctx     context.Context
	session Session
	mu      sync.Mutex
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tok, ok, err := t.session.Tokens()
	if err != nil {
		return nil, err
	}
	if ok {
		if o := toOAuth2(tok); o.Valid() {
			return o, nil
		}
	}
	if err := t.session.ForceRefresh(t.ctx); err != nil {
		return nil, err
	}
	tok, ok, err = t.session.Tokens()
	if err != nil {
		return nil, err
	}
	if !ok || tok.AccessToken == "" {
		return nil, ErrNoSession
	}
	return toOAuth2(tok), nil
}

func toOAuth2(t servly.Tokens) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.ExpiresAt,
	}
}

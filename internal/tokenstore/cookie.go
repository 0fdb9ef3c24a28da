package tokenstore

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Cookie names used by the cookie-jar backend.
const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
	expiryCookie  = "token_expiry"
)

// Cookie keeps tokens in an http.CookieJar scoped to a single URL. The jar
// can be shared with the HTTP client so the tokens also travel as cookies
// on requests to the same scope.
type Cookie struct {
	mu    sync.Mutex
	jar   http.CookieJar
	scope *url.URL
}

// NewCookie creates a cookie-backed store scoped to the given URL.
func NewCookie(scope string) (*Cookie, error) {
	u, err := url.Parse(scope)
	if err != nil {
		return nil, fmt.Errorf("parse cookie scope: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, ErrMissingScope
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Cookie{jar: jar, scope: u}, nil
}

// Jar exposes the underlying jar for sharing with an http.Client.
func (c *Cookie) Jar() http.CookieJar { return c.jar }

func (c *Cookie) Load() (Tokens, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var t Tokens
	for _, ck := range c.jar.Cookies(c.scope) {
		switch ck.Name {
		case accessCookie:
			t.Access = ck.Value
		case refreshCookie:
			t.Refresh = ck.Value
		case expiryCookie:
			if sec, err := strconv.ParseInt(ck.Value, 10, 64); err == nil && sec > 0 {
				t.ExpiresAt = time.Unix(sec, 0)
			}
		}
	}
	if t.Empty() {
		return Tokens{}, ErrNoTokens
	}
	return t, nil
}

func (c *Cookie) Save(t Tokens) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookies := []*http.Cookie{
		{Name: accessCookie, Value: t.Access, Path: "/"},
		{Name: refreshCookie, Value: t.Refresh, Path: "/"},
	}
	if !t.ExpiresAt.IsZero() {
		cookies = append(cookies, &http.Cookie{
			Name:  expiryCookie,
			Value: strconv.FormatInt(t.ExpiresAt.Unix(), 10),
			Path:  "/",
		})
	}
	c.jar.SetCookies(c.scope, cookies)
	return nil
}

func (c *Cookie) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A jar drops cookies whose expiry is in the past.
	past := time.Now().Add(-time.Hour)
	c.jar.SetCookies(c.scope, []*http.Cookie{
		{Name: accessCookie, Value: "", Path: "/", Expires: past, MaxAge: -1},
		{Name: refreshCookie, Value: "", Path: "/", Expires: past, MaxAge: -1},
		{Name: expiryCookie, Value: "", Path: "/", Expires: past, MaxAge: -1},
	})
	return nil
}

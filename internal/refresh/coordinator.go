// Package refresh coordinates token refreshes against an auth endpoint.
//
// Any number of requests may fail with an auth status at the same time; the
// coordinator collapses them into a single refresh call and hands the new
// token pair to every waiter. This is the request-queuing half of the
// client's 401 handling.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/keksclan/goServly/internal/metrics"
	"github.com/keksclan/goServly/internal/tokenstore"
)

var (
	// ErrNoRefreshToken means the store holds nothing to exchange; no
	// network call is made in that case.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshRejected means the auth endpoint answered with a client
	// error: the session is over. The store is cleared when this happens.
	ErrRefreshRejected = errors.New("token refresh rejected")
)

// maxResponseSize limits refresh endpoint responses.
const maxResponseSize = 1 << 20 // 1 MB

const defaultTimeout = 10 * time.Second

// BodyMode selects how the refresh token travels to the endpoint.
type BodyMode string

const (
	// BodyJSON posts {"<field>": "<refresh token>"} as JSON.
	BodyJSON BodyMode = "json"
	// BodyForm posts <field>=<refresh token> urlencoded.
	BodyForm BodyMode = "form"
)

// Config parameterises the refresh exchange.
type Config struct {
	Endpoint string
	Mode     BodyMode
	// Field is the request field carrying the refresh token, default
	// "refresh_token".
	Field        string
	Timeout      time.Duration
	ExtraHeaders map[string]string
}

// tokenResponse is the expected refresh endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Coordinator performs deduplicated token refreshes.
//
// Concurrency: safe for concurrent use. Concurrent Refresh calls share one
// in-flight exchange via singleflight.
type Coordinator struct {
	cfg       Config
	httpc     *http.Client
	store     tokenstore.Store
	group     singleflight.Group
	metrics   metrics.Collector
	logger    *slog.Logger
	onExpired func(error)
}

// NewCoordinator creates a Coordinator persisting results into store.
func NewCoordinator(cfg Config, store tokenstore.Store) (*Coordinator, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("refresh endpoint is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = BodyJSON
	}
	if cfg.Mode != BodyJSON && cfg.Mode != BodyForm {
		return nil, fmt.Errorf("unsupported refresh body mode %q", cfg.Mode)
	}
	if cfg.Field == "" {
		cfg.Field = "refresh_token"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Coordinator{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		store:   store,
		metrics: metrics.Noop{},
		logger:  slog.New(slog.DiscardHandler),
	}, nil
}

func (c *Coordinator) SetHTTPClient(httpc *http.Client) {
	if httpc != nil {
		c.httpc = httpc
	}
}

func (c *Coordinator) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

func (c *Coordinator) SetMetrics(m metrics.Collector) {
	if m != nil {
		c.metrics = m
	}
}

// SetOnExpired registers a callback invoked once per failed flight when the
// session is definitively over (rejected refresh or missing refresh token).
// Transient transport errors do not trigger it.
func (c *Coordinator) SetOnExpired(fn func(error)) {
	c.onExpired = fn
}

// Refresh exchanges the stored refresh token for a new pair. staleAccess is
// the access token the caller just failed with; when the store already holds
// a different one, another flight has refreshed in the meantime and that
// pair is returned without a network call.
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) (tokenstore.Tokens, error) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		// Double-check inside the flight: a burst that
		// arrives just after a finished flight must not refresh again.
		if cur, err := c.store.Load(); err == nil && cur.Access != "" && cur.Access != staleAccess {
			return cur, nil
		}
		return c.exchange(ctx)
	})
	if err != nil {
		return tokenstore.Tokens{}, err
	}
	toks, ok := v.(tokenstore.Tokens)
	if !ok {
		return tokenstore.Tokens{}, fmt.Errorf("unexpected singleflight result type %T", v)
	}
	if shared {
		c.logger.Debug("token refresh shared with concurrent requests")
	}
	return toks, nil
}

// exchange performs the actual refresh call. It runs inside the flight.
func (c *Coordinator) exchange(ctx context.Context) (tokenstore.Tokens, error) {
	cur, err := c.store.Load()
	if err != nil && !errors.Is(err, tokenstore.ErrNoTokens) {
		// A store that cannot be read is a transient failure, not a
		// finished session.
		return tokenstore.Tokens{}, fmt.Errorf("load tokens: %w", err)
	}
	if cur.Refresh == "" {
		return tokenstore.Tokens{}, c.expire(ErrNoRefreshToken)
	}

	c.metrics.RefreshStarted()

	req, err := c.buildRequest(ctx, cur.Refresh)
	if err != nil {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, c.expire(fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, fmt.Errorf("refresh failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, fmt.Errorf("read refresh response: %w", err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, fmt.Errorf("parse refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, errors.New("refresh response missing access token")
	}

	next := tokenstore.Tokens{
		Access:  tr.AccessToken,
		Refresh: tr.RefreshToken,
	}
	// Endpoints without rotation omit the refresh token; keep the old one.
	if next.Refresh == "" {
		next.Refresh = cur.Refresh
	}
	if tr.ExpiresIn > 0 {
		next.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	// Persist before returning so racers outside the flight observe the
	// new pair through the store as well.
	if err := c.store.Save(next); err != nil {
		c.metrics.RefreshFailed()
		return tokenstore.Tokens{}, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	c.metrics.RefreshOK()
	c.logger.Debug("token refresh succeeded")
	return next, nil
}

func (c *Coordinator) buildRequest(ctx context.Context, refreshToken string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch c.cfg.Mode {
	case BodyForm:
		form := url.Values{}
		form.Set(c.cfg.Field, refreshToken)
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		payload, err := json.Marshal(map[string]string{c.cfg.Field: refreshToken})
		if err != nil {
			return nil, fmt.Errorf("encode refresh body: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range c.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// expire clears the store and fires the expiry callback; the wrapped error
// is returned unchanged for the waiters.
func (c *Coordinator) expire(err error) error {
	if cerr := c.store.Clear(); cerr != nil {
		c.logger.Warn("clearing token store failed", "error", cerr)
	}
	c.logger.Info("session expired", "reason", err.Error())
	if c.onExpired != nil {
		c.onExpired(err)
	}
	return err
}

package servly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/keksclan/goServly/internal/endpoints"
	"github.com/keksclan/goServly/internal/metrics"
	"github.com/keksclan/goServly/internal/mockreg"
	"github.com/keksclan/goServly/internal/refresh"
	"github.com/keksclan/goServly/internal/tokenstore"
)

// Service is the base client for one backend service.
type Service struct {
	cfg      Config
	httpc    *http.Client
	doer     Doer
	store    tokenstore.Store
	coord    *refresh.Coordinator
	mocks    *mockreg.Registry
	public   *endpoints.Registry
	logger   *slog.Logger
	metrics  MetricsCollector
	retry    *RetryConfig
	onLogout func()
	mockMode atomic.Bool
}

// New creates a Service from cfg and optional Options.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		mocks:   mockreg.NewRegistry(),
		public:  endpoints.NewRegistry(),
		logger:  slog.New(slog.DiscardHandler),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		st, err := tokenstore.New(tokenstore.Config{
			Kind:  tokenstore.Kind(cfg.Storage.Kind),
			Path:  cfg.Storage.Path,
			Scope: cfg.Storage.CookieScope,
		})
		if err != nil {
			return nil, fmt.Errorf("init token store: %w", err)
		}
		s.store = st
	}

	if s.httpc == nil {
		s.httpc = &http.Client{Timeout: cfg.Timeout}
		// The cookie backend shares its jar so tokens also travel as
		// cookies on same-scope requests.
		if cs, ok := s.store.(*tokenstore.Cookie); ok {
			s.httpc.Jar = cs.Jar()
		}
	}
	if s.retry != nil {
		rc := retryablehttp.NewClient()
		rc.HTTPClient = s.httpc
		rc.Logger = nil
		rc.RetryMax = s.retry.Max
		if s.retry.WaitMin > 0 {
			rc.RetryWaitMin = s.retry.WaitMin
		}
		if s.retry.WaitMax > 0 {
			rc.RetryWaitMax = s.retry.WaitMax
		}
		s.doer = rc.StandardClient()
	}
	if s.doer == nil {
		s.doer = s.httpc
	}

	if cfg.Refresh.Endpoint != "" {
		ep, err := cfg.refreshEndpoint()
		if err != nil {
			return nil, err
		}
		coord, err := refresh.NewCoordinator(refresh.Config{
			Endpoint:     ep,
			Mode:         refresh.BodyMode(cfg.Refresh.Mode),
			Field:        cfg.Refresh.Field,
			Timeout:      cfg.Timeout,
			ExtraHeaders: cfg.Refresh.Headers,
		}, s.store)
		if err != nil {
			return nil, fmt.Errorf("init refresh coordinator: %w", err)
		}
		// Refresh calls bypass the Doer on purpose: they must not hit
		// mocks, retries or the refresh flow itself.
		coord.SetHTTPClient(s.httpc)
		coord.SetLogger(s.logger)
		coord.SetMetrics(s.metrics)
		coord.SetOnExpired(func(error) {
			if s.onLogout != nil {
				s.onLogout()
			}
		})
		s.coord = coord
	}

	s.mockMode.Store(cfg.Mock.Enabled)
	return s, nil
}

// MarkPublic marks endpoints of this service as public: requests to them
// carry no token and never trigger a refresh. Passing no endpoints marks the
// whole service.
func (s *Service) MarkPublic(eps ...string) {
	s.public.MarkPublic(s.cfg.Service, eps...)
}

func (s *Service) isPublicEndpoint(endpoint string) bool {
	return s.public.IsPublic(s.cfg.Service, strings.Trim(endpoint, "/"))
}

// AccessToken returns a usable access token, refreshing proactively when the
// stored one is missing or about to expire. An empty string with nil error
// means the client is unauthenticated.
func (s *Service) AccessToken(ctx context.Context) (string, error) {
	toks, err := s.store.Load()
	if err != nil {
		if errors.Is(err, tokenstore.ErrNoTokens) {
			return "", nil
		}
		return "", err
	}
	if s.coord == nil {
		return toks.Access, nil
	}
	if toks.Access == "" && toks.Refresh != "" {
		fresh, err := s.coord.Refresh(ctx, "")
		if err != nil {
			return "", err
		}
		return fresh.Access, nil
	}
	if w := s.cfg.Refresh.ProactiveWindow; w > 0 && toks.Refresh != "" && expiresWithin(toks, w) {
		fresh, err := s.coord.Refresh(ctx, toks.Access)
		if err == nil {
			return fresh.Access, nil
		}
		// The reactive path still covers a failed proactive attempt.
		s.logger.Warn("proactive token refresh failed", "error", err)
	}
	return toks.Access, nil
}

// ForceRefresh refreshes the token pair immediately, sharing the flight with
// any concurrent refresh.
func (s *Service) ForceRefresh(ctx context.Context) error {
	if s.coord == nil {
		return errors.New("refresh is not configured")
	}
	var stale string
	if toks, err := s.store.Load(); err == nil {
		stale = toks.Access
	}
	_, err := s.coord.Refresh(ctx, stale)
	return err
}

func (s *Service) refreshStatus(code int) bool {
	for _, st := range s.cfg.Refresh.Statuses {
		if st == code {
			return true
		}
	}
	return false
}

// expiresWithin reports whether the pair expires inside the window, using
// the stored expiry or, failing that, the exp claim of a JWT access token.
func expiresWithin(t tokenstore.Tokens, window time.Duration) bool {
	exp := t.ExpiresAt
	if exp.IsZero() {
		exp = jwtExpiry(t.Access)
	}
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) <= window
}

// jwtExpiry extracts exp from a JWT without verifying the signature; the
// client only schedules refreshes with it, it never trusts the claims.
func jwtExpiry(token string) time.Time {
	if strings.Count(token, ".") != 2 {
		return time.Time{}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

package servly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Do dispatches one request and returns its Response. Authenticated requests
// that come back with a refresh status are replayed once after a shared token
// refresh; a failed refresh surfaces as ErrSessionExpired.
func (s *Service) Do(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) *Response {
	if ctx == nil {
		ctx = context.Background()
	}
	ro := buildRequestOptions(opts)

	u, err := s.buildURL(endpoint, ro.query)
	if err != nil {
		return errResponse(err)
	}
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return errResponse(err)
	}

	req, err := s.newRequest(ctx, method, u, payload, contentType, ro, "")
	if err != nil {
		return errResponse(err)
	}

	if s.mockMode.Load() {
		res, matched, merr := s.mocks.Serve(req)
		if matched {
			if merr != nil {
				return errResponse(merr)
			}
			s.metrics.MockServed(method)
			s.logger.Debug("mock response served", "method", method, "path", u.Path)
			return newResponse(res, nil)
		}
		if s.cfg.Mock.Strict {
			return errResponse(fmt.Errorf("%w: %s %s", ErrMockUnmatched, method, u.Path))
		}
	}

	public := ro.public || s.isPublicEndpoint(endpoint) || s.cfg.Auth.Scheme == AuthNone
	var token string
	if !public {
		token, err = s.AccessToken(ctx)
		if err != nil {
			if errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrRefreshRejected) {
				err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
			}
			return errResponse(err)
		}
		s.attachToken(req, token)
	}

	s.metrics.RequestDispatched(method)
	resp, err := s.doer.Do(req)
	if err != nil {
		s.metrics.RequestFailed(method)
		return errResponse(fmt.Errorf("dispatch %s %s: %w", method, u.Path, err))
	}

	replays := 0
	for !public && s.coord != nil && s.refreshStatus(resp.StatusCode) && replays < s.cfg.Refresh.MaxReplays {
		replays++
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		fresh, rerr := s.coord.Refresh(ctx, token)
		if rerr != nil {
			s.logger.Warn("token refresh after auth failure", "error", rerr)
			return errResponse(fmt.Errorf("%w: %w", ErrSessionExpired, rerr))
		}
		token = fresh.Access

		req, err = s.newRequest(ctx, method, u, payload, contentType, ro, token)
		if err != nil {
			return errResponse(err)
		}
		s.metrics.RequestReplayed(method)
		resp, err = s.doer.Do(req)
		if err != nil {
			s.metrics.RequestFailed(method)
			return errResponse(fmt.Errorf("replay %s %s: %w", method, u.Path, err))
		}
	}
	return newResponse(resp, nil)
}

// Get issues a GET request.
func (s *Service) Get(ctx context.Context, endpoint string, opts ...RequestOption) *Response {
	return s.Do(ctx, http.MethodGet, endpoint, nil, opts...)
}

// Post issues a POST request. A url.Values body is form-encoded, everything
// else marshals to JSON.
func (s *Service) Post(ctx context.Context, endpoint string, body any, opts ...RequestOption) *Response {
	return s.Do(ctx, http.MethodPost, endpoint, body, opts...)
}

// Put issues a PUT request.
func (s *Service) Put(ctx context.Context, endpoint string, body any, opts ...RequestOption) *Response {
	return s.Do(ctx, http.MethodPut, endpoint, body, opts...)
}

// Patch issues a PATCH request.
func (s *Service) Patch(ctx context.Context, endpoint string, body any, opts ...RequestOption) *Response {
	return s.Do(ctx, http.MethodPatch, endpoint, body, opts...)
}

// Delete issues a DELETE request. Body may be nil.
func (s *Service) Delete(ctx context.Context, endpoint string, body any, opts ...RequestOption) *Response {
	return s.Do(ctx, http.MethodDelete, endpoint, body, opts...)
}

func (s *Service) newRequest(ctx context.Context, method string, u *url.URL, payload []byte, contentType string, ro *requestOptions, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	if contentType != "" && req.Body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range ro.headers {
		req.Header.Set(k, v)
	}
	s.attachToken(req, token)
	return req, nil
}

func (s *Service) attachToken(req *http.Request, token string) {
	if token == "" || s.cfg.Auth.Scheme == AuthNone {
		return
	}
	req.Header.Set(s.cfg.Auth.Header, s.cfg.Auth.Prefix+token)
}

package servly

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers map[string]string
	query   url.Values
	public  bool
}

func buildRequestOptions(opts []RequestOption) *requestOptions {
	ro := &requestOptions{query: url.Values{}}
	for _, opt := range opts {
		opt(ro)
	}
	return ro
}

// WithHeader sets a header on this request only.
func WithHeader(name, value string) RequestOption {
	return func(ro *requestOptions) {
		if ro.headers == nil {
			ro.headers = map[string]string{}
		}
		ro.headers[name] = value
	}
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(ro *requestOptions) {
		ro.query.Add(key, value)
	}
}

// WithQueryValues merges url.Values into the request query.
func WithQueryValues(vals url.Values) RequestOption {
	return func(ro *requestOptions) {
		for k, vs := range vals {
			for _, v := range vs {
				ro.query.Add(k, v)
			}
		}
	}
}

// Public marks this request as public regardless of the endpoint registry:
// no token is attached and auth statuses are not refreshed.
func Public() RequestOption {
	return func(ro *requestOptions) {
		ro.public = true
	}
}

// buildURL composes gateway/service/version/endpoint. Absolute endpoints
// bypass composition but still receive the query parameters.
func (s *Service) buildURL(endpoint string, query url.Values) (*url.URL, error) {
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
		}
		mergeQuery(u, query)
		return u, nil
	}

	u, err := url.Parse(s.cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("parse gateway: %w", err)
	}
	u.Path = joinPath(u.Path, s.cfg.Service, s.cfg.Version, endpoint)
	mergeQuery(u, query)
	return u, nil
}

// endpointPath is the composed request path for an endpoint, used as the
// mock registry key. It must produce the same path buildURL does, including
// the gateway's own path segment, or registered mocks would never match.
func (s *Service) endpointPath(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		if u, err := url.Parse(endpoint); err == nil {
			return u.Path
		}
	}
	base := "/"
	if u, err := url.Parse(s.cfg.Gateway); err == nil {
		base = u.Path
	}
	return joinPath(base, s.cfg.Service, s.cfg.Version, endpoint)
}

func joinPath(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(seg)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func mergeQuery(u *url.URL, query url.Values) {
	if len(query) == 0 {
		return
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
}

// encodeBody turns a request body value into replayable bytes. Readers are
// drained up front so a refresh replay can resend the identical payload.
func encodeBody(body any) (payload []byte, contentType string, err error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("read request body: %w", err)
		}
		return data, "", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return data, "application/json; charset=utf-8", nil
	}
}

// bodyReader returns a fresh reader over the captured payload.
func bodyReader(payload []byte) io.Reader {
	if payload == nil {
		return nil
	}
	return bytes.NewReader(payload)
}

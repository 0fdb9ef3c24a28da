// Package servlyfasthttp implements servly's transport interface over
// valyala/fasthttp for applications already carrying a fasthttp client.
package servlyfasthttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultTimeout = 15 * time.Second

// Doer dispatches net/http requests over a fasthttp.Client. It satisfies
// servly.Doer and is safe for concurrent use.
type Doer struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// Option configures a Doer.
type Option func(*Doer)

// WithClient supplies an existing fasthttp.Client.
func WithClient(c *fasthttp.Client) Option {
	return func(d *Doer) {
		if c != nil {
			d.client = c
		}
	}
}

// WithTimeout bounds requests without a context deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Doer) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// New creates a Doer.
func New(opts ...Option) *Doer {
	d := &Doer{client: &fasthttp.Client{}, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do dispatches req and converts the result back to an *http.Response with a
// fully buffered body.
func (d *Doer) Do(req *http.Request) (*http.Response, error) {
	freq := fasthttp.AcquireRequest()
	fres := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fres)

	freq.Header.SetMethod(req.Method)
	freq.SetRequestURI(req.URL.String())
	for name, vals := range req.Header {
		for _, v := range vals {
			freq.Header.Add(name, v)
		}
	}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		freq.SetBody(body)
	}

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := req.Context().Deadline(); ok {
		deadline = ctxDeadline
	}
	if err := d.client.DoDeadline(freq, fres, deadline); err != nil {
		return nil, fmt.Errorf("fasthttp dispatch: %w", err)
	}

	header := http.Header{}
	fres.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	// The fasthttp buffers are pooled, copy the body out before release.
	body := append([]byte(nil), fres.Body()...)

	status := fres.StatusCode()
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

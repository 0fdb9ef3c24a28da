package servly

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var errBodyConsumed = errors.New("response body already consumed")

// Response wraps the HTTP result of a dispatch. The body is consumed at most
// once: whichever of Err, Unmarshal, Bytes or Save runs first reads and
// closes it, and later calls see the recorded outcome.
type Response struct {
	resp *http.Response
	err  error
	read bool
}

func newResponse(resp *http.Response, err error) *Response {
	return &Response{resp: resp, err: err}
}

func errResponse(err error) *Response {
	return &Response{err: err}
}

// StatusCode returns the HTTP status, or 0 when the dispatch itself failed.
func (r *Response) StatusCode() int {
	if r.resp == nil {
		return 0
	}
	return r.resp.StatusCode
}

// Header returns the response headers; never nil.
func (r *Response) Header() http.Header {
	if r.resp == nil {
		return http.Header{}
	}
	return r.resp.Header
}

// IsSuccess reports whether the status is 2xx.
func (r *Response) IsSuccess() bool {
	code := r.StatusCode()
	return code >= 200 && code < 300
}

// Err drains and closes the body and returns the dispatch error, if any.
// Draining matters for connection reuse even when the caller ignores the
// payload.
func (r *Response) Err() error {
	return r.handle(nil)
}

// Unmarshal decodes the JSON body into v. The body is consumed; Unmarshal
// can only be the first body-reading call on this Response.
func (r *Response) Unmarshal(v any) error {
	return r.handle(func(resp *http.Response) error {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body (status %s): %w", resp.Status, err)
		}
		// 204s and other bodiless responses are not a decode failure.
		if v == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshal response body (status %s): %w", resp.Status, err)
		}
		return nil
	})
}

// Bytes reads the whole body. Like Unmarshal, it consumes the body.
func (r *Response) Bytes() ([]byte, error) {
	var data []byte
	err := r.handle(func(resp *http.Response) error {
		var rerr error
		data, rerr = io.ReadAll(resp.Body)
		return rerr
	})
	return data, err
}

// Save streams the body into w. Like Unmarshal, it consumes the body.
func (r *Response) Save(w io.Writer) error {
	return r.handle(func(resp *http.Response) error {
		_, err := io.Copy(w, resp.Body)
		return err
	})
}

// handle runs f exactly once over the body; subsequent calls return the
// recorded error without touching the body again.
func (r *Response) handle(f func(*http.Response) error) error {
	if r.read {
		if f != nil && r.err == nil {
			return errBodyConsumed
		}
		return r.err
	}
	r.read = true
	if r.resp == nil || r.resp.Body == nil {
		return r.err
	}
	defer r.resp.Body.Close()
	if r.err != nil {
		io.Copy(io.Discard, r.resp.Body)
		return r.err
	}
	if f == nil {
		_, r.err = io.Copy(io.Discard, r.resp.Body)
		return r.err
	}
	r.err = f(r.resp)
	return r.err
}

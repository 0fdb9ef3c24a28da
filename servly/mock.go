package servly

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/keksclan/goServly/internal/mockreg"
)

// MockAnyMethod registers a mock for every HTTP method on a path.
const MockAnyMethod = mockreg.AnyMethod

// MockResponse is a canned response served in mock mode. A zero Status means
// 200. An endpoint ending in "/*" matches every path under the prefix.
type MockResponse struct {
	Status int
	Header http.Header
	Body   []byte
	Delay  time.Duration
}

// MockResponder computes a mock response per request.
type MockResponder func(req *http.Request) (MockResponse, error)

// SetMockMode turns mock mode on or off at runtime.
func (s *Service) SetMockMode(enabled bool) {
	s.mockMode.Store(enabled)
}

// MockMode reports whether mock mode is active.
func (s *Service) MockMode() bool {
	return s.mockMode.Load()
}

// RegisterMock registers a static mock for method+endpoint. The endpoint is
// composed the same way as a request URL, so register the endpoint you call,
// not the full path.
func (s *Service) RegisterMock(method, endpoint string, res MockResponse) {
	s.mocks.Register(method, s.endpointPath(endpoint), mockreg.Response(res))
}

// RegisterMockJSON registers a static mock whose body is v marshaled as JSON.
func (s *Service) RegisterMockJSON(method, endpoint string, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal mock body: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	s.RegisterMock(method, endpoint, MockResponse{Status: status, Header: header, Body: body})
	return nil
}

// RegisterMockFunc registers a dynamic mock backed by a Go function.
func (s *Service) RegisterMockFunc(method, endpoint string, fn MockResponder) {
	s.mocks.RegisterResponder(method, s.endpointPath(endpoint), mockreg.ResponderFunc(
		func(req *http.Request) (mockreg.Response, error) {
			res, err := fn(req)
			return mockreg.Response(res), err
		}))
}

// RegisterMockScript registers a dynamic mock backed by a sandboxed Lua
// script. The script sees method, path, query and headers globals plus a
// body() reader, and answers via reply(status, body) and header(name, value).
func (s *Service) RegisterMockScript(method, endpoint, script string) error {
	responder, err := mockreg.CompileScript(script)
	if err != nil {
		return err
	}
	s.mocks.RegisterResponder(method, s.endpointPath(endpoint), responder)
	return nil
}

// UnregisterMock removes a mock registration.
func (s *Service) UnregisterMock(method, endpoint string) {
	s.mocks.Unregister(method, s.endpointPath(endpoint))
}

// ResetMocks drops all mock registrations.
func (s *Service) ResetMocks() {
	s.mocks.Reset()
}

package mockreg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ErrLuaTimeout is returned when a mock script exceeds its execution limit.
var ErrLuaTimeout = errors.New("mock script exceeded execution time limit")

// ErrNoReply is returned when a mock script finishes without calling reply.
var ErrNoReply = errors.New("mock script did not produce a response")

// DefaultScriptTimeout bounds a single script evaluation.
const DefaultScriptTimeout = 5 * time.Second

// maxScriptBody caps how much of a request body is exposed to a script.
const maxScriptBody = 1 << 20 // 1 MB

// ScriptResponder runs a pre-compiled Lua script to build mock responses.
//
// The script sees the globals `method`, `path`, `query` (table) and
// `headers` (table), plus a `body()` function returning the request body as
// a string. It must call `reply(status, body)` exactly once and may call
// `header(name, value)` before that to add response headers.
type ScriptResponder struct {
	proto   *lua.FunctionProto
	timeout time.Duration
	mu      sync.Mutex
}

// CompileScript parses and compiles a mock script for reuse across requests.
func CompileScript(script string) (*ScriptResponder, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("mock script compile error: %w", err)
	}
	return &ScriptResponder{proto: fn.Proto, timeout: DefaultScriptTimeout}, nil
}

// SetTimeout overrides the per-evaluation execution limit.
func (s *ScriptResponder) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

func (s *ScriptResponder) Respond(req *http.Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	ctx, cancel := context.WithTimeout(req.Context(), s.timeout)
	defer cancel()
	L.SetContext(ctx)

	openSafeLibs(L)

	L.SetGlobal("method", lua.LString(req.Method))
	L.SetGlobal("path", lua.LString(req.URL.Path))

	query := L.NewTable()
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			query.RawSetString(k, lua.LString(vs[0]))
		}
	}
	L.SetGlobal("query", query)

	headers := L.NewTable()
	for k, vs := range req.Header {
		if len(vs) > 0 {
			headers.RawSetString(http.CanonicalHeaderKey(k), lua.LString(vs[0]))
		}
	}
	L.SetGlobal("headers", headers)

	L.SetGlobal("body", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(requestBody(req)))
		return 1
	}))

	var (
		res     Response
		replied bool
	)
	L.SetGlobal("reply", L.NewFunction(func(L *lua.LState) int {
		res.Status = L.CheckInt(1)
		res.Body = []byte(L.OptString(2, ""))
		replied = true
		return 0
	}))
	L.SetGlobal("header", L.NewFunction(func(L *lua.LState) int {
		if res.Header == nil {
			res.Header = http.Header{}
		}
		res.Header.Set(L.CheckString(1), L.CheckString(2))
		return 0
	}))

	fn := L.NewFunctionFromProto(s.proto)
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, ErrLuaTimeout
		}
		return Response{}, fmt.Errorf("mock script error: %w", err)
	}
	if !replied {
		return Response{}, ErrNoReply
	}
	return res, nil
}

// requestBody reads and restores the request body so a later replay still
// sees it.
func requestBody(req *http.Request) string {
	if req.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxScriptBody))
	req.Body.Close()
	if err != nil {
		return ""
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	return string(data)
}

// openSafeLibs opens only sandbox-safe standard libraries.
func openSafeLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	// Remove base functions that could escape the sandbox.
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
}

// Package servlyconfig loads a servly.Config from Go values, JSON files or
// Lua files.
package servlyconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/keksclan/goServly/servly"
)

// Loader loads a servly.Config from a source.
type Loader interface {
	Load(ctx context.Context) (*servly.Config, error)
}

// goLoader returns a static config.
type goLoader struct {
	cfg servly.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg servly.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) Load(_ context.Context) (*servly.Config, error) {
	cfg := l.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// jsonLoader loads config from a JSON file.
type jsonLoader struct {
	path string
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &jsonLoader{path: path}
}

// jsonConfig mirrors servly.Config for JSON deserialization.
type jsonConfig struct {
	Gateway   string      `json:"gateway"`
	Service   string      `json:"service"`
	Version   string      `json:"version"`
	UserAgent string      `json:"user_agent"`
	TimeoutMs int         `json:"timeout_ms"`
	Auth      jsonAuth    `json:"auth"`
	Storage   jsonStorage `json:"storage"`
	Refresh   jsonRefresh `json:"refresh"`
	Mock      jsonMock    `json:"mock"`
}

type jsonAuth struct {
	Scheme string `json:"scheme"`
	Header string `json:"header"`
	Prefix string `json:"prefix"`
}

type jsonStorage struct {
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	CookieScope string `json:"cookie_scope"`
}

type jsonRefresh struct {
	Endpoint           string            `json:"endpoint"`
	Statuses           []int             `json:"statuses"`
	Mode               string            `json:"mode"`
	Field              string            `json:"field"`
	ProactiveWindowSec int               `json:"proactive_window_sec"`
	MaxReplays         int               `json:"max_replays"`
	Headers            map[string]string `json:"headers"`
}

type jsonMock struct {
	Enabled bool `json:"enabled"`
	Strict  bool `json:"strict"`
}

func (l *jsonLoader) Load(_ context.Context) (*servly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read json config file: %w", err)
	}
	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	cfg := jc.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (jc jsonConfig) toConfig() *servly.Config {
	cfg := &servly.Config{
		Gateway:   jc.Gateway,
		Service:   jc.Service,
		Version:   jc.Version,
		UserAgent: jc.UserAgent,
		Auth: servly.AuthConfig{
			Scheme: servly.AuthScheme(jc.Auth.Scheme),
			Header: jc.Auth.Header,
			Prefix: jc.Auth.Prefix,
		},
		Storage: servly.StorageConfig{
			Kind:        servly.StorageKind(jc.Storage.Kind),
			Path:        jc.Storage.Path,
			CookieScope: jc.Storage.CookieScope,
		},
		Refresh: servly.RefreshConfig{
			Endpoint:   jc.Refresh.Endpoint,
			Statuses:   jc.Refresh.Statuses,
			Mode:       servly.RefreshBodyMode(jc.Refresh.Mode),
			Field:      jc.Refresh.Field,
			MaxReplays: jc.Refresh.MaxReplays,
			Headers:    jc.Refresh.Headers,
		},
		Mock: servly.MockConfig{
			Enabled: jc.Mock.Enabled,
			Strict:  jc.Mock.Strict,
		},
	}
	if jc.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(jc.TimeoutMs) * time.Millisecond
	}
	if jc.Refresh.ProactiveWindowSec > 0 {
		cfg.Refresh.ProactiveWindow = time.Duration(jc.Refresh.ProactiveWindowSec) * time.Second
	}
	return cfg
}

// luaLoader loads config from a Lua file.
type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that reads config from a Lua file.
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) Load(_ context.Context) (*servly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lua config file: %w", err)
	}
	return LoadLuaString(string(data))
}

// LoadLuaString parses a Lua config string and returns a servly.Config.
// Exported for testing convenience.
func LoadLuaString(script string) (*servly.Config, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	// Only open safe libs for config parsing
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
	// Remove dangerous functions
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua config execution: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua config must return a table, got %s", ret.Type().String())
	}

	cfg := luaTableToConfig(tbl)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func luaTableToConfig(tbl *lua.LTable) *servly.Config {
	cfg := &servly.Config{
		Gateway:   getStringField(tbl, "gateway"),
		Service:   getStringField(tbl, "service"),
		Version:   getStringField(tbl, "version"),
		UserAgent: getStringField(tbl, "user_agent"),
	}
	if ms := getNumberField(tbl, "timeout_ms"); ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}

	if authTbl := getTableField(tbl, "auth"); authTbl != nil {
		cfg.Auth.Scheme = servly.AuthScheme(getStringField(authTbl, "scheme"))
		cfg.Auth.Header = getStringField(authTbl, "header")
		cfg.Auth.Prefix = getStringField(authTbl, "prefix")
	}

	if storageTbl := getTableField(tbl, "storage"); storageTbl != nil {
		cfg.Storage.Kind = servly.StorageKind(getStringField(storageTbl, "kind"))
		cfg.Storage.Path = getStringField(storageTbl, "path")
		cfg.Storage.CookieScope = getStringField(storageTbl, "cookie_scope")
	}

	if refreshTbl := getTableField(tbl, "refresh"); refreshTbl != nil {
		cfg.Refresh.Endpoint = getStringField(refreshTbl, "endpoint")
		cfg.Refresh.Statuses = getIntSliceField(refreshTbl, "statuses")
		cfg.Refresh.Mode = servly.RefreshBodyMode(getStringField(refreshTbl, "mode"))
		cfg.Refresh.Field = getStringField(refreshTbl, "field")
		cfg.Refresh.MaxReplays = int(getNumberField(refreshTbl, "max_replays"))
		cfg.Refresh.Headers = getStringMapField(refreshTbl, "headers")
		if sec := getNumberField(refreshTbl, "proactive_window_sec"); sec > 0 {
			cfg.Refresh.ProactiveWindow = time.Duration(sec) * time.Second
		}
	}

	if mockTbl := getTableField(tbl, "mock"); mockTbl != nil {
		cfg.Mock.Enabled = getBoolField(mockTbl, "enabled")
		cfg.Mock.Strict = getBoolField(mockTbl, "strict")
	}

	return cfg
}

// Lua table helper functions

func getStringField(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getNumberField(tbl *lua.LTable, key string) float64 {
	v := tbl.RawGetString(key)
	if n, ok := v.(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func getBoolField(tbl *lua.LTable, key string) bool {
	v := tbl.RawGetString(key)
	if b, ok := v.(lua.LBool); ok {
		return bool(b)
	}
	return false
}

func getTableField(tbl *lua.LTable, key string) *lua.LTable {
	v := tbl.RawGetString(key)
	if t, ok := v.(*lua.LTable); ok {
		return t
	}
	return nil
}

func getIntSliceField(tbl *lua.LTable, key string) []int {
	v := tbl.RawGetString(key)
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var result []int
	t.ForEach(func(_ lua.LValue, val lua.LValue) {
		if n, ok := val.(lua.LNumber); ok {
			result = append(result, int(n))
		}
	})
	return result
}

func getStringMapField(tbl *lua.LTable, key string) map[string]string {
	v := tbl.RawGetString(key)
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	result := make(map[string]string)
	t.ForEach(func(k lua.LValue, val lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			if vs, ok := val.(lua.LString); ok {
				result[string(ks)] = string(vs)
			}
		}
	})
	if len(result) == 0 {
		return nil
	}
	return result
}

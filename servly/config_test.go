package servly

import (
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	c := Config{Gateway: "https://api.example.com"}
	c.setDefaults()

	if c.Auth.Scheme != AuthBearer {
		t.Fatalf("scheme = %q, want bearer", c.Auth.Scheme)
	}
	if c.Auth.Header != "Authorization" || c.Auth.Prefix != "Bearer " {
		t.Fatalf("auth defaults = %q %q", c.Auth.Header, c.Auth.Prefix)
	}
	if c.Storage.Kind != StorageMemory {
		t.Fatalf("storage kind = %q", c.Storage.Kind)
	}
	if len(c.Refresh.Statuses) != 1 || c.Refresh.Statuses[0] != 401 {
		t.Fatalf("refresh statuses = %v", c.Refresh.Statuses)
	}
	if c.Refresh.Field != "refresh_token" || c.Refresh.Mode != RefreshBodyJSON {
		t.Fatalf("refresh defaults = %q %q", c.Refresh.Field, c.Refresh.Mode)
	}
	if c.Refresh.MaxReplays != 1 {
		t.Fatalf("max replays = %d", c.Refresh.MaxReplays)
	}
	if c.Timeout != defaultTimeout {
		t.Fatalf("timeout = %v", c.Timeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{Gateway: "https://api.example.com", Service: "users"}
		c.setDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"relative gateway", func(c *Config) { c.Gateway = "/api" }, true},
		{"empty gateway", func(c *Config) { c.Gateway = "" }, true},
		{"bad scheme", func(c *Config) { c.Auth.Scheme = "digest" }, true},
		{"bad storage kind", func(c *Config) { c.Storage.Kind = "redis" }, true},
		{"file without path", func(c *Config) { c.Storage.Kind = StorageFile }, true},
		{"bad refresh status", func(c *Config) {
			c.Refresh.Endpoint = "/auth/refresh"
			c.Refresh.Statuses = []int{42}
		}, true},
		{"bad refresh mode", func(c *Config) {
			c.Refresh.Endpoint = "/auth/refresh"
			c.Refresh.Mode = "xml"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRefreshEndpointResolution(t *testing.T) {
	c := Config{Gateway: "https://api.example.com/base", Refresh: RefreshConfig{Endpoint: "/auth/refresh"}}
	c.setDefaults()
	ep, err := c.refreshEndpoint()
	if err != nil {
		t.Fatal(err)
	}
	if ep != "https://api.example.com/auth/refresh" {
		t.Fatalf("endpoint = %q", ep)
	}

	c.Refresh.Endpoint = "https://sso.example.com/token"
	ep, err = c.refreshEndpoint()
	if err != nil {
		t.Fatal(err)
	}
	if ep != "https://sso.example.com/token" {
		t.Fatalf("absolute endpoint = %q", ep)
	}
}

func TestProactiveWindowOptional(t *testing.T) {
	c := Config{Gateway: "https://api.example.com"}
	c.setDefaults()
	if c.Refresh.ProactiveWindow != 0 {
		t.Fatalf("proactive window defaulted to %v, want disabled", c.Refresh.ProactiveWindow)
	}
	c.Refresh.ProactiveWindow = 30 * time.Second
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

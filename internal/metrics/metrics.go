// Package metrics collects client instrumentation counters.
package metrics

import (
	"io"

	vm "github.com/VictoriaMetrics/metrics"
)

// Collector receives client event counters.
//
// All methods must be safe for concurrent use. Implementations must never
// record URLs with credentials or token material.
type Collector interface {
	RequestDispatched(method string)
	RequestFailed(method string)
	RequestReplayed(method string)
	MockServed(method string)
	RefreshStarted()
	RefreshOK()
	RefreshFailed()
}

// Noop discards all events. It is the default collector.
type Noop struct{}

func (Noop) RequestDispatched(string) {}
func (Noop) RequestFailed(string)     {}
func (Noop) RequestReplayed(string)   {}
func (Noop) MockServed(string)        {}
func (Noop) RefreshStarted()          {}
func (Noop) RefreshOK()               {}
func (Noop) RefreshFailed()           {}

// VM is a VictoriaMetrics-backed collector. Counters live in a private set
// so multiple clients never collide on global metric names.
type VM struct {
	set *vm.Set
}

// NewVM creates a collector with its own metric set.
func NewVM() *VM {
	return &VM{set: vm.NewSet()}
}

// WritePrometheus dumps all counters in Prometheus text format.
func (c *VM) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

func (c *VM) RequestDispatched(method string) {
	c.set.GetOrCreateCounter(`servly_requests_total{method="` + method + `"}`).Inc()
}

func (c *VM) RequestFailed(method string) {
	c.set.GetOrCreateCounter(`servly_request_failures_total{method="` + method + `"}`).Inc()
}

func (c *VM) RequestReplayed(method string) {
	c.set.GetOrCreateCounter(`servly_request_replays_total{method="` + method + `"}`).Inc()
}

func (c *VM) MockServed(method string) {
	c.set.GetOrCreateCounter(`servly_mock_responses_total{method="` + method + `"}`).Inc()
}

func (c *VM) RefreshStarted() {
	c.set.GetOrCreateCounter("servly_token_refreshes_total").Inc()
}

func (c *VM) RefreshOK() {
	c.set.GetOrCreateCounter("servly_token_refresh_ok_total").Inc()
}

func (c *VM) RefreshFailed() {
	c.set.GetOrCreateCounter("servly_token_refresh_failures_total").Inc()
}

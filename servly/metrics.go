package servly

import (
	"io"

	"github.com/keksclan/goServly/internal/metrics"
)

// MetricsCollector receives client event counters.
//
// All methods must be safe for concurrent use. Implementations must never
// record token material.
type MetricsCollector interface {
	RequestDispatched(method string)
	RequestFailed(method string)
	RequestReplayed(method string)
	MockServed(method string)
	RefreshStarted()
	RefreshOK()
	RefreshFailed()
}

// PrometheusCollector counts client events and renders them in Prometheus
// text format. Each collector owns its metric set, so multiple clients never
// collide on metric names.
type PrometheusCollector struct {
	vm *metrics.VM
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{vm: metrics.NewVM()}
}

// WritePrometheus dumps all counters to w.
func (c *PrometheusCollector) WritePrometheus(w io.Writer) { c.vm.WritePrometheus(w) }

func (c *PrometheusCollector) RequestDispatched(method string) { c.vm.RequestDispatched(method) }
func (c *PrometheusCollector) RequestFailed(method string)     { c.vm.RequestFailed(method) }
func (c *PrometheusCollector) RequestReplayed(method string)   { c.vm.RequestReplayed(method) }
func (c *PrometheusCollector) MockServed(method string)        { c.vm.MockServed(method) }
func (c *PrometheusCollector) RefreshStarted()                 { c.vm.RefreshStarted() }
func (c *PrometheusCollector) RefreshOK()                      { c.vm.RefreshOK() }
func (c *PrometheusCollector) RefreshFailed()                  { c.vm.RefreshFailed() }

package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KernelCollector exposes simulation kernel metrics. It implements
// sim.MetricsRecorder.
type KernelCollector struct {
	gatherer prometheus.Gatherer

	CallbacksDispatched prometheus.Counter
	CallbacksPending    prometheus.Gauge
	SimTimeSeconds      prometheus.Gauge
}

// NewKernelCollector registers kernel metrics against the provided registerer.
func NewKernelCollector(reg prometheus.Registerer) (*KernelCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_kernel_callbacks_dispatched_total",
		Help: "Cumulative number of callbacks dispatched by the simulation kernel.",
	})
	dispatched, err := registerCounter(reg, dispatched, "sim_kernel_callbacks_dispatched_total")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_kernel_callbacks_pending",
		Help: "Number of callbacks currently waiting in the kernel queue.",
	}), "sim_kernel_callbacks_pending")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_kernel_time_seconds",
		Help: "Current simulated time of the kernel in seconds.",
	}), "sim_kernel_time_seconds")
	if err != nil {
		return nil, err
	}

	return &KernelCollector{
		gatherer:            gatherer,
		CallbacksDispatched: dispatched,
		CallbacksPending:    pending,
		SimTimeSeconds:      simTime,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *KernelCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveDispatched counts one dispatched callback.
func (c *KernelCollector) ObserveDispatched() {
	if c == nil || c.CallbacksDispatched == nil {
		return
	}
	c.CallbacksDispatched.Inc()
}

// SetPending updates the queue depth gauge.
func (c *KernelCollector) SetPending(count int) {
	if c == nil || c.CallbacksPending == nil {
		return
	}
	c.CallbacksPending.Set(float64(count))
}

// SetSimTime updates the simulated time gauge.
func (c *KernelCollector) SetSimTime(now time.Duration) {
	if c == nil || c.SimTimeSeconds == nil {
		return
	}
	c.SimTimeSeconds.Set(now.Seconds())
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

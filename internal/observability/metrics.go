package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChannelCollector bundles Prometheus metrics for power model channels. It
// implements core.MetricsRecorder.
type ChannelCollector struct {
	gatherer prometheus.Gatherer

	EventsReported  *prometheus.CounterVec
	StateReports    *prometheus.CounterVec
	EnergyPoppedJ   *prometheus.CounterVec
	StaticCurrentA  *prometheus.GaugeVec
	SupplyVolts     *prometheus.GaugeVec
	LogRowsWritten  *prometheus.CounterVec
	LogFlushErrors  *prometheus.CounterVec
	LogFlushSeconds *prometheus.HistogramVec
}

// NewChannelCollector registers channel Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewChannelCollector(reg prometheus.Registerer) (*ChannelCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powermodel_events_reported_total",
		Help: "Power model event occurrences reported, labeled by channel, module and event.",
	}, []string{"channel", "module", "event"}), "powermodel_events_reported_total")
	if err != nil {
		return nil, err
	}

	states, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powermodel_state_reports_total",
		Help: "Power state reports, labeled by channel, module and the state entered.",
	}, []string{"channel", "module", "state"}), "powermodel_state_reports_total")
	if err != nil {
		return nil, err
	}

	energy, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powermodel_dynamic_energy_joules_total",
		Help: "Dynamic energy popped from a channel, in joules.",
	}, []string{"channel"}), "powermodel_dynamic_energy_joules_total")
	if err != nil {
		return nil, err
	}

	current, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powermodel_static_current_amperes",
		Help: "Static current of a channel at the last sample, in amperes.",
	}, []string{"channel"}), "powermodel_static_current_amperes")
	if err != nil {
		return nil, err
	}

	volts, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "powermodel_supply_voltage_volts",
		Help: "Supply voltage of a channel, in volts.",
	}, []string{"channel"}), "powermodel_supply_voltage_volts")
	if err != nil {
		return nil, err
	}

	rows, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powermodel_log_rows_written_total",
		Help: "Rows appended to the CSV power logs, labeled by channel and log.",
	}, []string{"channel", "log"}), "powermodel_log_rows_written_total")
	if err != nil {
		return nil, err
	}

	flushErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powermodel_log_flush_errors_total",
		Help: "Failed CSV power log flushes, labeled by channel and log.",
	}, []string{"channel", "log"}), "powermodel_log_flush_errors_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "powermodel_log_flush_duration_seconds",
		Help:    "Wall-clock duration of CSV power log flushes in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"channel", "log"}), "powermodel_log_flush_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &ChannelCollector{
		gatherer:        gatherer,
		EventsReported:  events,
		StateReports:    states,
		EnergyPoppedJ:   energy,
		StaticCurrentA:  current,
		SupplyVolts:     volts,
		LogRowsWritten:  rows,
		LogFlushErrors:  flushErrors,
		LogFlushSeconds: durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ChannelCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ChannelCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *ChannelCollector) EventReported(channel, module, event string, n uint64) {
	if c == nil || c.EventsReported == nil {
		return
	}
	c.EventsReported.WithLabelValues(channel, module, event).Add(float64(n))
}

func (c *ChannelCollector) StateReported(channel, module, state string) {
	if c == nil || c.StateReports == nil {
		return
	}
	c.StateReports.WithLabelValues(channel, module, state).Inc()
}

func (c *ChannelCollector) EnergyPopped(channel string, joules float64) {
	if c == nil || c.EnergyPoppedJ == nil || joules <= 0 {
		return
	}
	c.EnergyPoppedJ.WithLabelValues(channel).Add(joules)
}

func (c *ChannelCollector) StaticCurrent(channel string, amps float64) {
	if c == nil || c.StaticCurrentA == nil {
		return
	}
	c.StaticCurrentA.WithLabelValues(channel).Set(amps)
}

func (c *ChannelCollector) SupplyVoltage(channel string, volts float64) {
	if c == nil || c.SupplyVolts == nil {
		return
	}
	c.SupplyVolts.WithLabelValues(channel).Set(volts)
}

func (c *ChannelCollector) LogFlushed(channel, log string, rows int, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	if c.LogFlushSeconds != nil {
		c.LogFlushSeconds.WithLabelValues(channel, log).Observe(elapsed.Seconds())
	}
	if err != nil {
		if c.LogFlushErrors != nil {
			c.LogFlushErrors.WithLabelValues(channel, log).Inc()
		}
		return
	}
	if c.LogRowsWritten != nil {
		c.LogRowsWritten.WithLabelValues(channel, log).Add(float64(rows))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

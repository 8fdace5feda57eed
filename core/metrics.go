package core

import "time"

// MetricsRecorder receives channel activity. observability.ChannelCollector
// implements it.
type MetricsRecorder interface {
	EventReported(channel, module, event string, n uint64)
	StateReported(channel, module, state string)
	EnergyPopped(channel string, joules float64)
	StaticCurrent(channel string, amps float64)
	SupplyVoltage(channel string, volts float64)
	LogFlushed(channel, log string, rows int, elapsed time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) EventReported(string, string, string, uint64)         {}
func (noopMetrics) StateReported(string, string, string)                 {}
func (noopMetrics) EnergyPopped(string, float64)                         {}
func (noopMetrics) StaticCurrent(string, float64)                        {}
func (noopMetrics) SupplyVoltage(string, float64)                        {}
func (noopMetrics) LogFlushed(string, string, int, time.Duration, error) {}

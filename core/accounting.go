package core

import (
	"fmt"

	"github.com/signalsfoundry/powermodel-sim/internal/sim"
)

// ReportEvent adds n occurrences of an event. It fails with
// ErrSimulationNotRunning before the run phase.
func (c *Channel) ReportEvent(id EventID, n uint) error {
	c.mustEvent(id)
	if !c.kernel.Running() {
		return fmt.Errorf("report event %d: %w", id, ErrSimulationNotRunning)
	}
	c.pending[id] += uint64(n)
	c.intervalCounts[id] += uint64(n)

	e := c.events[id]
	c.metrics.EventReported(c.name, c.moduleNames[e.module], e.model.Name(), uint64(n))
	return nil
}

// ReportState moves the owning module into the given state. It fails with
// ErrSimulationNotRunning before the run phase. Time spent in the previous
// state is not accounted for.
func (c *Channel) ReportState(id StateID) error {
	c.mustState(id)
	if !c.kernel.Running() {
		return fmt.Errorf("report state %d: %w", id, ErrSimulationNotRunning)
	}
	s := c.states[id]
	c.current[s.module] = id
	c.metrics.StateReported(c.name, c.moduleNames[s.module], s.model.Name())
	return nil
}

// PopEventCount returns the occurrences of an event since the last pop and
// resets the counter.
func (c *Channel) PopEventCount(id EventID) (uint64, error) {
	c.mustEvent(id)
	if !c.kernel.Running() {
		return 0, fmt.Errorf("pop event %d: %w", id, ErrSimulationNotRunning)
	}
	n := c.pending[id]
	c.pending[id] = 0
	return n, nil
}

// PopEventEnergy pops the counter of an event and converts it to joules at
// the supply voltage in effect now.
func (c *Channel) PopEventEnergy(id EventID) (float64, error) {
	n, err := c.PopEventCount(id)
	if err != nil {
		return 0, err
	}
	joules := float64(n) * c.events[id].model.Energy(c.voltage.Volts())
	return joules, nil
}

// PopDynamicEnergy pops every event in ID order and returns the total
// energy in joules.
func (c *Channel) PopDynamicEnergy() (float64, error) {
	if !c.kernel.Running() {
		return 0, fmt.Errorf("pop dynamic energy: %w", ErrSimulationNotRunning)
	}
	var total float64
	for id := range c.events {
		joules, err := c.PopEventEnergy(EventID(id))
		if err != nil {
			return total, err
		}
		total += joules
	}
	c.metrics.EnergyPopped(c.name, total)
	return total, nil
}

// StaticCurrent returns the total current drawn by the current states of all
// modules at the present supply voltage. Modules without a state contribute
// nothing. Each call also records a static power sample for the power log.
func (c *Channel) StaticCurrent() float64 {
	v := c.voltage.Volts()
	var total float64
	values := make([]float64, len(c.moduleNames))
	for mid, sid := range c.current {
		if sid == NoState {
			continue
		}
		amps := c.states[sid].model.Current(v)
		total += amps
		values[mid] = v * amps
	}
	c.metrics.StaticCurrent(c.name, total)
	c.sampleStaticPower(values)
	return total
}

// SampleDynamicPower records a dynamic power sample for the power log: per
// event, the occurrences in the in-progress log interval times their energy
// at the present supply voltage, divided by the log interval. It does not
// pop any counter.
func (c *Channel) SampleDynamicPower() {
	v := c.voltage.Volts()
	values := make([]float64, len(c.events))
	if c.interval > 0 {
		secs := c.interval.Seconds()
		for id, e := range c.events {
			values[id] = float64(c.intervalCounts[id]) * e.model.Energy(v) / secs
		}
	}
	c.sampleDynamicPower(values)
}

// SupplyVoltage returns the current supply voltage.
func (c *Channel) SupplyVoltage() float64 { return c.voltage.Volts() }

// SetSupplyVoltage changes the supply voltage. A distinct value notifies
// SupplyVoltageChanged with zero delay; the same value is a no-op.
func (c *Channel) SetSupplyVoltage(volts float64) {
	if c.voltage.Set(volts) {
		c.metrics.SupplyVoltage(c.name, volts)
	}
}

// SupplyVoltageChanged returns the notification event triggered whenever the
// supply voltage changes.
func (c *Channel) SupplyVoltageChanged() *sim.Event { return c.voltage.Changed() }

// Voltage returns the supply voltage domain of the channel.
func (c *Channel) Voltage() *VoltageDomain { return c.voltage }

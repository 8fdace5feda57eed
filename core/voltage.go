package core

import (
	"github.com/signalsfoundry/powermodel-sim/internal/sim"
)

// VoltageDomain carries the supply voltage shared by every module bound to a
// channel and notifies sensitive processes when it changes.
type VoltageDomain struct {
	volts   float64
	changed *sim.Event
}

func newVoltageDomain(volts float64, changed *sim.Event) *VoltageDomain {
	return &VoltageDomain{volts: volts, changed: changed}
}

// Volts returns the current supply voltage.
func (d *VoltageDomain) Volts() float64 { return d.volts }

// Set updates the supply voltage. A new value triggers a zero-delay
// notification of the changed event; setting the current value again does
// nothing. It reports whether the value changed.
func (d *VoltageDomain) Set(volts float64) bool {
	if d.volts == volts {
		return false
	}
	d.volts = volts
	if d.changed != nil {
		d.changed.Notify(0)
	}
	return true
}

// Changed returns the notification event triggered on every voltage change.
func (d *VoltageDomain) Changed() *sim.Event { return d.changed }

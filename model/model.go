// Package model holds the energy and current models that simulated modules
// register with a power model channel.
//
// An event model converts one occurrence of a discrete action (a memory read,
// a radio transmission) into joules. A state model converts a continuously
// held mode (idle, sleeping, powered off) into amperes. Both are evaluated at
// the channel's current supply voltage and are never mutated once registered.
package model

// EventModel is the energy model of a discrete event.
type EventModel interface {
	// Name identifies the event within its module, e.g. "write".
	Name() string
	// Energy returns the energy in joules consumed by a single occurrence of
	// the event at the given supply voltage.
	Energy(supplyVoltage float64) float64
}

// StateModel is the current model of a module state.
type StateModel interface {
	// Name identifies the state within its module, e.g. "on".
	Name() string
	// Current returns the current in amperes drawn while in this state at
	// the given supply voltage.
	Current(supplyVoltage float64) float64
}

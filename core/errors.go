package core

import "errors"

var (
	// ErrRegistrationAfterStart is returned when an event or state is
	// registered once the simulation has entered its run phase.
	ErrRegistrationAfterStart = errors.New("power model registration after simulation start")
	// ErrDuplicateName is returned when a module registers the same event or
	// state name twice.
	ErrDuplicateName = errors.New("name already registered for module")
	// ErrInvalidRegistration is returned for a nil model or an empty module name.
	ErrInvalidRegistration = errors.New("invalid power model registration")
	// ErrSimulationNotRunning is returned when events or states are reported,
	// or counters popped, before the simulation has started.
	ErrSimulationNotRunning = errors.New("simulation not running")
	// ErrLogStorage wraps failures to create or write the CSV logs.
	ErrLogStorage = errors.New("power log storage")
)

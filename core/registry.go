package core

import (
	"fmt"

	"github.com/signalsfoundry/powermodel-sim/model"
)

// ModuleID identifies a module registered with a channel. IDs are dense and
// assigned in order of first registration.
type ModuleID int

// EventID identifies a registered event. IDs are dense across all modules.
type EventID int

// StateID identifies a registered state. IDs are dense across all modules.
type StateID int

// NoState marks a module that has no current state.
const NoState StateID = -1

type eventEntry struct {
	model  model.EventModel
	module ModuleID
}

type stateEntry struct {
	model  model.StateModel
	module ModuleID
}

// RegisterEvent registers an event model for the named module and returns
// the ID to report occurrences with. Events can only be registered before
// the simulation starts.
func (c *Channel) RegisterEvent(moduleName string, m model.EventModel) (EventID, error) {
	if c.kernel.Running() || c.started {
		return -1, fmt.Errorf("register event for module %q: %w", moduleName, ErrRegistrationAfterStart)
	}
	if m == nil || moduleName == "" {
		return -1, fmt.Errorf("register event for module %q: %w", moduleName, ErrInvalidRegistration)
	}

	if mid, ok := c.moduleIndex[moduleName]; ok {
		for _, e := range c.events {
			if e.module == mid && e.model.Name() == m.Name() {
				return -1, fmt.Errorf("event %q for module %q: %w", m.Name(), moduleName, ErrDuplicateName)
			}
		}
	}

	mid := c.moduleID(moduleName)
	id := EventID(len(c.events))
	c.events = append(c.events, eventEntry{model: m, module: mid})
	c.pending = append(c.pending, 0)
	c.intervalCounts = append(c.intervalCounts, 0)
	return id, nil
}

// RegisterState registers a state model for the named module and returns the
// ID to report the state with. The first state registered for a module is
// its default current state. States can only be registered before the
// simulation starts.
func (c *Channel) RegisterState(moduleName string, m model.StateModel) (StateID, error) {
	if c.kernel.Running() || c.started {
		return -1, fmt.Errorf("register state for module %q: %w", moduleName, ErrRegistrationAfterStart)
	}
	if m == nil || moduleName == "" {
		return -1, fmt.Errorf("register state for module %q: %w", moduleName, ErrInvalidRegistration)
	}

	if mid, ok := c.moduleIndex[moduleName]; ok {
		for _, s := range c.states {
			if s.module == mid && s.model.Name() == m.Name() {
				return -1, fmt.Errorf("state %q for module %q: %w", m.Name(), moduleName, ErrDuplicateName)
			}
		}
	}

	mid := c.moduleID(moduleName)
	id := StateID(len(c.states))
	c.states = append(c.states, stateEntry{model: m, module: mid})
	if c.current[mid] == NoState {
		c.current[mid] = id
	}
	return id, nil
}

// moduleID returns the ID for moduleName, allocating one on first use.
func (c *Channel) moduleID(moduleName string) ModuleID {
	if mid, ok := c.moduleIndex[moduleName]; ok {
		return mid
	}
	mid := ModuleID(len(c.moduleNames))
	c.moduleNames = append(c.moduleNames, moduleName)
	c.moduleIndex[moduleName] = mid
	c.current = append(c.current, NoState)
	return mid
}

// ModuleNames returns the registered module names indexed by ModuleID.
func (c *Channel) ModuleNames() []string {
	return append([]string(nil), c.moduleNames...)
}

// Module looks up the ID of a registered module.
func (c *Channel) Module(name string) (ModuleID, bool) {
	mid, ok := c.moduleIndex[name]
	return mid, ok
}

// NumEvents returns the number of registered events.
func (c *Channel) NumEvents() int { return len(c.events) }

// NumStates returns the number of registered states.
func (c *Channel) NumStates() int { return len(c.states) }

// Event returns the owning module and model of a registered event.
func (c *Channel) Event(id EventID) (ModuleID, model.EventModel) {
	c.mustEvent(id)
	e := c.events[id]
	return e.module, e.model
}

// State returns the owning module and model of a registered state.
func (c *Channel) State(id StateID) (ModuleID, model.StateModel) {
	c.mustState(id)
	s := c.states[id]
	return s.module, s.model
}

// CurrentState returns the state a module currently occupies, or NoState.
func (c *Channel) CurrentState(mid ModuleID) StateID {
	if mid < 0 || int(mid) >= len(c.current) {
		panic(fmt.Sprintf("core: module id %d out of range [0,%d)", mid, len(c.current)))
	}
	return c.current[mid]
}

func (c *Channel) mustEvent(id EventID) {
	if id < 0 || int(id) >= len(c.events) {
		panic(fmt.Sprintf("core: event id %d out of range [0,%d)", id, len(c.events)))
	}
}

func (c *Channel) mustState(id StateID) {
	if id < 0 || int(id) >= len(c.states) {
		panic(fmt.Sprintf("core: state id %d out of range [0,%d)", id, len(c.states)))
	}
}

package sim

import (
	"sync"
	"time"
)

// Event is a named notification that processes can be sensitive to, such as
// "supply voltage changed". It is unrelated to power model events.
type Event struct {
	k    *Kernel
	name string

	mu          sync.Mutex
	pendingID   string
	pendingAt   time.Duration
	subscribers []func()
	waiters     []func()
}

// NewEvent creates a notification event bound to the kernel.
func (k *Kernel) NewEvent(name string) *Event {
	return &Event{k: k, name: name}
}

// Name returns the event name.
func (e *Event) Name() string { return e.name }

// Subscribe registers fn to run on every trigger of the event.
func (e *Event) Subscribe(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// Wait registers fn to run on the next trigger only.
func (e *Event) Wait(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waiters = append(e.waiters, fn)
}

// Notify triggers the event delay after the current simulation time. A
// zero delay triggers in the next dispatch at the current time, after the
// notifying callback returns. An earlier pending notification wins over a
// later one; a later pending one is replaced.
func (e *Event) Notify(delay time.Duration) {
	at := e.k.Now() + delay

	e.mu.Lock()
	if e.pendingID != "" {
		if e.pendingAt <= at {
			e.mu.Unlock()
			return
		}
		e.k.Cancel(e.pendingID)
	}
	e.pendingAt = at
	e.pendingID = e.k.Schedule(at, e.trigger)
	e.mu.Unlock()
}

// Pending reports whether a notification is scheduled.
func (e *Event) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingID != ""
}

func (e *Event) trigger() {
	e.mu.Lock()
	e.pendingID = ""
	subs := append([]func(){}, e.subscribers...)
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	for _, fn := range waiters {
		fn()
	}
}

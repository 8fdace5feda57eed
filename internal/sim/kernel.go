// Package sim provides the discrete-event kernel that hosts simulated
// hardware modules and their power model channels.
//
// The kernel owns simulated time and a time-ordered queue of callbacks. A
// cooperative task suspends by scheduling its continuation with After and
// returning; there is a single logical thread of control, so callbacks never
// interleave.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/powermodel-sim/internal/logging"
)

// ErrStopped is returned when running a kernel that has already been stopped.
var ErrStopped = errors.New("simulation kernel stopped")

// Phase is the lifecycle phase of a Kernel.
type Phase int

const (
	// Elaboration is the setup phase before simulated time starts advancing.
	Elaboration Phase = iota
	// Running is the run phase: simulated time advances and callbacks dispatch.
	Running
	// Stopped is entered once the simulation has ended.
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Elaboration:
		return "elaboration"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MetricsRecorder receives kernel activity. observability.KernelCollector
// implements it.
type MetricsRecorder interface {
	ObserveDispatched()
	SetPending(n int)
	SetSimTime(t time.Duration)
}

// Option customises a Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger.
func WithLogger(l logging.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(k *Kernel) { k.metrics = m }
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Duration
	f         func()
	cancelled bool
}

// Kernel is a discrete-event simulation kernel.
type Kernel struct {
	mu      sync.Mutex
	now     time.Duration
	phase   Phase
	counter uint64
	events  []*scheduledEvent // ordered by 'when', FIFO among equal times
	index   map[string]*scheduledEvent

	startHooks []func()
	endHooks   []func()

	log     logging.Logger
	metrics MetricsRecorder
}

// NewKernel creates a kernel in the elaboration phase at time zero.
func NewKernel(opts ...Option) *Kernel {
	k := &Kernel{
		index: make(map[string]*scheduledEvent),
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Now returns the current simulation time.
func (k *Kernel) Now() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// Phase returns the current lifecycle phase.
func (k *Kernel) Phase() Phase {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.phase
}

// Running reports whether the kernel is in its run phase.
func (k *Kernel) Running() bool {
	return k.Phase() == Running
}

// OnStart registers a callback that runs once when the kernel enters the run
// phase. Hooks registered after that point are ignored.
func (k *Kernel) OnStart(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.phase == Elaboration {
		k.startHooks = append(k.startHooks, fn)
	}
}

// OnEnd registers a callback that runs once when the kernel is stopped.
func (k *Kernel) OnEnd(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.phase != Stopped {
		k.endHooks = append(k.endHooks, fn)
	}
}

// Schedule registers a callback to run at simulation time 'at'. Times in the
// past run at the next dispatch without moving time backwards.
func (k *Kernel) Schedule(at time.Duration, f func()) (id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.counter++
	id = fmt.Sprintf("ev-%d", k.counter)

	ev := &scheduledEvent{
		id:   id,
		when: at,
		f:    f,
	}
	k.addEventLocked(ev)
	k.index[id] = ev
	k.reportPendingLocked()

	return id
}

// After schedules f to run d after the current simulation time.
func (k *Kernel) After(d time.Duration, f func()) (id string) {
	return k.Schedule(k.Now()+d, f)
}

// addEventLocked inserts an event into the events slice maintaining time order.
// Caller must hold k.mu lock.
func (k *Kernel) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(k.events), func(i int) bool {
		return k.events[i].when > ev.when
	})

	k.events = append(k.events, nil)
	copy(k.events[idx+1:], k.events[idx:])
	k.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled callback. It is a no-op if
// the ID is unknown or the callback already ran.
func (k *Kernel) Cancel(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ev, ok := k.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(k.index, id)
	k.reportPendingLocked()
}

// Pending returns the number of callbacks waiting to run.
func (k *Kernel) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.index)
}

// Start enters the run phase and runs the start hooks. It is a no-op unless
// the kernel is still elaborating.
func (k *Kernel) Start() {
	k.mu.Lock()
	if k.phase != Elaboration {
		k.mu.Unlock()
		return
	}
	k.phase = Running
	hooks := k.startHooks
	k.startHooks = nil
	k.mu.Unlock()

	k.log.Debug(context.Background(), "simulation started", logging.Int("start_hooks", len(hooks)))
	for _, fn := range hooks {
		fn()
	}
}

// RunUntil dispatches every callback scheduled at or before t, in time order,
// and then advances simulation time to t. A kernel still elaborating is
// started first.
func (k *Kernel) RunUntil(t time.Duration) error {
	switch k.Phase() {
	case Stopped:
		return ErrStopped
	case Elaboration:
		k.Start()
	}

	for {
		k.mu.Lock()
		if k.phase != Running {
			k.mu.Unlock()
			return nil
		}
		ev := k.popNextLocked(t)
		if ev == nil {
			if t > k.now {
				k.now = t
			}
			now := k.now
			k.mu.Unlock()
			if k.metrics != nil {
				k.metrics.SetSimTime(now)
			}
			return nil
		}
		if ev.when > k.now {
			k.now = ev.when
		}
		now := k.now
		k.mu.Unlock()

		if k.metrics != nil {
			k.metrics.SetSimTime(now)
			k.metrics.ObserveDispatched()
		}

		// Execute callback OUTSIDE the lock to allow re-entrancy.
		if ev.f != nil {
			ev.f()
		}
	}
}

// Run dispatches callbacks for the given duration of simulated time.
func (k *Kernel) Run(d time.Duration) error {
	return k.RunUntil(k.Now() + d)
}

// Stop ends the simulation: pending callbacks are discarded and the end hooks
// run once.
func (k *Kernel) Stop() {
	k.mu.Lock()
	if k.phase == Stopped {
		k.mu.Unlock()
		return
	}
	k.phase = Stopped
	hooks := k.endHooks
	k.endHooks = nil
	k.events = nil
	k.index = make(map[string]*scheduledEvent)
	k.reportPendingLocked()
	now := k.now
	k.mu.Unlock()

	k.log.Debug(context.Background(), "simulation stopped", logging.Duration("sim_time", now))
	for _, fn := range hooks {
		fn()
	}
}

// popNextLocked removes and returns the next non-cancelled callback due at or
// before limit. Caller must hold k.mu lock.
func (k *Kernel) popNextLocked(limit time.Duration) *scheduledEvent {
	for len(k.events) > 0 {
		ev := k.events[0]
		if ev.cancelled {
			k.events = k.events[1:]
			continue
		}
		if ev.when > limit {
			// Events are ordered by time, so if this one is in the future, all later ones are too
			return nil
		}
		k.events = k.events[1:]
		delete(k.index, ev.id)
		k.reportPendingLocked()
		return ev
	}
	return nil
}

func (k *Kernel) reportPendingLocked() {
	if k.metrics != nil {
		k.metrics.SetPending(len(k.index))
	}
}

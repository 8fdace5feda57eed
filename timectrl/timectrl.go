package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time, measured as the
// duration elapsed since time zero of the simulation.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Duration
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration string onto a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "realtime", "real-time":
		return RealTime, true
	case "accelerated", "":
		return Accelerated, true
	default:
		return Accelerated, false
	}
}

// TimeController paces simulation time and notifies registered listeners on
// every tick. Listeners typically run a simulation kernel up to the new time.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode

	currentTime time.Duration

	listeners []func(time.Duration)
}

// NewTimeController constructs a controller starting at time zero.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Tick: tick,
		Mode: mode,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the controller to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Duration)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for the specified duration in a separate goroutine.
// It returns a channel that is closed when the controller finishes. The last
// tick is shortened so that simulation time ends exactly at duration.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	return tc.StartContext(context.Background(), duration)
}

// StartContext is like Start but also finishes, without further ticks, once
// ctx is done.
func (tc *TimeController) StartContext(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		if tc.Tick <= 0 {
			return
		}

		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}

		simTime := tc.Now()
		end := simTime + duration
		for duration <= 0 || simTime < end {
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			} else if ctx.Err() != nil {
				return
			}
			step := tc.Tick
			if duration > 0 && simTime+step > end {
				step = end - simTime
			}
			simTime += step

			tc.mu.Lock()
			tc.currentTime = simTime
			listeners := append([]func(time.Duration){}, tc.listeners...)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}

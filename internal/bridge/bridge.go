// Package bridge converts the energy and current accounted by a power model
// channel into a supply current, one sample per timestep.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/powermodel-sim/internal/logging"
)

// Channel is the consumer side of a power model channel. *core.Channel
// implements it.
type Channel interface {
	SupplyVoltage() float64
	SetSupplyVoltage(volts float64)
	PopDynamicEnergy() (float64, error)
	StaticCurrent() float64
	SampleDynamicPower()
}

// Kernel schedules the bridge. *sim.Kernel implements it.
type Kernel interface {
	Now() time.Duration
	Running() bool
	After(d time.Duration, f func()) string
	OnStart(fn func())
}

// Sample is the outcome of one bridge timestep.
type Sample struct {
	At            time.Duration `csv:"-"`
	TimeUS        int64         `csv:"time_us"`
	Voltage       float64       `csv:"voltage_v"`
	DynamicEnergy float64       `csv:"dynamic_energy_j"`
	StaticCurrent float64       `csv:"static_current_a"`
	Current       float64       `csv:"current_a"`
}

// Option customises a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l logging.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithVoltageSource sets the input supplying the voltage applied to the
// channel each timestep. By default the channel voltage is left unchanged.
func WithVoltageSource(fn func() float64) Option {
	return func(b *Bridge) { b.input = fn }
}

// WithSink adds a callback receiving every sample.
func WithSink(fn func(Sample)) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.sinks = append(b.sinks, fn)
		}
	}
}

// Bridge samples a channel every timestep of simulated time.
type Bridge struct {
	kernel   Kernel
	ch       Channel
	timestep time.Duration
	input    func() float64
	sinks    []func(Sample)
	log      logging.Logger

	last          Sample
	steps         int
	dynamicEnergy float64
	totalEnergy   float64
	err           error
}

// New creates a bridge that starts sampling when the kernel enters its run
// phase.
func New(kernel Kernel, ch Channel, timestep time.Duration, opts ...Option) (*Bridge, error) {
	if kernel == nil || ch == nil {
		return nil, errors.New("bridge: kernel and channel are required")
	}
	if timestep <= 0 {
		return nil, fmt.Errorf("bridge: invalid timestep %s", timestep)
	}
	b := &Bridge{
		kernel:   kernel,
		ch:       ch,
		timestep: timestep,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if kernel.Running() {
		b.start()
	} else {
		kernel.OnStart(b.start)
	}
	return b, nil
}

func (b *Bridge) start() {
	b.applyVoltage()
	b.kernel.After(b.timestep, b.step)
}

func (b *Bridge) applyVoltage() float64 {
	if b.input != nil {
		b.ch.SetSupplyVoltage(b.input())
	}
	return b.ch.SupplyVoltage()
}

// step converts the energy of the elapsed timestep into a current:
// I = E / (V * dt) + I_static.
func (b *Bridge) step() {
	if !b.kernel.Running() {
		return
	}

	v := b.applyVoltage()
	energy, err := b.ch.PopDynamicEnergy()
	if err != nil {
		b.err = err
		b.log.Error(context.Background(), "bridge stopped", logging.Err(err))
		return
	}
	static := b.ch.StaticCurrent()
	b.ch.SampleDynamicPower()

	dt := b.timestep.Seconds()
	var current float64
	if v != 0 {
		current = energy/(v*dt) + static
	}

	now := b.kernel.Now()
	s := Sample{
		At:            now,
		TimeUS:        now.Microseconds(),
		Voltage:       v,
		DynamicEnergy: energy,
		StaticCurrent: static,
		Current:       current,
	}
	b.last = s
	b.steps++
	b.dynamicEnergy += energy
	b.totalEnergy += energy + static*v*dt

	for _, sink := range b.sinks {
		sink(s)
	}
	b.kernel.After(b.timestep, b.step)
}

// Current returns the supply current of the last timestep in amperes.
func (b *Bridge) Current() float64 { return b.last.Current }

// Last returns the most recent sample.
func (b *Bridge) Last() Sample { return b.last }

// Steps returns the number of completed timesteps.
func (b *Bridge) Steps() int { return b.steps }

// DynamicEnergy returns the dynamic energy drawn so far in joules.
func (b *Bridge) DynamicEnergy() float64 { return b.dynamicEnergy }

// TotalEnergy returns the dynamic plus static energy drawn so far in joules.
func (b *Bridge) TotalEnergy() float64 { return b.totalEnergy }

// Err returns the error that stopped the bridge, if any.
func (b *Bridge) Err() error { return b.err }

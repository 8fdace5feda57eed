package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/powermodel-sim/internal/sim"
	"github.com/signalsfoundry/powermodel-sim/model"
)

func newTestChannel(t *testing.T, k *sim.Kernel, opts ...Option) *Channel {
	t.Helper()
	ch, err := NewChannel(k, Config{Name: "test", LogDir: DisabledLogDir}, opts...)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestChannel_PopEventCountDrainsCounter(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k)

	id, err := ch.RegisterEvent("mem", model.NewConstantEnergyEvent("read", 1e-3))
	if err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	k.Start()

	for _, n := range []uint{1, 4, 0, 7} {
		if err := ch.ReportEvent(id, n); err != nil {
			t.Fatalf("ReportEvent: %v", err)
		}
	}
	if got, err := ch.PopEventCount(id); err != nil || got != 12 {
		t.Fatalf("PopEventCount = %d, %v; want 12, nil", got, err)
	}
	if got, _ := ch.PopEventCount(id); got != 0 {
		t.Fatalf("second PopEventCount = %d, want 0", got)
	}
}

func TestChannel_PopEventEnergyUsesVoltageAtPopTime(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k, WithSupplyVoltage(1.0))

	id, err := ch.RegisterEvent("mem", model.NewScaledEnergyEvent("write", 1e-3, 1.0))
	if err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	k.Start()

	if err := ch.ReportEvent(id, 3); err != nil {
		t.Fatalf("ReportEvent: %v", err)
	}
	ch.SetSupplyVoltage(2.0)

	got, err := ch.PopEventEnergy(id)
	if err != nil {
		t.Fatalf("PopEventEnergy: %v", err)
	}
	// 3 * 1mJ * (2/1)^2
	if want := 12e-3; !approx(got, want) {
		t.Fatalf("PopEventEnergy = %g, want %g", got, want)
	}
}

func TestChannel_PopDynamicEnergySumsAllEvents(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k, WithSupplyVoltage(1.0))

	read, _ := ch.RegisterEvent("mem", model.NewConstantEnergyEvent("read", 5e-5))
	write, _ := ch.RegisterEvent("mem", model.NewConstantEnergyEvent("write", 1e-3))
	tx, _ := ch.RegisterEvent("radio", model.NewConstantEnergyEvent("tx", 2e-3))
	k.Start()

	_ = ch.ReportEvent(read, 10)
	_ = ch.ReportEvent(write, 2)
	_ = ch.ReportEvent(tx, 1)

	got, err := ch.PopDynamicEnergy()
	if err != nil {
		t.Fatalf("PopDynamicEnergy: %v", err)
	}
	if want := 10*5e-5 + 2*1e-3 + 2e-3; !approx(got, want) {
		t.Fatalf("PopDynamicEnergy = %g, want %g", got, want)
	}
	if got, _ := ch.PopDynamicEnergy(); got != 0 {
		t.Fatalf("second PopDynamicEnergy = %g, want 0", got)
	}
}

func TestChannel_DuplicateNames(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k)

	a, err := ch.RegisterEvent("mem0", model.NewConstantEnergyEvent("read", 1))
	if err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	if _, err := ch.RegisterEvent("mem0", model.NewConstantEnergyEvent("read", 2)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate event error = %v, want ErrDuplicateName", err)
	}
	b, err := ch.RegisterEvent("mem1", model.NewConstantEnergyEvent("read", 1))
	if err != nil {
		t.Fatalf("RegisterEvent on second module: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct ids, both are %d", a)
	}
	if ch.NumEvents() != 2 {
		t.Fatalf("NumEvents = %d, want 2 (duplicate must have no effect)", ch.NumEvents())
	}

	if _, err := ch.RegisterState("mem0", model.NewConstantCurrentState("on", 1)); err != nil {
		t.Fatalf("RegisterState: %v", err)
	}
	if _, err := ch.RegisterState("mem0", model.NewConstantCurrentState("on", 2)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate state error = %v, want ErrDuplicateName", err)
	}
	// An event and a state may share a name.
	if _, err := ch.RegisterState("mem0", model.NewConstantCurrentState("read", 0)); err != nil {
		t.Fatalf("RegisterState with event name: %v", err)
	}
}

func TestChannel_PhaseErrors(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k)

	ev, _ := ch.RegisterEvent("mem", model.NewConstantEnergyEvent("read", 1))
	st, _ := ch.RegisterState("mem", model.NewConstantCurrentState("on", 1))

	if err := ch.ReportEvent(ev, 1); !errors.Is(err, ErrSimulationNotRunning) {
		t.Fatalf("ReportEvent before start = %v, want ErrSimulationNotRunning", err)
	}
	if err := ch.ReportState(st); !errors.Is(err, ErrSimulationNotRunning) {
		t.Fatalf("ReportState before start = %v, want ErrSimulationNotRunning", err)
	}
	if _, err := ch.PopEventCount(ev); !errors.Is(err, ErrSimulationNotRunning) {
		t.Fatalf("PopEventCount before start = %v, want ErrSimulationNotRunning", err)
	}
	if _, err := ch.PopEventEnergy(ev); !errors.Is(err, ErrSimulationNotRunning) {
		t.Fatalf("PopEventEnergy before start = %v, want ErrSimulationNotRunning", err)
	}
	if _, err := ch.PopDynamicEnergy(); !errors.Is(err, ErrSimulationNotRunning) {
		t.Fatalf("PopDynamicEnergy before start = %v, want ErrSimulationNotRunning", err)
	}

	k.Start()

	if _, err := ch.RegisterEvent("mem", model.NewConstantEnergyEvent("write", 1)); !errors.Is(err, ErrRegistrationAfterStart) {
		t.Fatalf("RegisterEvent after start = %v, want ErrRegistrationAfterStart", err)
	}
	if _, err := ch.RegisterState("mem", model.NewConstantCurrentState("off", 0)); !errors.Is(err, ErrRegistrationAfterStart) {
		t.Fatalf("RegisterState after start = %v, want ErrRegistrationAfterStart", err)
	}
	if err := ch.ReportEvent(ev, 1); err != nil {
		t.Fatalf("ReportEvent after start: %v", err)
	}
}

func TestChannel_InvalidIDPanics(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k)
	k.Start()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown event id")
		}
	}()
	_ = ch.ReportEvent(3, 1)
}

func TestChannel_InvalidRegistration(t *testing.T) {
	ch := newTestChannel(t, sim.NewKernel())
	if _, err := ch.RegisterEvent("", model.NewConstantEnergyEvent("read", 1)); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("empty module name error = %v, want ErrInvalidRegistration", err)
	}
	if _, err := ch.RegisterState("mem", nil); !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("nil model error = %v, want ErrInvalidRegistration", err)
	}
}

func TestChannel_StaticCurrent(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k, WithSupplyVoltage(1.0))

	// A module with events only never has a state.
	if _, err := ch.RegisterEvent("dma", model.NewConstantEnergyEvent("copy", 1)); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	off, _ := ch.RegisterState("mem", model.NewConstantCurrentState("off", 0))
	on, _ := ch.RegisterState("mem", model.NewScaledCurrentState("on", 0.1, 1.0))
	k.Start()

	mid, _ := ch.Module("mem")
	if got := ch.CurrentState(mid); got != off {
		t.Fatalf("default state = %d, want first registered state %d", got, off)
	}
	dma, _ := ch.Module("dma")
	if got := ch.CurrentState(dma); got != NoState {
		t.Fatalf("state of module without states = %d, want NoState", got)
	}

	if got := ch.StaticCurrent(); got != 0 {
		t.Fatalf("StaticCurrent in off = %g, want 0", got)
	}
	if err := ch.ReportState(on); err != nil {
		t.Fatalf("ReportState: %v", err)
	}
	if got := ch.StaticCurrent(); !approx(got, 0.1) {
		t.Fatalf("StaticCurrent in on = %g, want 0.1", got)
	}

	ch.SetSupplyVoltage(2.0)
	if got := ch.StaticCurrent(); !approx(got, 0.2) {
		t.Fatalf("StaticCurrent at 2V = %g, want 0.2", got)
	}
}

func TestChannel_WriteOnOffScenario(t *testing.T) {
	const volts = 1.2
	k := sim.NewKernel()
	ch := newTestChannel(t, k, WithSupplyVoltage(volts))

	write, _ := ch.RegisterEvent("mem", model.NewConstantEnergyEvent("write", 0.001))
	on, _ := ch.RegisterState("mem", model.NewScaledCurrentState("on", 0.1, 1.0))
	if _, err := ch.RegisterState("mem", model.NewConstantCurrentState("off", 0)); err != nil {
		t.Fatalf("RegisterState: %v", err)
	}
	k.Start()

	_ = ch.ReportEvent(write, 1)
	_ = ch.ReportEvent(write, 1)
	if got, _ := ch.PopEventEnergy(write); !approx(got, 0.002) {
		t.Fatalf("PopEventEnergy = %g, want 0.002", got)
	}

	_ = ch.ReportState(on)
	if got := ch.StaticCurrent(); !approx(got, 0.1*volts) {
		t.Fatalf("StaticCurrent = %g, want %g", got, 0.1*volts)
	}
}

func TestChannel_SupplyVoltageNotification(t *testing.T) {
	k := sim.NewKernel()
	ch := newTestChannel(t, k, WithSupplyVoltage(1.0))

	var seen []float64
	ch.SupplyVoltageChanged().Subscribe(func() { seen = append(seen, ch.SupplyVoltage()) })

	k.Schedule(time.Microsecond, func() {
		ch.SetSupplyVoltage(1.0)
	})
	k.Schedule(2*time.Microsecond, func() {
		ch.SetSupplyVoltage(0.8)
		if len(seen) != 0 {
			t.Errorf("notification delivered inside the setting callback")
		}
	})
	k.Schedule(3*time.Microsecond, func() {
		ch.SetSupplyVoltage(0.8)
	})

	if err := k.RunUntil(10 * time.Microsecond); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if len(seen) != 1 || seen[0] != 0.8 {
		t.Fatalf("notifications = %v, want [0.8]", seen)
	}
}

type recordingMetrics struct {
	noopMetrics
	events   map[string]uint64
	states   []string
	popped   float64
	voltages []float64
}

func (r *recordingMetrics) EventReported(_, module, event string, n uint64) {
	r.events[module+"/"+event] += n
}

func (r *recordingMetrics) StateReported(_, module, state string) {
	r.states = append(r.states, module+"/"+state)
}

func (r *recordingMetrics) EnergyPopped(_ string, joules float64) { r.popped += joules }

func (r *recordingMetrics) SupplyVoltage(_ string, volts float64) {
	r.voltages = append(r.voltages, volts)
}

func TestChannel_ReportsMetrics(t *testing.T) {
	rec := &recordingMetrics{events: map[string]uint64{}}
	k := sim.NewKernel()
	ch := newTestChannel(t, k, WithMetrics(rec), WithSupplyVoltage(1.0))

	read, _ := ch.RegisterEvent("mem", model.NewConstantEnergyEvent("read", 0.5))
	on, _ := ch.RegisterState("mem", model.NewConstantCurrentState("on", 1))
	k.Start()

	_ = ch.ReportEvent(read, 2)
	_ = ch.ReportState(on)
	_, _ = ch.PopDynamicEnergy()
	ch.SetSupplyVoltage(1.0)
	ch.SetSupplyVoltage(3.3)

	if rec.events["mem/read"] != 2 {
		t.Fatalf("event metric = %d, want 2", rec.events["mem/read"])
	}
	if len(rec.states) != 1 || rec.states[0] != "mem/on" {
		t.Fatalf("state metric = %v, want [mem/on]", rec.states)
	}
	if rec.popped != 1.0 {
		t.Fatalf("popped energy metric = %g, want 1", rec.popped)
	}
	if len(rec.voltages) != 1 || rec.voltages[0] != 3.3 {
		t.Fatalf("voltage metric = %v, want [3.3]", rec.voltages)
	}
}

func TestNewChannel_StartsWhenKernelAlreadyRunning(t *testing.T) {
	k := sim.NewKernel()
	k.Start()
	ch := newTestChannel(t, k)
	if !ch.started {
		t.Fatalf("expected channel bound to a running kernel to start immediately")
	}
}

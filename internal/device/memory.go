// Package device contains simulated hardware components that report their
// activity to a power model channel.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/powermodel-sim/core"
	"github.com/signalsfoundry/powermodel-sim/internal/logging"
	"github.com/signalsfoundry/powermodel-sim/kb"
	"github.com/signalsfoundry/powermodel-sim/model"
)

// Channel is the reporting side of a power model channel. *core.Channel
// implements it.
type Channel interface {
	RegisterEvent(moduleName string, m model.EventModel) (core.EventID, error)
	RegisterState(moduleName string, m model.StateModel) (core.StateID, error)
	ReportEvent(id core.EventID, n uint) error
	ReportState(id core.StateID) error
}

// Kernel schedules device activity. *sim.Kernel implements it.
type Kernel interface {
	Running() bool
	After(d time.Duration, f func()) string
	OnStart(fn func())
}

const (
	// MemoryCatalogModule is the catalog module memory models are read from.
	MemoryCatalogModule = "memory"

	memoryIdle     = 400 * time.Nanosecond
	memoryAccess   = time.Nanosecond
	memoryBurstLen = 45
)

type access int

const (
	accessRead access = iota
	accessWrite
)

// Memory is a memory macro that cycles through idle, read bursts and mixed
// read/write bursts, reporting each access to the power model.
type Memory struct {
	name   string
	kernel Kernel
	ch     Channel
	log    logging.Logger

	read, write core.EventID
	off, on     core.StateID

	program []access
	cycles  int
	err     error
}

// MemoryOption customises a Memory.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	log           logging.Logger
	catalogModule string
}

// WithLogger sets the device logger.
func WithLogger(l logging.Logger) MemoryOption {
	return func(o *memoryOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithCatalogModule selects the catalog module the power models are taken
// from. Defaults to MemoryCatalogModule.
func WithCatalogModule(module string) MemoryOption {
	return func(o *memoryOptions) { o.catalogModule = module }
}

// NewMemory registers the read/write events and off/on states of a memory
// named name with the channel and starts its activity when the kernel
// enters the run phase.
func NewMemory(name string, kernel Kernel, ch Channel, catalog *kb.KnowledgeBase, opts ...MemoryOption) (*Memory, error) {
	o := memoryOptions{log: logging.Noop(), catalogModule: MemoryCatalogModule}
	for _, opt := range opts {
		opt(&o)
	}
	if catalog == nil {
		catalog = kb.Default()
	}

	m := &Memory{
		name:    name,
		kernel:  kernel,
		ch:      ch,
		log:     o.log.With(logging.String("device", name)),
		program: memoryProgram(),
	}

	var err error
	if m.write, err = registerEvent(ch, catalog, name, o.catalogModule, "write"); err != nil {
		return nil, err
	}
	if m.read, err = registerEvent(ch, catalog, name, o.catalogModule, "read"); err != nil {
		return nil, err
	}
	if m.off, err = registerState(ch, catalog, name, o.catalogModule, "off"); err != nil {
		return nil, err
	}
	if m.on, err = registerState(ch, catalog, name, o.catalogModule, "on"); err != nil {
		return nil, err
	}

	if kernel.Running() {
		m.start()
	} else {
		kernel.OnStart(m.start)
	}
	return m, nil
}

func registerEvent(ch Channel, catalog *kb.KnowledgeBase, name, module, event string) (core.EventID, error) {
	em, err := catalog.EventModel(module, event)
	if err != nil {
		return -1, fmt.Errorf("memory %q: %w", name, err)
	}
	return ch.RegisterEvent(name, em)
}

func registerState(ch Channel, catalog *kb.KnowledgeBase, name, module, state string) (core.StateID, error) {
	sm, err := catalog.StateModel(module, state)
	if err != nil {
		return -1, fmt.Errorf("memory %q: %w", name, err)
	}
	return ch.RegisterState(name, sm)
}

// memoryProgram is one active phase: 45 reads, 45 more reads, then 45
// read/write pairs, one access per nanosecond.
func memoryProgram() []access {
	p := make([]access, 0, 4*memoryBurstLen)
	for i := 0; i < 2*memoryBurstLen; i++ {
		p = append(p, accessRead)
	}
	for i := 0; i < memoryBurstLen; i++ {
		p = append(p, accessRead, accessWrite)
	}
	return p
}

func (m *Memory) start() {
	m.kernel.After(memoryIdle, m.powerOn)
}

func (m *Memory) powerOn() {
	if !m.kernel.Running() {
		return
	}
	if !m.check(m.ch.ReportState(m.on)) {
		return
	}
	m.access(0)
}

func (m *Memory) access(i int) {
	if !m.kernel.Running() {
		return
	}
	if i == len(m.program) {
		if !m.check(m.ch.ReportState(m.off)) {
			return
		}
		m.cycles++
		m.kernel.After(memoryIdle, m.powerOn)
		return
	}

	id := m.read
	if m.program[i] == accessWrite {
		id = m.write
	}
	if !m.check(m.ch.ReportEvent(id, 1)) {
		return
	}
	m.kernel.After(memoryAccess, func() { m.access(i + 1) })
}

func (m *Memory) check(err error) bool {
	if err == nil {
		return true
	}
	m.err = err
	m.log.Error(context.Background(), "memory stopped", logging.Err(err))
	return false
}

// Name returns the module name the memory registered under.
func (m *Memory) Name() string { return m.name }

// Cycles returns the number of completed active phases.
func (m *Memory) Cycles() int { return m.cycles }

// Err returns the error that stopped the device, if any.
func (m *Memory) Err() error { return m.err }

// Events returns the read and write event IDs.
func (m *Memory) Events() (read, write core.EventID) { return m.read, m.write }

// States returns the off and on state IDs.
func (m *Memory) States() (off, on core.StateID) { return m.off, m.on }

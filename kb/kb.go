// Package kb holds the power-model knowledge base: the per-module catalog
// of event energies and state currents that devices register with a power
// model channel.
package kb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jszwec/csvutil"

	"github.com/signalsfoundry/powermodel-sim/model"
)

// Kind distinguishes event entries from state entries.
type Kind string

const (
	KindEvent Kind = "event"
	KindState Kind = "state"
)

// Model variants an entry can describe.
const (
	ModelConstant = "constant"
	ModelScaled   = "scaled"
	ModelTable    = "table"
)

var (
	// ErrNotFound is returned when no entry matches a lookup.
	ErrNotFound = errors.New("kb: entry not found")
	// ErrInvalidEntry is returned for malformed catalog entries.
	ErrInvalidEntry = errors.New("kb: invalid entry")
)

// Entry is one catalog row. Value is in joules for events and amperes for
// states. NominalVoltage applies to the scaled variant, Table to the table
// variant ("volts:value;volts:value").
type Entry struct {
	Module         string  `csv:"module"`
	Kind           Kind    `csv:"kind"`
	Name           string  `csv:"name"`
	Model          string  `csv:"model"`
	Value          float64 `csv:"value,omitempty"`
	NominalVoltage float64 `csv:"nominal_voltage,omitempty"`
	Table          string  `csv:"table,omitempty"`
}

func (e Entry) key() string {
	return e.Module + "\x00" + string(e.Kind) + "\x00" + e.Name
}

// Validate checks that the entry describes a buildable model.
func (e Entry) Validate() error {
	var problems []string
	if e.Module == "" {
		problems = append(problems, "module is empty")
	}
	if e.Name == "" {
		problems = append(problems, "name is empty")
	}
	if e.Kind != KindEvent && e.Kind != KindState {
		problems = append(problems, fmt.Sprintf("unknown kind %q", e.Kind))
	}
	switch e.Model {
	case ModelConstant, "":
	case ModelScaled:
		if e.NominalVoltage <= 0 {
			problems = append(problems, "scaled model needs a positive nominal_voltage")
		}
	case ModelTable:
		if _, err := model.ParseTable(e.Table); err != nil {
			problems = append(problems, err.Error())
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown model %q", e.Model))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %s/%s/%s: %s", ErrInvalidEntry, e.Module, e.Kind, e.Name, strings.Join(problems, "; "))
	}
	return nil
}

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventEntryAdded EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type  EventType
	Entry Entry
}

// KnowledgeBase is an in-memory, thread-safe catalog of power models.
type KnowledgeBase struct {
	mu sync.RWMutex

	entries map[string]Entry
	order   []string

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{entries: make(map[string]Entry)}
}

// Add validates and stores an entry. It returns an error if an entry with
// the same module, kind and name already exists.
func (kb *KnowledgeBase) Add(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	kb.mu.Lock()
	k := e.key()
	if _, exists := kb.entries[k]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%s %q for module %q already exists", e.Kind, e.Name, e.Module)
	}
	kb.entries[k] = e
	kb.order = append(kb.order, k)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(Event{Type: EventEntryAdded, Entry: e})
	}
	return nil
}

// Get returns the entry for module, kind and name.
func (kb *KnowledgeBase) Get(module string, kind Kind, name string) (Entry, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	e, ok := kb.entries[Entry{Module: module, Kind: kind, Name: name}.key()]
	return e, ok
}

// ListModule returns the entries of a module in insertion order.
func (kb *KnowledgeBase) ListModule(module string) []Entry {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var res []Entry
	for _, k := range kb.order {
		if e := kb.entries[k]; e.Module == module {
			res = append(res, e)
		}
	}
	return res
}

// Modules returns the sorted names of all catalogued modules.
func (kb *KnowledgeBase) Modules() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	seen := make(map[string]bool)
	var res []string
	for _, e := range kb.entries {
		if !seen[e.Module] {
			seen[e.Module] = true
			res = append(res, e.Module)
		}
	}
	sort.Strings(res)
	return res
}

// EventModel builds the energy model of a catalogued event.
func (kb *KnowledgeBase) EventModel(module, name string) (model.EventModel, error) {
	e, ok := kb.Get(module, KindEvent, name)
	if !ok {
		return nil, fmt.Errorf("event %q for module %q: %w", name, module, ErrNotFound)
	}
	switch e.Model {
	case ModelScaled:
		return model.NewScaledEnergyEvent(e.Name, e.Value, e.NominalVoltage), nil
	case ModelTable:
		t, err := model.ParseTable(e.Table)
		if err != nil {
			return nil, err
		}
		return model.NewTableEnergyEvent(e.Name, t.Points())
	default:
		return model.NewConstantEnergyEvent(e.Name, e.Value), nil
	}
}

// StateModel builds the current model of a catalogued state.
func (kb *KnowledgeBase) StateModel(module, name string) (model.StateModel, error) {
	e, ok := kb.Get(module, KindState, name)
	if !ok {
		return nil, fmt.Errorf("state %q for module %q: %w", name, module, ErrNotFound)
	}
	switch e.Model {
	case ModelScaled:
		return model.NewScaledCurrentState(e.Name, e.Value, e.NominalVoltage), nil
	case ModelTable:
		t, err := model.ParseTable(e.Table)
		if err != nil {
			return nil, err
		}
		return model.NewTableCurrentState(e.Name, t.Points())
	default:
		return model.NewConstantCurrentState(e.Name, e.Value), nil
	}
}

// LoadCSV adds every row of a catalog CSV with a header line.
func (kb *KnowledgeBase) LoadCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return fmt.Errorf("read catalog header: %w", err)
	}
	for {
		var e Entry
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			line, _ := reader.FieldPos(0)
			return fmt.Errorf("decode catalog line %d: %w", line, err)
		}
		if err := kb.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// FromFile loads a catalog CSV file into a new KB.
func FromFile(path string) (*KnowledgeBase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	kb := NewKnowledgeBase()
	if err := kb.LoadCSV(f); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return kb, nil
}

// Default returns the built-in catalog of the example memory device.
func Default() *KnowledgeBase {
	kb := NewKnowledgeBase()
	for _, e := range []Entry{
		{Module: "memory", Kind: KindEvent, Name: "read", Model: ModelConstant, Value: 5e-5},
		{Module: "memory", Kind: KindEvent, Name: "write", Model: ModelConstant, Value: 1e-3},
		{Module: "memory", Kind: KindState, Name: "off", Model: ModelConstant, Value: 0},
		{Module: "memory", Kind: KindState, Name: "on", Model: ModelConstant, Value: 1e-4},
	} {
		if err := kb.Add(e); err != nil {
			panic(err)
		}
	}
	return kb
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}

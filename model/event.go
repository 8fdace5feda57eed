package model

import "fmt"

// ConstantEnergyEvent consumes the same energy per occurrence regardless of
// the supply voltage.
type ConstantEnergyEvent struct {
	name   string
	joules float64
}

// NewConstantEnergyEvent constructs a ConstantEnergyEvent.
func NewConstantEnergyEvent(name string, joules float64) *ConstantEnergyEvent {
	return &ConstantEnergyEvent{name: name, joules: joules}
}

func (e *ConstantEnergyEvent) Name() string             { return e.name }
func (e *ConstantEnergyEvent) Energy(_ float64) float64 { return e.joules }

func (e *ConstantEnergyEvent) String() string {
	return fmt.Sprintf("<event> %s: %g J (constant)", e.name, e.joules)
}

// ScaledEnergyEvent models switching energy, which grows with the square of
// the supply voltage: E(V) = E_nom * (V / V_nom)^2.
type ScaledEnergyEvent struct {
	name     string
	joules   float64
	nominalV float64
}

// NewScaledEnergyEvent constructs a ScaledEnergyEvent. joules is the energy
// per occurrence at nominalV. A non-positive nominalV makes the event behave
// like a constant one.
func NewScaledEnergyEvent(name string, joules, nominalV float64) *ScaledEnergyEvent {
	return &ScaledEnergyEvent{name: name, joules: joules, nominalV: nominalV}
}

func (e *ScaledEnergyEvent) Name() string { return e.name }

func (e *ScaledEnergyEvent) Energy(supplyVoltage float64) float64 {
	if e.nominalV <= 0 {
		return e.joules
	}
	r := supplyVoltage / e.nominalV
	return e.joules * r * r
}

func (e *ScaledEnergyEvent) String() string {
	return fmt.Sprintf("<event> %s: %g J @ %g V (scaled)", e.name, e.joules, e.nominalV)
}

// TableEnergyEvent interpolates energy per occurrence from a voltage table.
type TableEnergyEvent struct {
	name  string
	table Table
}

// NewTableEnergyEvent constructs a TableEnergyEvent from (voltage, joules)
// points.
func NewTableEnergyEvent(name string, points []Point) (*TableEnergyEvent, error) {
	t, err := NewTable(points)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", name, err)
	}
	return &TableEnergyEvent{name: name, table: t}, nil
}

func (e *TableEnergyEvent) Name() string { return e.name }

func (e *TableEnergyEvent) Energy(supplyVoltage float64) float64 {
	return e.table.At(supplyVoltage)
}

func (e *TableEnergyEvent) String() string {
	return fmt.Sprintf("<event> %s: %s J (table)", e.name, e.table)
}

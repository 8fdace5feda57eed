package model

import "fmt"

// ConstantCurrentState draws a fixed current regardless of supply voltage.
type ConstantCurrentState struct {
	name string
	amps float64
}

// NewConstantCurrentState constructs a ConstantCurrentState.
func NewConstantCurrentState(name string, amps float64) *ConstantCurrentState {
	return &ConstantCurrentState{name: name, amps: amps}
}

func (s *ConstantCurrentState) Name() string              { return s.name }
func (s *ConstantCurrentState) Current(_ float64) float64 { return s.amps }

func (s *ConstantCurrentState) String() string {
	return fmt.Sprintf("<state> %s: %g A (constant)", s.name, s.amps)
}

// ScaledCurrentState models a resistive load: I(V) = I_nom * V / V_nom.
type ScaledCurrentState struct {
	name     string
	amps     float64
	nominalV float64
}

// NewScaledCurrentState constructs a ScaledCurrentState. amps is the current
// drawn at nominalV. A non-positive nominalV makes the state behave like a
// constant one.
func NewScaledCurrentState(name string, amps, nominalV float64) *ScaledCurrentState {
	return &ScaledCurrentState{name: name, amps: amps, nominalV: nominalV}
}

func (s *ScaledCurrentState) Name() string { return s.name }

func (s *ScaledCurrentState) Current(supplyVoltage float64) float64 {
	if s.nominalV <= 0 {
		return s.amps
	}
	return s.amps * supplyVoltage / s.nominalV
}

func (s *ScaledCurrentState) String() string {
	return fmt.Sprintf("<state> %s: %g A @ %g V (scaled)", s.name, s.amps, s.nominalV)
}

// TableCurrentState interpolates the drawn current from a voltage table.
type TableCurrentState struct {
	name  string
	table Table
}

// NewTableCurrentState constructs a TableCurrentState from (voltage, amps)
// points.
func NewTableCurrentState(name string, points []Point) (*TableCurrentState, error) {
	t, err := NewTable(points)
	if err != nil {
		return nil, fmt.Errorf("state %q: %w", name, err)
	}
	return &TableCurrentState{name: name, table: t}, nil
}

func (s *TableCurrentState) Name() string { return s.name }

func (s *TableCurrentState) Current(supplyVoltage float64) float64 {
	return s.table.At(supplyVoltage)
}

func (s *TableCurrentState) String() string {
	return fmt.Sprintf("<state> %s: %s A (table)", s.name, s.table)
}

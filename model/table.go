package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidTable is returned when a lookup table cannot be built.
var ErrInvalidTable = errors.New("invalid lookup table")

// Point is one (voltage, value) sample of a lookup table.
type Point struct {
	Voltage float64
	Value   float64
}

// Table is a piecewise-linear function of supply voltage. Lookups outside the
// sampled range clamp to the nearest end point.
type Table struct {
	points []Point
}

// NewTable builds a Table from points in any order. Voltages must be finite
// and distinct.
func NewTable(points []Point) (Table, error) {
	if len(points) == 0 {
		return Table{}, fmt.Errorf("%w: no points", ErrInvalidTable)
	}
	ps := make([]Point, len(points))
	copy(ps, points)
	sort.Slice(ps, func(i, j int) bool { return ps[i].Voltage < ps[j].Voltage })
	for i, p := range ps {
		if math.IsNaN(p.Voltage) || math.IsInf(p.Voltage, 0) {
			return Table{}, fmt.Errorf("%w: non-finite voltage", ErrInvalidTable)
		}
		if i > 0 && ps[i-1].Voltage == p.Voltage {
			return Table{}, fmt.Errorf("%w: duplicate voltage %g", ErrInvalidTable, p.Voltage)
		}
	}
	return Table{points: ps}, nil
}

// ParseTable parses "v:value;v:value;..." into a Table.
func ParseTable(s string) (Table, error) {
	var points []Point
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		v, val, ok := strings.Cut(pair, ":")
		if !ok {
			return Table{}, fmt.Errorf("%w: malformed point %q", ErrInvalidTable, pair)
		}
		volts, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Table{}, fmt.Errorf("%w: voltage %q: %v", ErrInvalidTable, v, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return Table{}, fmt.Errorf("%w: value %q: %v", ErrInvalidTable, val, err)
		}
		points = append(points, Point{Voltage: volts, Value: value})
	}
	return NewTable(points)
}

// Points returns a copy of the table's points sorted by voltage.
func (t Table) Points() []Point {
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// At evaluates the table at voltage v.
func (t Table) At(v float64) float64 {
	n := len(t.points)
	if n == 0 {
		return 0
	}
	if v <= t.points[0].Voltage {
		return t.points[0].Value
	}
	if v >= t.points[n-1].Voltage {
		return t.points[n-1].Value
	}
	i := sort.Search(n, func(i int) bool { return t.points[i].Voltage >= v })
	lo, hi := t.points[i-1], t.points[i]
	frac := (v - lo.Voltage) / (hi.Voltage - lo.Voltage)
	return lo.Value + frac*(hi.Value-lo.Value)
}

func (t Table) String() string {
	parts := make([]string, 0, len(t.points))
	for _, p := range t.points {
		parts = append(parts, fmt.Sprintf("%g:%g", p.Voltage, p.Value))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

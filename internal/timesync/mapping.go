// Package timesync converts times between clock domains.
//
// A Graph has one node per (referent, epoch, clock type). Edges carry a
// TimeMapping and a cost and come from three places: clocks of the same
// epoch (cost 0), global clocks shared by overlapping epochs of different
// referents (cost 1), and registered sync rules. Convert follows the
// cheapest path and composes the mappings along it.
package timesync

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/ndicore/internal/ndierr"
)

// TimeMapping is a polynomial in t with coefficients from the highest
// degree down: [a, b] maps t to a*t + b.
type TimeMapping struct {
	Coeffs []float64 `json:"coeffs"`
}

// Identity maps every t to itself.
func Identity() TimeMapping { return TimeMapping{Coeffs: []float64{1, 0}} }

// Linear maps t to scale*t + shift.
func Linear(scale, shift float64) TimeMapping {
	return TimeMapping{Coeffs: []float64{scale, shift}}
}

// Shift maps t to t + d.
func Shift(d float64) TimeMapping { return Linear(1, d) }

func (m TimeMapping) coeffs() []float64 {
	if len(m.Coeffs) == 0 {
		return []float64{1, 0}
	}
	return m.Coeffs
}

// Eval evaluates the polynomial at t.
func (m TimeMapping) Eval(t float64) float64 {
	var out float64
	for _, c := range m.coeffs() {
		out = out*t + c
	}
	return out
}

// Degree is the polynomial degree after trimming leading zeros.
func (m TimeMapping) Degree() int {
	c := trim(m.coeffs())
	return len(c) - 1
}

// Then returns the mapping that applies m and then next.
func (m TimeMapping) Then(next TimeMapping) TimeMapping {
	p := trim(m.coeffs())
	q := trim(next.coeffs())
	out := []float64{q[0]}
	for _, c := range q[1:] {
		out = polyMul(out, p)
		out[len(out)-1] += c
	}
	if len(out) == 1 {
		out = []float64{0, out[0]}
	}
	return TimeMapping{Coeffs: out}
}

// Inverse inverts a linear mapping. Higher degrees and constants are not
// invertible.
func (m TimeMapping) Inverse() (TimeMapping, error) {
	c := trim(m.coeffs())
	if len(c) != 2 || c[0] == 0 {
		return TimeMapping{}, ndierr.Invalid("timesync.inverse", "mapping %s is not invertible", m)
	}
	return Linear(1/c[0], -c[1]/c[0]), nil
}

// Equal reports whether two mappings have the same trimmed coefficients.
func (m TimeMapping) Equal(o TimeMapping) bool {
	return slices.Equal(trim(m.coeffs()), trim(o.coeffs()))
}

func (m TimeMapping) String() string {
	parts := make([]string, len(m.coeffs()))
	for i, c := range m.coeffs() {
		parts[i] = fmt.Sprintf("%g", c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Valid reports whether every coefficient is finite.
func (m TimeMapping) Valid() bool {
	for _, c := range m.coeffs() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func trim(c []float64) []float64 {
	i := 0
	for i < len(c)-1 && c[i] == 0 {
		i++
	}
	return c[i:]
}

func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

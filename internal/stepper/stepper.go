// Package stepper drives the primary inputs of a circuit through every
// combination of values, one vector per step.
package stepper

import (
	"context"

	"github.com/pkg/errors"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
)

// MaxInputs is the widest counter a Stepper supports.
const MaxInputs = 32

// Vector is one assignment of values to the ordered primary inputs.
type Vector struct {
	Index  uint64
	Inputs []string
	Values []uint32
}

// Stepper holds the counter between steps. It is not safe for concurrent use.
type Stepper struct {
	counter uint64
}

func New() *Stepper { return &Stepper{} }

// Counter returns the index of the next vector.
func (s *Stepper) Counter() uint64 { return s.counter }

// Reset rewinds the counter to the first vector.
func (s *Stepper) Reset() { s.counter = 0 }

// Bits returns the value of input k of n for counter value c. The first input
// gets the most significant bit.
func Bits(c uint64, k, n int) uint32 {
	return uint32(c>>uint(n-1-k)) & 1
}

// Step applies the next vector to the primary inputs of g, ordered by
// vertical position, advances the counter and evaluates the graph. With no
// primary inputs only the evaluation runs.
func (s *Stepper) Step(ctx context.Context, g *circuit.Graph, ev *eval.Evaluator) (Vector, *eval.Report, error) {
	inputs := g.Inputs()
	n := len(inputs)
	if n > MaxInputs {
		return Vector{}, nil, errors.Errorf("stepper: %d inputs exceed the %d-bit counter", n, MaxInputs)
	}

	vec := Vector{Index: s.counter}
	if n > 0 {
		period := uint64(1) << uint(n)
		s.counter %= period
		vec.Index = s.counter
		vec.Inputs = make([]string, n)
		vec.Values = make([]uint32, n)
		for k, i := range inputs {
			v := Bits(s.counter, k, n)
			g.Nodes[i].Value = v
			vec.Inputs[k] = g.Nodes[i].ID
			vec.Values[k] = v
		}
		s.counter = (s.counter + 1) % period
	}

	rep, err := ev.Evaluate(ctx, g)
	if err != nil {
		return vec, rep, errors.Wrap(err, "stepper")
	}
	return vec, rep, nil
}

// Vectors returns all 2^n input vectors in stepper order.
func Vectors(n int) ([][]uint32, error) {
	if n < 0 || n > MaxInputs {
		return nil, errors.Errorf("stepper: cannot enumerate %d inputs", n)
	}
	total := uint64(1) << uint(n)
	out := make([][]uint32, 0, total)
	for c := uint64(0); c < total; c++ {
		row := make([]uint32, n)
		for k := range row {
			row[k] = Bits(c, k, n)
		}
		out = append(out, row)
	}
	return out, nil
}

// Package eval computes the steady-state value of every node in a circuit by
// fixed-point relaxation.
//
// Every non-source node starts Unknown. Each pass recomputes every node from
// the current values of its inputs; evaluation stops after the first pass
// that changes nothing, or after len(nodes)+1 passes. Cyclic wiring that
// never settles is cut off by the pass cap rather than rejected.
package eval

import (
	"context"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/script"
)

// WidthPolicy selects how inverting gates mask their result.
type WidthPolicy uint8

const (
	// WidthDynamic masks to the bit length of the operands, so NOT 0 is 1
	// and NOT 5 (101) is 2 (010).
	WidthDynamic WidthPolicy = iota
	// WidthFixed masks every gate result to the node's declared Width
	// (1 bit when unset).
	WidthFixed
)

func (p WidthPolicy) String() string {
	if p == WidthFixed {
		return "fixed"
	}
	return "dynamic"
}

// ParseWidthPolicy accepts "dynamic" (or "") and "fixed".
func ParseWidthPolicy(s string) (WidthPolicy, error) {
	switch s {
	case "", "dynamic":
		return WidthDynamic, nil
	case "fixed":
		return WidthFixed, nil
	}
	return 0, errors.Errorf("unknown width policy %q", s)
}

// ScriptFault records a module program failure during one evaluation.
type ScriptFault struct {
	Node   string
	Module string
	Err    error
}

func (f ScriptFault) Error() string {
	return "node " + f.Node + " (module " + f.Module + "): " + f.Err.Error()
}

// Report summarizes one evaluation.
type Report struct {
	Passes    int
	Quiescent bool
	Faults    []ScriptFault
	// Missing lists custom module nodes whose definition does not exist.
	Missing []string
}

// Evaluator is safe for concurrent use on distinct graphs.
type Evaluator struct {
	policy    WidthPolicy
	maxPasses int
	runtime   *script.Runtime
	log       logrus.FieldLogger
}

type Option func(*Evaluator)

func WithWidthPolicy(p WidthPolicy) Option { return func(e *Evaluator) { e.policy = p } }

// WithMaxPasses caps the number of passes. n <= 0 means len(nodes)+1.
func WithMaxPasses(n int) Option { return func(e *Evaluator) { e.maxPasses = n } }

func WithRuntime(r *script.Runtime) Option { return func(e *Evaluator) { e.runtime = r } }

func WithLogger(l logrus.FieldLogger) Option { return func(e *Evaluator) { e.log = l } }

// New returns an evaluator with the dynamic width policy and a default
// script runtime.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, o := range opts {
		o(e)
	}
	if e.runtime == nil {
		e.runtime = script.NewRuntime()
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	return e
}

// Policy returns the configured width policy.
func (e *Evaluator) Policy() WidthPolicy { return e.policy }

// wiring is the per-evaluation view of incoming edges.
type wiring struct {
	// pins[i][k] is the index of the first edge feeding input-k of node i, or -1.
	pins [][]int
	// first[i] is the first edge targeting node i regardless of pin, or -1.
	first []int
}

func wire(g *circuit.Graph) *wiring {
	w := &wiring{pins: make([][]int, len(g.Nodes)), first: make([]int, len(g.Nodes))}
	for i := range w.first {
		w.first[i] = -1
	}
	for j := range g.Edges {
		e := &g.Edges[j]
		t := g.Index(e.Target)
		if t < 0 {
			continue
		}
		if w.first[t] < 0 {
			w.first[t] = j
		}
		k, ok := circuit.ParseInputPin(e.TargetPin)
		if !ok {
			continue
		}
		for len(w.pins[t]) <= k {
			w.pins[t] = append(w.pins[t], -1)
		}
		if w.pins[t][k] < 0 {
			w.pins[t][k] = j
		}
	}
	return w
}

func (w *wiring) pin(i, k int) int {
	if k < len(w.pins[i]) {
		return w.pins[i][k]
	}
	return -1
}

// Resolve returns the value carried by edge e, and false when the edge is
// floating: its source is missing or Unknown, or names a bus line that does
// not exist.
func Resolve(g *circuit.Graph, e *circuit.Edge) (uint32, bool) {
	src := g.Node(e.Source)
	if src == nil {
		return 0, false
	}
	switch src.Signal.Kind() {
	case circuit.SignalScalar:
		return src.Signal.Scalar()
	case circuit.SignalBus:
		bus, _ := src.Signal.Bus()
		if e.SourcePin == "" {
			if len(bus) == 1 {
				return bus[0].Value, true
			}
			return 0, false
		}
		name, ok := circuit.ParseOutputPin(e.SourcePin)
		if !ok {
			name = e.SourcePin
		}
		return bus.Get(name)
	}
	return 0, false
}

func (e *Evaluator) read(g *circuit.Graph, edge int) uint32 {
	if edge < 0 {
		return 0
	}
	v, _ := Resolve(g, &g.Edges[edge])
	return v
}

// Evaluate computes every node signal of g in place and annotates edge
// activity. Script faults and missing module definitions do not stop the
// evaluation; they are collected in the report. A cancelled ctx aborts
// between nodes.
func (e *Evaluator) Evaluate(ctx context.Context, g *circuit.Graph) (*Report, error) {
	rep := &Report{}
	w := wire(g)

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind.IsSource() {
			n.Signal = circuit.Scalar(n.Value)
		} else {
			n.Signal = circuit.Unknown()
		}
	}

	limit := e.maxPasses
	if limit <= 0 {
		limit = len(g.Nodes) + 1
	}
	missing := make(map[int]bool)
	// outcome of the latest run of each module node
	lastFault := make(map[int]error)

	for rep.Passes < limit {
		rep.Passes++
		changed := false
		for i := range g.Nodes {
			if err := ctx.Err(); err != nil {
				return rep, errors.Wrap(err, "evaluate")
			}
			n := &g.Nodes[i]
			var next circuit.Signal
			switch n.Kind {
			case circuit.Gate:
				next = circuit.Scalar(e.gate(g, w, i))
			case circuit.CustomModule:
				def := g.Module(n.ModuleID)
				if def == nil {
					missing[i] = true
					continue
				}
				bus, err := e.module(ctx, g, w, i, def)
				if err != nil && ctx.Err() != nil {
					return rep, errors.Wrap(ctx.Err(), "evaluate")
				}
				lastFault[i] = err
				next = circuit.NamedBus(bus)
			case circuit.PrimaryOutput:
				next = circuit.Scalar(e.read(g, w.first[i]))
			default:
				continue
			}
			if !next.Equal(n.Signal) {
				n.Signal = next
				changed = true
			}
		}
		if !changed {
			rep.Quiescent = true
			break
		}
	}

	for i := range g.Nodes {
		if missing[i] {
			rep.Missing = append(rep.Missing, g.Nodes[i].ID)
		}
		if err := lastFault[i]; err != nil {
			rep.Faults = append(rep.Faults, ScriptFault{Node: g.Nodes[i].ID, Module: g.Nodes[i].ModuleID, Err: err})
		}
	}
	for _, f := range rep.Faults {
		e.log.WithFields(logrus.Fields{
			"node":   f.Node,
			"module": f.Module,
		}).WithError(f.Err).Warn("module program failed")
	}
	if !rep.Quiescent {
		e.log.WithField("passes", rep.Passes).Debug("evaluation did not settle")
	}

	for j := range g.Edges {
		ed := &g.Edges[j]
		v, ok := Resolve(g, ed)
		switch {
		case !ok:
			ed.Activity = circuit.Floating
		case v > 0:
			ed.Activity = circuit.High
		default:
			ed.Activity = circuit.Low
		}
	}
	return rep, nil
}

func (e *Evaluator) gate(g *circuit.Graph, w *wiring, i int) uint32 {
	n := &g.Nodes[i]
	arity := n.Arity
	if arity <= 0 {
		arity = circuit.MinArity
	}
	first := e.read(g, w.pin(i, 0))
	if n.Gate == circuit.NOT {
		return ^first & e.mask(n, first, first)
	}

	acc := first
	for k := 1; k < arity; k++ {
		v := e.read(g, w.pin(i, k))
		switch n.Gate {
		case circuit.AND, circuit.NAND:
			acc &= v
		case circuit.OR, circuit.NOR:
			acc |= v
		case circuit.XOR:
			acc ^= v
		}
	}
	if n.Gate == circuit.NAND || n.Gate == circuit.NOR {
		return ^acc & e.mask(n, first, acc)
	}
	if e.policy == WidthFixed {
		return acc & widthMask(n.Width)
	}
	return acc
}

// mask returns the inversion mask of an inverting gate.
func (e *Evaluator) mask(n *circuit.Node, first, folded uint32) uint32 {
	if e.policy == WidthFixed {
		return widthMask(n.Width)
	}
	l := bitLen(first)
	if r := bitLen(folded); r > l {
		l = r
	}
	return widthMask(l)
}

// bitLen is the length of the binary representation of v; 0 has length 1.
func bitLen(v uint32) int {
	if v == 0 {
		return 1
	}
	return bits.Len32(v)
}

func widthMask(w int) uint32 {
	switch {
	case w <= 0:
		w = 1
	case w > 32:
		w = 32
	}
	return uint32(uint64(1)<<uint(w) - 1)
}

func (e *Evaluator) module(ctx context.Context, g *circuit.Graph, w *wiring, i int, def *circuit.ModuleDef) (circuit.Bus, error) {
	in := make([]uint32, len(def.Inputs))
	for k := range def.Inputs {
		in[k] = e.read(g, w.pin(i, k))
	}
	return e.runtime.Exec(ctx, def, in)
}

// Package circuit holds the graph model shared by the evaluator, the stepper
// and the HDL bridge: nodes, edges, the custom module catalog and the
// computed signal of every node.
//
// A Graph is an arena. Nodes live in a slice and are addressed by their
// index; an id -> index map is kept alongside for lookups by identifier.
// The core never owns a graph between calls: the caller hands a graph to an
// operation and gets it back, annotated, when the operation returns.
package circuit

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeKind is the discriminator of the node union.
type NodeKind uint8

const (
	PrimaryInput NodeKind = iota
	ConstantSource
	Gate
	PrimaryOutput
	CustomModule
)

var nodeKindNames = [...]string{
	PrimaryInput:   "input",
	ConstantSource: "constant",
	Gate:           "gate",
	PrimaryOutput:  "output",
	CustomModule:   "module",
}

func (k NodeKind) String() string {
	if int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IsSource reports whether nodes of this kind carry an authored value.
func (k NodeKind) IsSource() bool {
	return k == PrimaryInput || k == ConstantSource
}

// GateKind is the boolean function of a Gate node.
type GateKind uint8

const (
	AND GateKind = iota
	OR
	XOR
	NOT
	NAND
	NOR
)

var gateKindNames = [...]string{
	AND:  "AND",
	OR:   "OR",
	XOR:  "XOR",
	NOT:  "NOT",
	NAND: "NAND",
	NOR:  "NOR",
}

func (k GateKind) String() string {
	if int(k) < len(gateKindNames) {
		return gateKindNames[k]
	}
	return "GATE(" + strconv.Itoa(int(k)) + ")"
}

// ParseGateKind parses a gate name, case-insensitively.
func ParseGateKind(s string) (GateKind, error) {
	for i, n := range gateKindNames {
		if strings.EqualFold(n, s) {
			return GateKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown gate type %q", s)
}

// Arity bounds for multi-input gates.
const (
	MinArity = 2
	MaxArity = 8
)

// ValidArity reports whether n is an acceptable input count for kind k.
func (k GateKind) ValidArity(n int) bool {
	if k == NOT {
		return n == 1
	}
	return n >= MinArity && n <= MaxArity
}

// Position is the location of a node in the host diagram. The stepper orders
// primary inputs by Y.
type Position struct {
	X float64
	Y float64
}

// Node is one element of the circuit.
//
// Only the fields relevant to Kind are meaningful: Value for sources, Gate and
// Arity for gates, ModuleID for custom modules. Width is the declared bus
// width used by the fixed-width evaluation policy (0 means 1 bit).
type Node struct {
	ID       string
	Kind     NodeKind
	Label    string
	Position Position

	Value    uint32
	Gate     GateKind
	Arity    int
	ModuleID string
	Width    int

	// Signal is the last computed output.
	Signal Signal
}

// Edge is a directed wire. All signal state lives on nodes; Activity is the
// annotation written by the last evaluation.
type Edge struct {
	ID        string
	Source    string
	SourcePin string
	Target    string
	TargetPin string

	Activity Activity
}

// ModuleDef is a custom module definition: ordered pin names and the program
// computing the outputs from the inputs.
type ModuleDef struct {
	ID      string
	Name    string
	Inputs  []string
	Outputs []string
	Code    string
}

// Pin name conventions, compatible with saved circuit files.
const (
	inputPinPrefix  = "input-"
	outputPinPrefix = "output-"
)

// InputPin returns the target pin name of input i.
func InputPin(i int) string { return inputPinPrefix + strconv.Itoa(i) }

// ParseInputPin returns the index of an input pin name.
func ParseInputPin(pin string) (int, bool) {
	if !strings.HasPrefix(pin, inputPinPrefix) {
		return 0, false
	}
	i, err := strconv.Atoi(pin[len(inputPinPrefix):])
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// OutputPin returns the source pin name of the named module output.
func OutputPin(name string) string { return outputPinPrefix + name }

// ParseOutputPin returns the output name of a source pin.
func ParseOutputPin(pin string) (string, bool) {
	if !strings.HasPrefix(pin, outputPinPrefix) {
		return "", false
	}
	return pin[len(outputPinPrefix):], true
}

// StructuralError reports a graph that references something that does not
// exist, or violates a shape invariant. Evaluation of the rest of the graph
// proceeds when one is found.
type StructuralError struct {
	Node string
	Edge string
	Msg  string
}

func (e *StructuralError) Error() string {
	switch {
	case e.Edge != "":
		return "edge " + e.Edge + ": " + e.Msg
	case e.Node != "":
		return "node " + e.Node + ": " + e.Msg
	default:
		return e.Msg
	}
}

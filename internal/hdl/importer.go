package hdl

import (
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/extractor"
)

// Layout of imported circuits.
const (
	inputX      = 50
	gateX       = 400
	outputX     = 1200
	rowTop      = 100
	portPitch   = 120
	gateColumns = 3
	gatePitchX  = 250
	gatePitchY  = 150
)

// Warning is a non-fatal import problem, typically a reference that could
// not be resolved and was left unconnected.
type Warning struct {
	Line       int
	Msg        string
	Suggestion string
}

func (w Warning) String() string {
	s := w.Msg
	if w.Suggestion != "" {
		s += fmt.Sprintf(" (did you mean %q?)", w.Suggestion)
	}
	if w.Line > 0 {
		return fmt.Sprintf("line %d: %s", w.Line, s)
	}
	return s
}

// ImportReport describes what Parse did besides building the graph.
type ImportReport struct {
	Dialect  Dialect
	Module   string
	Inputs   int
	Outputs  int
	Gates    int
	Warnings []Warning
}

type pendingEdge struct {
	source string
	target string
	pin    string
	line   int
}

type importer struct {
	d       Dialect
	g       *circuit.Graph
	rep     *ImportReport
	fold    cases.Caser
	signals map[string]string // folded signal name -> node id
	names   map[string]string // folded -> declared spelling, for suggestions
	edges   []pendingEdge
}

func (im *importer) key(name string) string {
	if im.d == VHDL {
		return im.fold.String(name)
	}
	return name
}

func (im *importer) declare(name, id string) {
	k := im.key(name)
	im.signals[k] = id
	if _, ok := im.names[k]; !ok {
		im.names[k] = name
	}
}

func (im *importer) warn(line int, format string, args ...interface{}) {
	im.rep.Warnings = append(im.rep.Warnings, Warning{Line: line, Msg: fmt.Sprintf(format, args...)})
}

// suggest returns the known signal name closest to name, if any is close.
func (im *importer) suggest(name string) string {
	best, bestDist := "", len(name)/2+2
	for k, spelled := range im.names {
		if d := levenshtein.ComputeDistance(im.key(name), k); d < bestDist {
			best, bestDist = spelled, d
		}
	}
	return best
}

func (im *importer) add(n circuit.Node) {
	// ids are fresh UUIDs, AddNode cannot fail on duplicates
	if _, err := im.g.AddNode(n); err != nil {
		im.warn(0, "node %s: %v", n.Label, err)
	}
}

// Parse builds a graph from HDL text. Unresolvable references are dropped
// and reported as warnings; text that yields no ports and no assignments is
// rejected with a *ParseError.
func Parse(d Dialect, text string) (*circuit.Graph, *ImportReport, error) {
	facts, err := extractor.Extract(d, text)
	if err != nil {
		return nil, nil, &ParseError{Dialect: d, Msg: err.Error()}
	}
	return FromFacts(facts)
}

// FromFacts builds a graph from extracted facts.
func FromFacts(facts extractor.Facts) (*circuit.Graph, *ImportReport, error) {
	d := facts.Dialect
	name := facts.Module
	if name == "" {
		name = DefaultModuleName
	}
	im := &importer{
		d:       d,
		g:       circuit.New(name),
		rep:     &ImportReport{Dialect: d, Module: facts.Module},
		fold:    cases.Fold(),
		signals: make(map[string]string),
		names:   make(map[string]string),
	}

	for i, p := range facts.Inputs() {
		id := uuid.NewString()
		w := 0
		if p.Width > 1 {
			w = p.Width
		}
		im.add(circuit.Node{
			ID: id, Kind: circuit.PrimaryInput, Label: p.Name, Width: w,
			Position: circuit.Position{X: inputX, Y: float64(rowTop + i*portPitch)},
		})
		im.declare(p.Name, id)
		im.rep.Inputs++
	}

	type alias struct {
		target, source string
		line           int
	}
	var aliases []alias
	driven := make(map[string]int)
	slot := 0
	for _, a := range facts.Assigns {
		pos := circuit.Position{
			X: float64(gateX + (slot%gateColumns)*gatePitchX),
			Y: float64(rowTop + (slot/gateColumns)*gatePitchY),
		}
		switch a.Kind {
		case extractor.Alias:
			aliases = append(aliases, alias{target: a.Target, source: a.Operands[0], line: a.Line})
			continue
		case extractor.Literal:
			id := uuid.NewString()
			im.add(circuit.Node{ID: id, Kind: circuit.ConstantSource, Label: a.Target, Value: a.Value, Position: pos})
			im.declare(a.Target, id)
		case extractor.GateExpr:
			if !a.Gate.ValidArity(len(a.Operands)) {
				im.warn(a.Line, "assignment to %s: %s gate with %d operands is not supported", a.Target, a.Gate, len(a.Operands))
				continue
			}
			id := uuid.NewString()
			im.add(circuit.Node{ID: id, Kind: circuit.Gate, Gate: a.Gate, Arity: len(a.Operands), Label: a.Target, Position: pos})
			im.declare(a.Target, id)
			for k, op := range a.Operands {
				im.edges = append(im.edges, pendingEdge{source: op, target: id, pin: circuit.InputPin(k), line: a.Line})
			}
			im.rep.Gates++
		}
		if prev, ok := driven[im.key(a.Target)]; ok {
			im.warn(a.Line, "%s is also assigned on line %d; the last assignment wins", a.Target, prev)
		}
		driven[im.key(a.Target)] = a.Line
		slot++
	}

	// aliases may chain in any order; settle them
	for round := 0; round <= len(aliases); round++ {
		changed := false
		for _, al := range aliases {
			src, ok := im.signals[im.key(al.source)]
			if !ok {
				continue
			}
			if cur, ok := im.signals[im.key(al.target)]; !ok || cur != src {
				im.declare(al.target, src)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	for _, al := range aliases {
		if _, ok := im.signals[im.key(al.source)]; !ok {
			im.rep.Warnings = append(im.rep.Warnings, Warning{
				Line:       al.line,
				Msg:        fmt.Sprintf("alias %s: unknown signal %q", al.target, al.source),
				Suggestion: im.suggest(al.source),
			})
		}
	}

	for i, p := range facts.Outputs() {
		id := uuid.NewString()
		w := 0
		if p.Width > 1 {
			w = p.Width
		}
		im.add(circuit.Node{
			ID: id, Kind: circuit.PrimaryOutput, Label: p.Name, Width: w,
			Position: circuit.Position{X: outputX, Y: float64(rowTop + i*portPitch)},
		})
		im.edges = append(im.edges, pendingEdge{source: p.Name, target: id, pin: circuit.InputPin(0), line: p.Line})
		im.rep.Outputs++
	}

	if im.g.Empty() {
		return nil, nil, &ParseError{Dialect: d, Msg: "no ports or assignments found"}
	}

	for _, e := range im.edges {
		src, ok := im.signals[im.key(e.source)]
		if !ok {
			im.rep.Warnings = append(im.rep.Warnings, Warning{
				Line:       e.line,
				Msg:        fmt.Sprintf("unresolved reference %q left unconnected", e.source),
				Suggestion: im.suggest(e.source),
			})
			continue
		}
		if err := im.g.AddEdge(circuit.Edge{ID: uuid.NewString(), Source: src, Target: e.target, TargetPin: e.pin}); err != nil {
			im.warn(e.line, "%v", err)
		}
	}
	return im.g, im.rep, nil
}

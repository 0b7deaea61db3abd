package facts

import (
	"sort"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/extractor"
)

// Tables is the relational fact model the design rules run on.
// Each slice is a relation (table) with flat rows.
type Tables struct {
	Files      []FileRow      `json:"files"`
	Nodes      []NodeRow      `json:"nodes"`
	Edges      []EdgeRow      `json:"edges"`
	Modules    []ModuleRow    `json:"modules"`
	ModulePins []ModulePinRow `json:"module_pins"`
	Ports      []PortRow      `json:"ports"`
	Signals    []SignalRow    `json:"signals"`
	Assigns    []AssignRow    `json:"assigns"`
	Operands   []OperandRow   `json:"operands"`
}

type FileRow struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // circuit, verilog or vhdl
}

type NodeRow struct {
	File   string `json:"file"`
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Label  string `json:"label"`
	Gate   string `json:"gate"`
	Arity  int    `json:"arity"` // effective input count; 0 for non-gates
	Module string `json:"module"`
	Width  int    `json:"width"`
}

type EdgeRow struct {
	File      string `json:"file"`
	ID        string `json:"id"`
	Source    string `json:"source"`
	SourcePin string `json:"source_pin"`
	Target    string `json:"target"`
	TargetPin string `json:"target_pin"`
	PinIndex  int    `json:"pin_index"` // -1 when TargetPin is not an input pin
}

// ModuleRow is one custom module definition.
type ModuleRow struct {
	File string `json:"file"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ModulePinRow is one pin of a custom module definition.
type ModulePinRow struct {
	File      string `json:"file"`
	Module    string `json:"module"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Index     int    `json:"index"`
}

type PortRow struct {
	File      string `json:"file"`
	Module    string `json:"module"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Width     int    `json:"width"`
	Line      int    `json:"line"`
}

type SignalRow struct {
	File string `json:"file"`
	Name string `json:"name"`
}

type AssignRow struct {
	File   string `json:"file"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Gate   string `json:"gate"`
	Expr   string `json:"expr"`
	Line   int    `json:"line"`
}

type OperandRow struct {
	File   string `json:"file"`
	Target string `json:"target"`
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Line   int    `json:"line"`
}

// Circuit is a graph together with the file it came from.
type Circuit struct {
	File  string
	Graph *circuit.Graph
}

// Source is HDL extraction facts together with the file they came from.
type Source struct {
	File  string
	Facts extractor.Facts
}

// BuildTables converts graphs and HDL extraction facts into the relational model.
func BuildTables(circuits []Circuit, sources []Source) Tables {
	tables := emptyTables()

	for _, c := range circuits {
		tables.Files = append(tables.Files, FileRow{Path: c.File, Kind: "circuit"})
		g := c.Graph

		for _, n := range g.Nodes {
			row := NodeRow{
				File:   c.File,
				ID:     n.ID,
				Kind:   n.Kind.String(),
				Label:  n.Label,
				Module: n.ModuleID,
				Width:  n.Width,
			}
			if n.Kind == circuit.Gate {
				row.Gate = n.Gate.String()
				row.Arity = n.Arity
				switch {
				case n.Gate == circuit.NOT:
					row.Arity = 1
				case row.Arity <= 0:
					row.Arity = circuit.MinArity
				}
			}
			tables.Nodes = append(tables.Nodes, row)
		}

		for _, e := range g.Edges {
			idx, ok := circuit.ParseInputPin(e.TargetPin)
			if !ok {
				idx = -1
			}
			tables.Edges = append(tables.Edges, EdgeRow{
				File:      c.File,
				ID:        e.ID,
				Source:    e.Source,
				SourcePin: e.SourcePin,
				Target:    e.Target,
				TargetPin: e.TargetPin,
				PinIndex:  idx,
			})
		}

		for _, m := range g.Modules {
			tables.Modules = append(tables.Modules, ModuleRow{File: c.File, ID: m.ID, Name: m.Name})
			for i, name := range m.Inputs {
				tables.ModulePins = append(tables.ModulePins, ModulePinRow{File: c.File, Module: m.ID, Name: name, Direction: "in", Index: i})
			}
			for i, name := range m.Outputs {
				tables.ModulePins = append(tables.ModulePins, ModulePinRow{File: c.File, Module: m.ID, Name: name, Direction: "out", Index: i})
			}
		}
	}

	for _, s := range sources {
		f := s.Facts
		tables.Files = append(tables.Files, FileRow{Path: s.File, Kind: f.Dialect.String()})

		for _, p := range f.Ports {
			tables.Ports = append(tables.Ports, PortRow{
				File:      s.File,
				Module:    f.Module,
				Name:      p.Name,
				Direction: string(p.Dir),
				Width:     p.Width,
				Line:      p.Line,
			})
		}

		for _, name := range f.Signals {
			tables.Signals = append(tables.Signals, SignalRow{File: s.File, Name: name})
		}

		for _, a := range f.Assigns {
			row := AssignRow{
				File:   s.File,
				Target: a.Target,
				Kind:   a.Kind.String(),
				Expr:   a.Expr,
				Line:   a.Line,
			}
			if a.Kind == extractor.GateExpr {
				row.Gate = a.Gate.String()
			}
			tables.Assigns = append(tables.Assigns, row)
			for i, op := range a.Operands {
				tables.Operands = append(tables.Operands, OperandRow{File: s.File, Target: a.Target, Index: i, Name: op, Line: a.Line})
			}
		}
	}

	sort.Slice(tables.Files, func(i, j int) bool { return tables.Files[i].Path < tables.Files[j].Path })

	return tables
}

// Merge concatenates the relations of several snapshots, typically one per
// file, and sorts the file relation.
func Merge(parts ...Tables) Tables {
	out := emptyTables()
	for _, p := range parts {
		out.Files = append(out.Files, p.Files...)
		out.Nodes = append(out.Nodes, p.Nodes...)
		out.Edges = append(out.Edges, p.Edges...)
		out.Modules = append(out.Modules, p.Modules...)
		out.ModulePins = append(out.ModulePins, p.ModulePins...)
		out.Ports = append(out.Ports, p.Ports...)
		out.Signals = append(out.Signals, p.Signals...)
		out.Assigns = append(out.Assigns, p.Assigns...)
		out.Operands = append(out.Operands, p.Operands...)
	}
	sort.SliceStable(out.Files, func(i, j int) bool { return out.Files[i].Path < out.Files[j].Path })
	return out
}

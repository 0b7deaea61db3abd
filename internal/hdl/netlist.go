package hdl

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"golang.org/x/text/cases"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
)

// reserved words of both dialects; an identifier colliding with one gets a
// suffix.
var reserved = map[string]bool{
	// Verilog
	"module": true, "endmodule": true, "input": true, "output": true, "inout": true,
	"wire": true, "reg": true, "assign": true, "always": true, "initial": true,
	"integer": true, "parameter": true, "localparam": true, "function": true,
	"task": true, "case": true, "default": true, "for": true, "while": true,
	"logic": true, "signed": true, "buf": true, "supply0": true, "supply1": true,
	// VHDL
	"entity": true, "architecture": true, "is": true, "port": true, "map": true,
	"signal": true, "in": true, "out": true, "buffer": true, "library": true,
	"use": true, "all": true, "component": true, "process": true, "then": true,
	"elsif": true, "when": true, "others": true, "type": true, "subtype": true,
	"constant": true, "variable": true, "downto": true, "to": true, "range": true,
	"generic": true, "of": true, "bit": true, "std_logic": true,
	// both
	"and": true, "or": true, "not": true, "xor": true, "nand": true, "nor": true,
	"xnor": true, "begin": true, "end": true, "if": true, "else": true,
}

// ident turns a label into an identifier valid in both dialects: ASCII
// letters, digits and single underscores, starting with a letter.
func ident(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return ""
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "n" + s
	}
	if reserved[strings.ToLower(s)] {
		s += "_s"
	}
	return s
}

type blackBox struct {
	def  *circuit.ModuleDef
	name string
	in   []string
	out  []string
}

// netlist assigns an HDL name to every node of a graph and resolves every
// input pin to the name of its driver.
type netlist struct {
	g      *circuit.Graph
	d      Dialect
	module string

	names   []string // signal name per node; instance name for modules
	inputs  []int
	outputs []int
	nets    []int // gates and constants, graph order
	insts   []int // module nodes with a definition
	boxes   []*blackBox
	boxOf   map[string]*blackBox     // module id
	bus     map[int]map[string]string // instance -> output -> net

	pins  [][]int
	first []int

	fold cases.Caser
	used map[string]bool
}

func buildNetlist(g *circuit.Graph, d Dialect, opts Options) *netlist {
	nl := &netlist{
		g:     g,
		d:     d,
		names: make([]string, len(g.Nodes)),
		boxOf: make(map[string]*blackBox),
		bus:   make(map[int]map[string]string),
		fold:  cases.Fold(),
		used:  make(map[string]bool),
	}
	name := opts.ModuleName
	if name == "" {
		name = g.Name
	}
	nl.module = nl.unique(ident(name), DefaultModuleName)

	nl.inputs = g.Inputs()
	for k, i := range nl.inputs {
		nl.names[i] = nl.unique(ident(g.Nodes[i].Label), fmt.Sprintf("in%d", k))
	}
	nl.outputs = g.Outputs()
	for k, i := range nl.outputs {
		nl.names[i] = nl.unique(ident(g.Nodes[i].Label), fmt.Sprintf("out%d", k))
	}

	wires, consts := 0, 0
	for i := range g.Nodes {
		n := &g.Nodes[i]
		switch n.Kind {
		case circuit.Gate:
			wires++
			label := n.Label
			if strings.EqualFold(label, n.Gate.String()) {
				label = ""
			}
			nl.names[i] = nl.unique(ident(label), fmt.Sprintf("w%d", wires))
			nl.nets = append(nl.nets, i)
		case circuit.ConstantSource:
			consts++
			nl.names[i] = nl.unique(ident(n.Label), fmt.Sprintf("k%d", consts))
			nl.nets = append(nl.nets, i)
		}
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind != circuit.CustomModule {
			continue
		}
		def := g.Module(n.ModuleID)
		if def == nil {
			continue
		}
		box := nl.box(def)
		inst := ""
		if l := ident(n.Label); l != "" {
			inst = "u_" + l
		}
		nl.names[i] = nl.unique(inst, fmt.Sprintf("u%d", len(nl.insts)+1))
		nl.insts = append(nl.insts, i)
		outs := make(map[string]string, len(def.Outputs))
		for k, o := range def.Outputs {
			outs[o] = nl.unique(nl.names[i]+"_"+box.out[k], fmt.Sprintf("%s_o%d", nl.names[i], k))
		}
		nl.bus[i] = outs
	}

	nl.wire()
	return nl
}

// box returns the black box declared for def, creating it on first use.
// Port names are local to the box and are not reserved in the netlist.
func (nl *netlist) box(def *circuit.ModuleDef) *blackBox {
	if b, ok := nl.boxOf[def.ID]; ok {
		return b
	}
	b := &blackBox{def: def, name: nl.unique(ident(def.Name), fmt.Sprintf("mod%d", len(nl.boxes)+1))}
	local := make(map[string]bool)
	port := func(name, fallback string) string {
		s := ident(name)
		if s == "" {
			s = fallback
		}
		base := s
		for n := 2; local[nl.fold.String(s)]; n++ {
			s = fmt.Sprintf("%s_%d", base, n)
		}
		local[nl.fold.String(s)] = true
		return s
	}
	for k, in := range def.Inputs {
		b.in = append(b.in, port(in, fmt.Sprintf("i%d", k)))
	}
	for k, out := range def.Outputs {
		b.out = append(b.out, port(out, fmt.Sprintf("o%d", k)))
	}
	nl.boxes = append(nl.boxes, b)
	nl.boxOf[def.ID] = b
	return b
}

// unique reserves and returns name, or fallback when name is empty, adding
// a numeric suffix on collision. Names are compared case-insensitively.
func (nl *netlist) unique(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	s := name
	for n := 2; nl.used[nl.fold.String(s)]; n++ {
		s = fmt.Sprintf("%s_%d", name, n)
	}
	nl.used[nl.fold.String(s)] = true
	return s
}

func (nl *netlist) wire() {
	g := nl.g
	nl.pins = make([][]int, len(g.Nodes))
	nl.first = make([]int, len(g.Nodes))
	for i := range nl.first {
		nl.first[i] = -1
	}
	for j := range g.Edges {
		t := g.Index(g.Edges[j].Target)
		if t < 0 {
			continue
		}
		if nl.first[t] < 0 {
			nl.first[t] = j
		}
		k, ok := circuit.ParseInputPin(g.Edges[j].TargetPin)
		if !ok {
			continue
		}
		for len(nl.pins[t]) <= k {
			nl.pins[t] = append(nl.pins[t], -1)
		}
		if nl.pins[t][k] < 0 {
			nl.pins[t][k] = j
		}
	}
}

// driver returns the net carried by edge j, or "" when it has none.
func (nl *netlist) driver(j int) string {
	if j < 0 {
		return ""
	}
	e := &nl.g.Edges[j]
	s := nl.g.Index(e.Source)
	if s < 0 {
		return ""
	}
	n := &nl.g.Nodes[s]
	if n.Kind != circuit.CustomModule {
		return nl.names[s]
	}
	outs := nl.bus[s]
	if outs == nil {
		return ""
	}
	if e.SourcePin == "" {
		if def := nl.g.Module(n.ModuleID); len(def.Outputs) == 1 {
			return outs[def.Outputs[0]]
		}
		return ""
	}
	name, ok := circuit.ParseOutputPin(e.SourcePin)
	if !ok {
		name = e.SourcePin
	}
	return outs[name]
}

// operand is the expression feeding input k of node i; unconnected pins read
// as constant zero.
func (nl *netlist) operand(i, k int) string {
	j := -1
	if k < len(nl.pins[i]) {
		j = nl.pins[i][k]
	}
	if s := nl.driver(j); s != "" {
		return s
	}
	return nl.literal(0, 1)
}

// source is the expression an output port mirrors.
func (nl *netlist) source(i int) string {
	if s := nl.driver(nl.first[i]); s != "" {
		return s
	}
	return nl.literal(0, 1)
}

func (nl *netlist) operands(i int) []string {
	n := &nl.g.Nodes[i]
	arity := n.Arity
	switch {
	case n.Gate == circuit.NOT:
		arity = 1
	case arity <= 0:
		arity = circuit.MinArity
	}
	ops := make([]string, arity)
	for k := range ops {
		ops[k] = nl.operand(i, k)
	}
	return ops
}

func (nl *netlist) literal(v uint32, width int) string {
	if nl.d == VHDL {
		if width <= 1 {
			return fmt.Sprintf("'%d'", v&1)
		}
		return fmt.Sprintf("\"%0*b\"", width, v&widthMask(width))
	}
	if width <= 1 {
		return fmt.Sprintf("1'b%d", v&1)
	}
	return fmt.Sprintf("%d'd%d", width, v&widthMask(width))
}

// width is the declared width of node i's net.
func (nl *netlist) width(i int) int {
	n := &nl.g.Nodes[i]
	w := n.Width
	if n.Kind == circuit.ConstantSource {
		if l := bits.Len32(n.Value); l > w {
			w = l
		}
	}
	if w < 1 {
		return 1
	}
	return w
}

func widthMask(w int) uint32 {
	if w >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<uint(w) - 1
}

// header is the wrapped banner comment opening every generated file.
func (nl *netlist) header(prefix string, width int) string {
	gates, consts := 0, 0
	for _, i := range nl.nets {
		if nl.g.Nodes[i].Kind == circuit.Gate {
			gates++
		} else {
			consts++
		}
	}
	text := fmt.Sprintf("%s: generated by logicsim from circuit %q with %d inputs, %d outputs, %d gates, %d constants and %d module instances.",
		nl.module, nl.g.Name, len(nl.inputs), len(nl.outputs), gates, consts, len(nl.insts))
	w := width - len(prefix)
	if w < 20 {
		w = 20
	}
	var b strings.Builder
	for _, line := range strings.Split(wordwrap.WrapString(text, uint(w)), "\n") {
		b.WriteString(strings.TrimRight(prefix+line, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// program writes a module's code as comment lines.
func program(b *strings.Builder, indent, prefix, code string) {
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		b.WriteString(strings.TrimRight(indent+prefix+"  "+line, " "))
		b.WriteByte('\n')
	}
}

// Package extractor pulls structural facts out of HDL text: the module or
// entity name, its ports, internal nets and the continuous assignments with
// their expressions classified into gates, aliases and literals.
//
// Only the structural subset that the circuit exporter produces is
// recognized. Anything else is skipped without error; callers decide whether
// the facts are enough to build a circuit.
package extractor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
)

// Dialect names a supported HDL.
type Dialect uint8

const (
	Verilog Dialect = iota
	VHDL
)

func (d Dialect) String() string {
	switch d {
	case Verilog:
		return "verilog"
	case VHDL:
		return "vhdl"
	default:
		return fmt.Sprintf("dialect(%d)", uint8(d))
	}
}

// Ext returns the usual file extension of the dialect.
func (d Dialect) Ext() string {
	if d == VHDL {
		return ".vhd"
	}
	return ".v"
}

// ParseDialect accepts a dialect name or a file extension.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "verilog", "v", "sv", "a":
		return Verilog, nil
	case "vhdl", "vhd", "b":
		return VHDL, nil
	}
	return 0, fmt.Errorf("unknown HDL dialect %q", s)
}

// DialectForPath picks the dialect from a file extension.
func DialectForPath(path string) (Dialect, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".v", ".sv":
		return Verilog, true
	case ".vhd", ".vhdl":
		return VHDL, true
	}
	return 0, false
}

// Direction of a port
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Port is a module/entity port.
type Port struct {
	Name  string
	Dir   Direction
	Width int
	Line  int
}

// ExprKind classifies the right-hand side of an assignment.
type ExprKind uint8

const (
	// Alias makes the target another name for a single source signal.
	Alias ExprKind = iota
	// GateExpr is one gate over the operands.
	GateExpr
	// Literal is a constant value.
	Literal
)

func (k ExprKind) String() string {
	switch k {
	case GateExpr:
		return "gate"
	case Literal:
		return "literal"
	default:
		return "alias"
	}
}

// Assign is one continuous assignment.
type Assign struct {
	Target   string
	Expr     string // whitespace-normalized source text
	Kind     ExprKind
	Gate     circuit.GateKind
	Operands []string // operand names; for an Alias the single source
	Value    uint32   // Literal only
	Line     int
}

// Facts contains everything extracted from one HDL text.
type Facts struct {
	Dialect Dialect
	Module  string
	Ports   []Port
	Signals []string
	Assigns []Assign
}

// Inputs returns the input ports in declaration order.
func (f *Facts) Inputs() []Port { return f.ports(In) }

// Outputs returns the output ports in declaration order.
func (f *Facts) Outputs() []Port { return f.ports(Out) }

func (f *Facts) ports(d Direction) []Port {
	var out []Port
	for _, p := range f.Ports {
		if p.Dir == d {
			out = append(out, p)
		}
	}
	return out
}

// Extract parses text in the given dialect.
func Extract(d Dialect, text string) (Facts, error) {
	switch d {
	case Verilog:
		return extractVerilog(text), nil
	case VHDL:
		return extractVHDL(text), nil
	}
	return Facts{}, fmt.Errorf("extract: unsupported dialect %s", d)
}

func extractVerilog(text string) Facts {
	facts := Facts{Dialect: Verilog}
	src := blank(verilogComment, text)

	if loc := modulePattern.FindStringSubmatchIndex(src); loc != nil {
		facts.Module = src[loc[2]:loc[3]]
		// only the first module; later ones are black boxes
		if end := endmodulePattern.FindStringIndex(src[loc[1]:]); end != nil {
			src = src[:loc[1]+end[0]]
		}
	}

	dirs := directionPattern.FindAllStringSubmatchIndex(src, -1)
	for i, loc := range dirs {
		end := len(src)
		if i+1 < len(dirs) {
			end = dirs[i+1][0]
		}
		seg := src[loc[1]:end]
		if j := strings.IndexAny(seg, ";)"); j >= 0 {
			seg = seg[:j]
		}
		m := portDeclPattern.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		width := 1
		if m[1] != "" {
			width = span(m[1], m[2])
		}
		dir := In
		if src[loc[2]:loc[3]] != "input" {
			dir = Out
		}
		for _, name := range splitNames(m[3]) {
			facts.Ports = append(facts.Ports, Port{Name: name, Dir: dir, Width: width, Line: lineAt(src, loc[0])})
		}
	}

	ports := make(map[string]bool, len(facts.Ports))
	for _, p := range facts.Ports {
		ports[p.Name] = true
	}
	for _, m := range netPattern.FindAllStringSubmatch(src, -1) {
		for _, name := range splitNames(m[1]) {
			if !ports[name] {
				facts.Signals = append(facts.Signals, name)
			}
		}
	}

	for _, loc := range assignPattern.FindAllStringSubmatchIndex(src, -1) {
		a := Classify(Verilog, src[loc[4]:loc[5]])
		a.Target = src[loc[2]:loc[3]]
		a.Line = lineAt(src, loc[0])
		facts.Assigns = append(facts.Assigns, a)
	}
	return facts
}

func extractVHDL(text string) Facts {
	facts := Facts{Dialect: VHDL}
	src := blank(vhdlComment, text)

	from := 0
	if loc := entityPattern.FindStringSubmatchIndex(src); loc != nil {
		facts.Module = src[loc[2]:loc[3]]
		from = loc[1]
	}

	bodyStart := 0
	if loc := portBlockPattern.FindStringIndex(src[from:]); loc != nil {
		open := from + loc[1]
		end := matchParen(src, open)
		block := src[open:end]
		offset := open
		for _, entry := range strings.Split(block, ";") {
			line := lineAt(src, offset+len(entry)-len(strings.TrimLeft(entry, " \t\r\n")))
			offset += len(entry) + 1
			m := portEntryPattern.FindStringSubmatch(entry)
			if m == nil {
				continue
			}
			var dir Direction
			switch strings.ToLower(m[2]) {
			case "in":
				dir = In
			case "out", "buffer":
				dir = Out
			default:
				continue
			}
			width := CalculateWidth(m[3])
			if width == 0 {
				width = 1
			}
			for _, name := range splitNames(m[1]) {
				facts.Ports = append(facts.Ports, Port{Name: name, Dir: dir, Width: width, Line: line})
			}
		}
		bodyStart = end
	}

	decl := src[bodyStart:]
	body := decl
	if loc := beginPattern.FindStringIndex(decl); loc != nil {
		body = decl[loc[1]:]
		decl = decl[:loc[0]]
	}
	for _, m := range signalPattern.FindAllStringSubmatch(decl, -1) {
		facts.Signals = append(facts.Signals, splitNames(m[1])...)
	}

	bodyOff := len(src) - len(body)
	for _, loc := range vhdlAssignPattern.FindAllStringSubmatchIndex(body, -1) {
		a := Classify(VHDL, body[loc[4]:loc[5]])
		a.Target = body[loc[2]:loc[3]]
		a.Line = lineAt(src, bodyOff+loc[0])
		facts.Assigns = append(facts.Assigns, a)
	}
	return facts
}

// matchParen returns the offset of the parenthesis closing the one just
// before open, or len(s) when unbalanced.
func matchParen(s string, open int) int {
	depth := 1
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(s)
}

// Classify parses the right-hand side of an assignment. Parentheses are
// ignored; a binary operator makes a gate with one operand per term, a
// leading negation turns AND/OR into NAND/NOR, a lone negation is NOT and
// anything else is an alias or a literal.
func Classify(d Dialect, expr string) Assign {
	e := squeeze(strings.NewReplacer("(", " ", ")", " ").Replace(expr))
	a := Assign{Expr: squeeze(expr)}
	if d == VHDL {
		return classifyVHDL(e, a)
	}
	return classifyVerilog(e, a)
}

func classifyVerilog(e string, a Assign) Assign {
	if v, ok := parseVerilogLiteral(strings.ReplaceAll(e, " ", "")); ok {
		a.Kind, a.Value = Literal, v
		return a
	}
	if !strings.ContainsAny(e, "&|^~") {
		a.Kind = Alias
		a.Operands = []string{e}
		return a
	}

	negated := strings.HasPrefix(e, "~")
	var sep string
	a.Kind = GateExpr
	switch {
	case strings.Contains(e, "&"):
		sep, a.Gate = "&", circuit.AND
		if negated {
			a.Gate = circuit.NAND
		}
	case strings.Contains(e, "|"):
		sep, a.Gate = "|", circuit.OR
		if negated {
			a.Gate = circuit.NOR
		}
	case strings.Contains(e, "^"):
		sep, a.Gate = "^", circuit.XOR
	default:
		a.Gate = circuit.NOT
		a.Operands = []string{strings.TrimSpace(strings.Replace(e, "~", "", 1))}
		return a
	}
	for _, op := range strings.Split(e, sep) {
		a.Operands = append(a.Operands, strings.TrimSpace(strings.Replace(op, "~", "", 1)))
	}
	return a
}

func classifyVHDL(e string, a Assign) Assign {
	if v, ok := parseVHDLLiteral(e); ok {
		a.Kind, a.Value = Literal, v
		return a
	}
	negated := vhdlNot.MatchString(e)
	for _, op := range vhdlOps {
		if !op.re.MatchString(e) {
			continue
		}
		name := op.plain
		if negated {
			name = op.negate
		}
		a.Kind = GateExpr
		a.Gate, _ = circuit.ParseGateKind(name)
		for _, term := range op.re.Split(e, -1) {
			a.Operands = append(a.Operands, strings.TrimSpace(vhdlNot.ReplaceAllString(strings.TrimSpace(term), "")))
		}
		return a
	}
	if negated {
		a.Kind, a.Gate = GateExpr, circuit.NOT
		a.Operands = []string{strings.TrimSpace(vhdlNot.ReplaceAllString(e, ""))}
		return a
	}
	a.Kind = Alias
	a.Operands = []string{e}
	return a
}

package hdl

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
)

// Generate writes g as a structural module in dialect d: one continuous
// assignment per gate and constant, one instance per custom module and one
// assignment per output port. Custom module definitions become black boxes
// carrying their program as a comment.
func Generate(d Dialect, g *circuit.Graph, opts Options) (string, error) {
	if g == nil || g.Empty() {
		return "", ErrEmptyGraph
	}
	opts = opts.withDefaults()
	nl := buildNetlist(g, d, opts)
	var b strings.Builder
	switch d {
	case Verilog:
		nl.verilog(&b, opts)
	case VHDL:
		nl.vhdl(&b, opts)
	default:
		return "", errors.Errorf("export: unsupported dialect %s", d)
	}
	return b.String(), nil
}

func verilogRange(w int) string {
	if w <= 1 {
		return ""
	}
	return fmt.Sprintf("[%d:0] ", w-1)
}

func (nl *netlist) verilogExpr(i int) string {
	n := &nl.g.Nodes[i]
	if n.Kind == circuit.ConstantSource {
		return nl.literal(n.Value, nl.width(i))
	}
	ops := nl.operands(i)
	switch n.Gate {
	case circuit.NOT:
		return "~" + ops[0]
	case circuit.OR:
		return strings.Join(ops, " | ")
	case circuit.XOR:
		return strings.Join(ops, " ^ ")
	case circuit.NAND:
		return "~(" + strings.Join(ops, " & ") + ")"
	case circuit.NOR:
		return "~(" + strings.Join(ops, " | ") + ")"
	default:
		return strings.Join(ops, " & ")
	}
}

func (nl *netlist) verilog(b *strings.Builder, opts Options) {
	b.WriteString(nl.header("// ", opts.HeaderWidth))

	var ports []string
	for _, i := range nl.inputs {
		ports = append(ports, fmt.Sprintf("    input %s%s", verilogRange(nl.width(i)), nl.names[i]))
	}
	for _, i := range nl.outputs {
		ports = append(ports, fmt.Sprintf("    output %s%s", verilogRange(nl.width(i)), nl.names[i]))
	}
	if len(ports) == 0 {
		fmt.Fprintf(b, "module %s;\n", nl.module)
	} else {
		fmt.Fprintf(b, "module %s(\n%s\n);\n", nl.module, strings.Join(ports, ",\n"))
	}

	for _, i := range nl.nets {
		fmt.Fprintf(b, "    wire %s%s;\n", verilogRange(nl.width(i)), nl.names[i])
	}
	for _, i := range nl.insts {
		def := nl.g.Module(nl.g.Nodes[i].ModuleID)
		for _, o := range def.Outputs {
			fmt.Fprintf(b, "    wire %s;\n", nl.bus[i][o])
		}
	}
	if len(nl.nets)+len(nl.insts) > 0 {
		b.WriteByte('\n')
	}

	for _, i := range nl.nets {
		fmt.Fprintf(b, "    assign %s = %s;\n", nl.names[i], nl.verilogExpr(i))
	}
	for _, i := range nl.insts {
		def := nl.g.Module(nl.g.Nodes[i].ModuleID)
		box := nl.boxOf[def.ID]
		var conns []string
		for k := range def.Inputs {
			conns = append(conns, fmt.Sprintf(".%s(%s)", box.in[k], nl.operand(i, k)))
		}
		for k, o := range def.Outputs {
			conns = append(conns, fmt.Sprintf(".%s(%s)", box.out[k], nl.bus[i][o]))
		}
		fmt.Fprintf(b, "    %s %s (%s);\n", box.name, nl.names[i], strings.Join(conns, ", "))
	}
	for _, i := range nl.outputs {
		fmt.Fprintf(b, "    assign %s = %s;\n", nl.names[i], nl.source(i))
	}
	b.WriteString("endmodule\n")

	for _, box := range nl.boxes {
		var ports []string
		for _, p := range box.in {
			ports = append(ports, "input "+p)
		}
		for _, p := range box.out {
			ports = append(ports, "output "+p)
		}
		fmt.Fprintf(b, "\n// black box for module %q\n", box.def.Name)
		fmt.Fprintf(b, "module %s(%s);\n", box.name, strings.Join(ports, ", "))
		program(b, "    ", "//", box.def.Code)
		b.WriteString("endmodule\n")
	}
}

func vhdlType(w int) string {
	if w <= 1 {
		return "std_logic"
	}
	return fmt.Sprintf("std_logic_vector(%d downto 0)", w-1)
}

func (nl *netlist) vhdlExpr(i int) string {
	n := &nl.g.Nodes[i]
	if n.Kind == circuit.ConstantSource {
		return nl.literal(n.Value, nl.width(i))
	}
	ops := nl.operands(i)
	switch n.Gate {
	case circuit.NOT:
		return "not " + ops[0]
	case circuit.OR:
		return strings.Join(ops, " or ")
	case circuit.XOR:
		return strings.Join(ops, " xor ")
	case circuit.NAND:
		return "not (" + strings.Join(ops, " and ") + ")"
	case circuit.NOR:
		return "not (" + strings.Join(ops, " or ") + ")"
	default:
		return strings.Join(ops, " and ")
	}
}

func (nl *netlist) vhdl(b *strings.Builder, opts Options) {
	b.WriteString(nl.header("-- ", opts.HeaderWidth))
	b.WriteString("library ieee;\nuse ieee.std_logic_1164.all;\n\n")

	fmt.Fprintf(b, "entity %s is\n", nl.module)
	var ports []string
	for _, i := range nl.inputs {
		ports = append(ports, fmt.Sprintf("        %s : in %s", nl.names[i], vhdlType(nl.width(i))))
	}
	for _, i := range nl.outputs {
		ports = append(ports, fmt.Sprintf("        %s : out %s", nl.names[i], vhdlType(nl.width(i))))
	}
	if len(ports) > 0 {
		fmt.Fprintf(b, "    port (\n%s\n    );\n", strings.Join(ports, ";\n"))
	}
	fmt.Fprintf(b, "end %s;\n\n", nl.module)

	fmt.Fprintf(b, "architecture structural of %s is\n", nl.module)
	for _, box := range nl.boxes {
		fmt.Fprintf(b, "    -- black box for module %q\n", box.def.Name)
		program(b, "    ", "--", box.def.Code)
		fmt.Fprintf(b, "    component %s is\n", box.name)
		var ports []string
		for _, p := range box.in {
			ports = append(ports, fmt.Sprintf("            %s : in std_logic", p))
		}
		for _, p := range box.out {
			ports = append(ports, fmt.Sprintf("            %s : out std_logic", p))
		}
		if len(ports) > 0 {
			fmt.Fprintf(b, "        port (\n%s\n        );\n", strings.Join(ports, ";\n"))
		}
		b.WriteString("    end component;\n")
	}
	for _, i := range nl.nets {
		fmt.Fprintf(b, "    signal %s : %s;\n", nl.names[i], vhdlType(nl.width(i)))
	}
	for _, i := range nl.insts {
		def := nl.g.Module(nl.g.Nodes[i].ModuleID)
		for _, o := range def.Outputs {
			fmt.Fprintf(b, "    signal %s : std_logic;\n", nl.bus[i][o])
		}
	}
	b.WriteString("begin\n")

	for _, i := range nl.nets {
		fmt.Fprintf(b, "    %s <= %s;\n", nl.names[i], nl.vhdlExpr(i))
	}
	for _, i := range nl.insts {
		def := nl.g.Module(nl.g.Nodes[i].ModuleID)
		box := nl.boxOf[def.ID]
		var conns []string
		for k := range def.Inputs {
			conns = append(conns, fmt.Sprintf("%s => %s", box.in[k], nl.operand(i, k)))
		}
		for k, o := range def.Outputs {
			conns = append(conns, fmt.Sprintf("%s => %s", box.out[k], nl.bus[i][o]))
		}
		fmt.Fprintf(b, "    %s : %s port map (%s);\n", nl.names[i], box.name, strings.Join(conns, ", "))
	}
	for _, i := range nl.outputs {
		fmt.Fprintf(b, "    %s <= %s;\n", nl.names[i], nl.source(i))
	}
	b.WriteString("end structural;\n")
}

package hdl

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/stepper"
)

const tracerName = "github.com/robert-at-pretension-io/logicsim/internal/hdl"

// GenerateTestbench writes a self-checking Verilog testbench for the module
// produced by Generate(Verilog, g, opts). Every input vector is applied in
// stepper order; the expected outputs come from evaluating g itself. The
// testbench displays each mismatch and a final PASS/FAIL line.
func GenerateTestbench(ctx context.Context, g *circuit.Graph, opts Options) (string, error) {
	if g == nil || g.Empty() {
		return "", ErrEmptyGraph
	}
	opts = opts.withDefaults()
	nl := buildNetlist(g, Verilog, opts)
	n := len(nl.inputs)
	if n > opts.MaxInputs {
		return "", errors.Wrapf(ErrTooManyInputs, "%d inputs, limit %d", n, opts.MaxInputs)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "hdl.GenerateTestbench")
	defer span.End()
	span.SetAttributes(attribute.Int("inputs", n), attribute.Int("outputs", len(nl.outputs)))

	vectors, err := stepper.Vectors(n)
	if err != nil {
		return "", errors.Wrap(err, "testbench")
	}
	work := g.Clone()
	expected := make([][]uint32, len(vectors))
	for v, vec := range vectors {
		for k, i := range nl.inputs {
			work.Nodes[i].Value = vec[k]
		}
		if _, err := opts.Evaluator.Evaluate(ctx, work); err != nil {
			span.RecordError(err)
			return "", errors.Wrap(err, "testbench")
		}
		row := make([]uint32, len(nl.outputs))
		for k, i := range nl.outputs {
			s, _ := work.Nodes[i].Signal.Scalar()
			row[k] = s & widthMask(nl.width(i))
		}
		expected[v] = row
	}

	errs := nl.unique("errors", "errors")
	dut := nl.unique("dut", "dut")
	var b strings.Builder
	b.WriteString("`timescale 1ns / 1ps\n")
	b.WriteString(nl.header("// ", opts.HeaderWidth))
	fmt.Fprintf(&b, "module %s_tb;\n", nl.module)
	for _, i := range nl.inputs {
		fmt.Fprintf(&b, "    reg %s%s;\n", verilogRange(nl.width(i)), nl.names[i])
	}
	for _, i := range nl.outputs {
		fmt.Fprintf(&b, "    wire %s%s;\n", verilogRange(nl.width(i)), nl.names[i])
	}
	fmt.Fprintf(&b, "    integer %s;\n\n", errs)

	var conns []string
	for _, i := range append(append([]int(nil), nl.inputs...), nl.outputs...) {
		conns = append(conns, fmt.Sprintf("        .%s(%s)", nl.names[i], nl.names[i]))
	}
	if len(conns) > 0 {
		fmt.Fprintf(&b, "    %s %s (\n%s\n    );\n\n", nl.module, dut, strings.Join(conns, ",\n"))
	} else {
		fmt.Fprintf(&b, "    %s %s ();\n\n", nl.module, dut)
	}

	b.WriteString("    initial begin\n")
	fmt.Fprintf(&b, "        %s = 0;\n", errs)
	for v, vec := range vectors {
		fmt.Fprintf(&b, "        // vector %d\n", v)
		if n > 0 {
			var sets []string
			for k, i := range nl.inputs {
				sets = append(sets, fmt.Sprintf("%s = %s;", nl.names[i], nl.literal(vec[k], nl.width(i))))
			}
			fmt.Fprintf(&b, "        %s\n", strings.Join(sets, " "))
		}
		b.WriteString("        #10;\n")
		for k, i := range nl.outputs {
			want := nl.literal(expected[v][k], nl.width(i))
			name := nl.names[i]
			fmt.Fprintf(&b, "        if (%s !== %s) begin\n", name, want)
			fmt.Fprintf(&b, "            %s = %s + 1;\n", errs, errs)
			fmt.Fprintf(&b, "            $display(\"vector %d: %s = %%b, expected %%b\", %s, %s);\n", v, name, name, want)
			b.WriteString("        end\n")
		}
	}
	fmt.Fprintf(&b, "        if (%s == 0)\n", errs)
	fmt.Fprintf(&b, "            $display(\"PASS: %d vectors\");\n", len(vectors))
	b.WriteString("        else\n")
	fmt.Fprintf(&b, "            $display(\"FAIL: %%0d mismatches\", %s);\n", errs)
	b.WriteString("        $finish;\n")
	b.WriteString("    end\n")
	b.WriteString("endmodule\n")
	return b.String(), nil
}

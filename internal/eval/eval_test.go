package eval

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
)

type graphBuilder struct {
	t *testing.T
	g *circuit.Graph
	y float64
}

func newBuilder(t *testing.T) *graphBuilder {
	return &graphBuilder{t: t, g: circuit.New("test")}
}

func (b *graphBuilder) add(n circuit.Node) string {
	b.t.Helper()
	b.y += 100
	if n.Position == (circuit.Position{}) {
		n.Position.Y = b.y
	}
	if _, err := b.g.AddNode(n); err != nil {
		b.t.Fatalf("AddNode(%s): %v", n.ID, err)
	}
	return n.ID
}

func (b *graphBuilder) input(id string, v uint32) string {
	return b.add(circuit.Node{ID: id, Kind: circuit.PrimaryInput, Value: v})
}

func (b *graphBuilder) gate(id string, k circuit.GateKind, arity int) string {
	return b.add(circuit.Node{ID: id, Kind: circuit.Gate, Gate: k, Arity: arity})
}

func (b *graphBuilder) output(id string) string {
	return b.add(circuit.Node{ID: id, Kind: circuit.PrimaryOutput})
}

func (b *graphBuilder) wire(src, srcPin, dst string, pin int) {
	b.t.Helper()
	id := fmt.Sprintf("e%d", len(b.g.Edges))
	if err := b.g.AddEdge(circuit.Edge{ID: id, Source: src, SourcePin: srcPin, Target: dst, TargetPin: circuit.InputPin(pin)}); err != nil {
		b.t.Fatalf("AddEdge: %v", err)
	}
}

func quiet() Option {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return WithLogger(l)
}

func evaluate(t *testing.T, g *circuit.Graph, opts ...Option) *Report {
	t.Helper()
	rep, err := New(append([]Option{quiet()}, opts...)...).Evaluate(context.Background(), g)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return rep
}

func scalar(t *testing.T, g *circuit.Graph, id string) uint32 {
	t.Helper()
	v, ok := g.Node(id).Signal.Scalar()
	if !ok {
		t.Fatalf("node %s: signal %v is not scalar", id, g.Node(id).Signal)
	}
	return v
}

func TestTwoInputTruthTables(t *testing.T) {
	tables := map[circuit.GateKind][4]uint32{
		circuit.AND:  {0, 0, 0, 1},
		circuit.OR:   {0, 1, 1, 1},
		circuit.XOR:  {0, 1, 1, 0},
		circuit.NAND: {1, 1, 1, 0},
		circuit.NOR:  {1, 0, 0, 0},
	}
	for kind, want := range tables {
		for row := 0; row < 4; row++ {
			a, b := uint32(row>>1), uint32(row&1)
			t.Run(fmt.Sprintf("%s/%d%d", kind, a, b), func(t *testing.T) {
				gb := newBuilder(t)
				gb.input("a", a)
				gb.input("b", b)
				gb.gate("g", kind, 2)
				gb.output("y")
				gb.wire("a", "", "g", 0)
				gb.wire("b", "", "g", 1)
				gb.wire("g", "", "y", 0)
				evaluate(t, gb.g)
				if got := scalar(t, gb.g, "y"); got != want[row] {
					t.Errorf("%s(%d,%d) = %d, want %d", kind, a, b, got, want[row])
				}
			})
		}
	}
}

func TestNotAndDynamicWidth(t *testing.T) {
	tests := []struct {
		name  string
		kind  circuit.GateKind
		a, b  uint32
		want  uint32
		arity int
	}{
		{"not 0", circuit.NOT, 0, 0, 1, 1},
		{"not 1", circuit.NOT, 1, 0, 0, 1},
		{"not 5", circuit.NOT, 5, 0, 2, 1},
		{"nand 5 3", circuit.NAND, 5, 3, 6, 2},
		{"nor 1 4", circuit.NOR, 1, 4, 2, 2},
		{"and wide", circuit.AND, 0xF0F0, 0xFF00, 0xF000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gb := newBuilder(t)
			gb.input("a", tt.a)
			gb.input("b", tt.b)
			gb.gate("g", tt.kind, tt.arity)
			gb.wire("a", "", "g", 0)
			if tt.arity > 1 {
				gb.wire("b", "", "g", 1)
			}
			evaluate(t, gb.g)
			if got := scalar(t, gb.g, "g"); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFixedWidth(t *testing.T) {
	gb := newBuilder(t)
	gb.input("a", 0)
	gb.add(circuit.Node{ID: "n4", Kind: circuit.Gate, Gate: circuit.NOT, Arity: 1, Width: 4})
	gb.add(circuit.Node{ID: "n1", Kind: circuit.Gate, Gate: circuit.NOT, Arity: 1})
	gb.wire("a", "", "n4", 0)
	gb.wire("a", "", "n1", 0)

	evaluate(t, gb.g, WithWidthPolicy(WidthFixed))
	if got := scalar(t, gb.g, "n4"); got != 15 {
		t.Errorf("NOT 0 at width 4 = %d, want 15", got)
	}
	if got := scalar(t, gb.g, "n1"); got != 1 {
		t.Errorf("NOT 0 at default width = %d, want 1", got)
	}

	if _, err := ParseWidthPolicy("fixed"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseWidthPolicy("wide"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestAndScenario(t *testing.T) {
	gb := newBuilder(t)
	gb.input("X1", 1)
	gb.input("X2", 1)
	gb.gate("and", circuit.AND, 2)
	gb.output("Y")
	gb.wire("X1", "", "and", 0)
	gb.wire("X2", "", "and", 1)
	gb.wire("and", "", "Y", 0)

	evaluate(t, gb.g)
	if scalar(t, gb.g, "Y") != 1 {
		t.Fatal("Y should be 1")
	}
	for _, e := range gb.g.Edges {
		if e.Activity != circuit.High {
			t.Errorf("edge %s: %s, want high", e.ID, e.Activity)
		}
	}

	if err := gb.g.SetValue("X1", 0); err != nil {
		t.Fatal(err)
	}
	evaluate(t, gb.g)
	if scalar(t, gb.g, "Y") != 0 {
		t.Fatal("Y should be 0")
	}
	if gb.g.Edges[0].Activity != circuit.Low || gb.g.Edges[1].Activity != circuit.High || gb.g.Edges[2].Activity != circuit.Low {
		t.Errorf("activity = %s %s %s", gb.g.Edges[0].Activity, gb.g.Edges[1].Activity, gb.g.Edges[2].Activity)
	}
}

func TestFloatingPinReadsZero(t *testing.T) {
	gb := newBuilder(t)
	gb.input("a", 1)
	gb.gate("and", circuit.AND, 2)
	gb.gate("or", circuit.OR, 3)
	gb.output("dangling")
	gb.wire("a", "", "and", 0)
	gb.wire("a", "", "or", 0)

	evaluate(t, gb.g)
	if scalar(t, gb.g, "and") != 0 {
		t.Error("AND with a floating pin should read it as 0")
	}
	if scalar(t, gb.g, "or") != 1 {
		t.Error("OR with floating pins should be 1")
	}
	if scalar(t, gb.g, "dangling") != 0 {
		t.Error("disconnected output should be 0")
	}
}

func TestIdempotent(t *testing.T) {
	gb := newBuilder(t)
	gb.input("a", 6)
	gb.input("b", 3)
	gb.gate("x", circuit.XOR, 2)
	gb.gate("n", circuit.NOT, 1)
	gb.output("y")
	gb.wire("a", "", "x", 0)
	gb.wire("b", "", "x", 1)
	gb.wire("x", "", "n", 0)
	gb.wire("n", "", "y", 0)

	evaluate(t, gb.g)
	first := gb.g.Clone()
	evaluate(t, gb.g)
	for i := range first.Nodes {
		if !first.Nodes[i].Signal.Equal(gb.g.Nodes[i].Signal) {
			t.Errorf("node %s changed: %v -> %v", first.Nodes[i].ID, first.Nodes[i].Signal, gb.g.Nodes[i].Signal)
		}
	}
	for i := range first.Edges {
		if first.Edges[i].Activity != gb.g.Edges[i].Activity {
			t.Errorf("edge %s activity changed", first.Edges[i].ID)
		}
	}
}

func TestChainQuiesces(t *testing.T) {
	const n = 8
	for _, reversed := range []bool{false, true} {
		t.Run(fmt.Sprintf("reversed=%v", reversed), func(t *testing.T) {
			gb := newBuilder(t)
			ids := []string{"in"}
			for i := 1; i <= n; i++ {
				ids = append(ids, fmt.Sprintf("g%d", i))
			}
			ids = append(ids, "out")
			order := append([]string(nil), ids...)
			if reversed {
				for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
					order[i], order[j] = order[j], order[i]
				}
			}
			for _, id := range order {
				switch id {
				case "in":
					gb.input(id, 1)
				case "out":
					gb.output(id)
				default:
					gb.gate(id, circuit.NOT, 1)
				}
			}
			for i := 1; i < len(ids); i++ {
				gb.wire(ids[i-1], "", ids[i], 0)
			}

			rep := evaluate(t, gb.g)
			if !rep.Quiescent {
				t.Fatalf("did not quiesce in %d passes", rep.Passes)
			}
			// values settle within n+1 passes; one more pass observes no change
			if rep.Passes > n+2 {
				t.Errorf("passes = %d, want <= %d", rep.Passes, n+2)
			}
			if !reversed && rep.Passes != 2 {
				t.Errorf("topological order took %d passes, want 2", rep.Passes)
			}
			if got := scalar(t, gb.g, "out"); got != 1 {
				t.Errorf("out = %d, want 1 after an even number of inversions", got)
			}
		})
	}
}

func TestOscillatorHitsPassCap(t *testing.T) {
	gb := newBuilder(t)
	gb.gate("n", circuit.NOT, 1)
	gb.wire("n", "", "n", 0)

	rep := evaluate(t, gb.g)
	if rep.Quiescent {
		t.Fatal("self-inverting loop should not settle")
	}
	if rep.Passes != 2 {
		t.Fatalf("passes = %d, want 2", rep.Passes)
	}

	rep = evaluate(t, gb.g, WithMaxPasses(5))
	if rep.Passes != 5 {
		t.Fatalf("passes = %d, want 5", rep.Passes)
	}
}

func moduleGraph(t *testing.T, code string) *graphBuilder {
	t.Helper()
	gb := newBuilder(t)
	gb.g.AddModule(circuit.ModuleDef{ID: "adder", Name: "Adder", Inputs: []string{"A", "B"}, Outputs: []string{"Sum", "Carry"}, Code: code})
	gb.input("a", 3)
	gb.input("b", 5)
	gb.add(circuit.Node{ID: "m", Kind: circuit.CustomModule, ModuleID: "adder"})
	gb.output("sum")
	gb.output("carry")
	gb.wire("a", "", "m", 0)
	gb.wire("b", "", "m", 1)
	gb.wire("m", circuit.OutputPin("Sum"), "sum", 0)
	gb.wire("m", circuit.OutputPin("Carry"), "carry", 0)
	return gb
}

func TestCustomModuleAdder(t *testing.T) {
	gb := moduleGraph(t, "Sum = A + B")
	rep := evaluate(t, gb.g)
	if len(rep.Faults) != 0 {
		t.Fatalf("faults: %v", rep.Faults)
	}
	if got := scalar(t, gb.g, "sum"); got != 8 {
		t.Errorf("sum = %d, want 8", got)
	}
	if got := scalar(t, gb.g, "carry"); got != 0 {
		t.Errorf("carry = %d, want 0", got)
	}
	bus, ok := gb.g.Node("m").Signal.Bus()
	if !ok || bus[0].Name != "Sum" || bus[1].Name != "Carry" {
		t.Fatalf("module signal = %v", gb.g.Node("m").Signal)
	}
	if gb.g.Edges[3].Activity != circuit.Low {
		t.Errorf("carry edge = %s, want low", gb.g.Edges[3].Activity)
	}
}

func TestScriptFaultIsIsolated(t *testing.T) {
	gb := moduleGraph(t, "outputs.Sum = ;")
	gb.gate("n", circuit.NOT, 1)
	gb.wire("a", "", "n", 0)

	rep := evaluate(t, gb.g)
	if len(rep.Faults) != 1 || rep.Faults[0].Node != "m" {
		t.Fatalf("faults = %v", rep.Faults)
	}
	if scalar(t, gb.g, "sum") != 0 {
		t.Error("faulted module outputs should read 0")
	}
	if scalar(t, gb.g, "n") != 0 {
		t.Error("rest of the graph should still evaluate")
	}
}

func TestMissingDefinition(t *testing.T) {
	gb := moduleGraph(t, "")
	gb.g.Modules = nil

	rep := evaluate(t, gb.g)
	if len(rep.Missing) != 1 || rep.Missing[0] != "m" {
		t.Fatalf("missing = %v", rep.Missing)
	}
	if gb.g.Node("m").Signal.Known() {
		t.Error("node without definition should stay Unknown")
	}
	if gb.g.Edges[2].Activity != circuit.Floating {
		t.Errorf("edge from missing module = %s, want floating", gb.g.Edges[2].Activity)
	}
	if scalar(t, gb.g, "sum") != 0 {
		t.Error("output fed by a missing module should read 0")
	}
}

func TestBusWithoutPin(t *testing.T) {
	g := circuit.New("bus")
	g.AddModule(circuit.ModuleDef{ID: "one", Outputs: []string{"Y"}, Code: "Y = 7"})
	g.AddModule(circuit.ModuleDef{ID: "two", Outputs: []string{"P", "Q"}, Code: "P = 1; Q = 2"})
	for _, n := range []circuit.Node{
		{ID: "m1", Kind: circuit.CustomModule, ModuleID: "one"},
		{ID: "m2", Kind: circuit.CustomModule, ModuleID: "two"},
		{ID: "o1", Kind: circuit.PrimaryOutput},
		{ID: "o2", Kind: circuit.PrimaryOutput},
	} {
		if _, err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	_ = g.AddEdge(circuit.Edge{ID: "e1", Source: "m1", Target: "o1", TargetPin: "input-0"})
	_ = g.AddEdge(circuit.Edge{ID: "e2", Source: "m2", Target: "o2", TargetPin: "input-0"})

	evaluate(t, g)
	if scalar(t, g, "o1") != 7 {
		t.Error("single-line bus should be readable without a pin")
	}
	if g.Edges[1].Activity != circuit.Floating || scalar(t, g, "o2") != 0 {
		t.Error("ambiguous bus read should float")
	}
}

func TestCancelledContext(t *testing.T) {
	gb := newBuilder(t)
	gb.input("a", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(quiet()).Evaluate(ctx, gb.g)
	if errors.Cause(err) != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

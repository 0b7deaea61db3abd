package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/extractor"
	"github.com/robert-at-pretension-io/logicsim/internal/facts"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func rules(r *Result) map[string]int {
	out := map[string]int{}
	for _, v := range r.Violations {
		out[v.Rule]++
	}
	return out
}

func brokenCircuit(t *testing.T) facts.Tables {
	t.Helper()
	g := circuit.New("broken")
	for _, n := range []circuit.Node{
		{ID: "a", Kind: circuit.PrimaryInput, Label: "a"},
		{ID: "b", Kind: circuit.PrimaryInput, Label: "b"},
		{ID: "g", Kind: circuit.Gate, Gate: circuit.AND, Arity: 2},
		{ID: "y", Kind: circuit.PrimaryOutput, Label: "y"},
		{ID: "z", Kind: circuit.PrimaryOutput, Label: "z"},
		{ID: "u", Kind: circuit.CustomModule, ModuleID: "nope"},
	} {
		if _, err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	g.Edges = append(g.Edges,
		circuit.Edge{ID: "e1", Source: "a", Target: "g", TargetPin: "input-0"},
		circuit.Edge{ID: "e2", Source: "b", Target: "g", TargetPin: "input-0"},
		circuit.Edge{ID: "e3", Source: "b", Target: "g", TargetPin: "input-5"},
		circuit.Edge{ID: "e4", Source: "ghost", Target: "y", TargetPin: "in"},
	)
	return facts.BuildTables([]facts.Circuit{{File: "broken.json", Graph: g}}, nil)
}

func TestCircuitRules(t *testing.T) {
	res, err := newEngine(t).Evaluate(context.Background(), Input{Tables: brokenCircuit(t)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got := rules(res)
	want := map[string]int{
		"dangling_edge":      1, // e4 source
		"missing_module":     1,
		"pin_out_of_range":   1, // input-5 on a 2-input gate
		"multiple_drivers":   1, // a and b both on input-0
		"floating_input":     1, // input-1
		"unconnected_output": 1, // z
	}
	for rule, n := range want {
		if got[rule] != n {
			t.Errorf("%s: got %d violations, want %d (all: %v)", rule, got[rule], n, got)
		}
	}
	if res.Summary.TotalViolations != len(res.Violations) {
		t.Errorf("summary total %d, violations %d", res.Summary.TotalViolations, len(res.Violations))
	}
	if res.Summary.Errors != 3 || res.Summary.Warnings != 2 || res.Summary.Info != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}
	if !res.HasErrors() {
		t.Error("expected HasErrors")
	}
}

func TestCleanCircuit(t *testing.T) {
	g := circuit.New("clean")
	for _, n := range []circuit.Node{
		{ID: "a", Kind: circuit.PrimaryInput},
		{ID: "n", Kind: circuit.Gate, Gate: circuit.NOT, Arity: 1},
		{ID: "y", Kind: circuit.PrimaryOutput},
	} {
		if _, err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	g.Edges = append(g.Edges,
		circuit.Edge{ID: "e1", Source: "a", Target: "n", TargetPin: "input-0"},
		circuit.Edge{ID: "e2", Source: "n", Target: "y"},
	)
	res, err := newEngine(t).Evaluate(context.Background(), Input{
		Tables: facts.BuildTables([]facts.Circuit{{File: "clean.json", Graph: g}}, nil),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %v", res.Violations)
	}
}

func TestSeverityOverrides(t *testing.T) {
	res, err := newEngine(t).Evaluate(context.Background(), Input{
		Tables: brokenCircuit(t),
		Config: Settings{Rules: map[string]string{
			"floating_input":   "error",
			"multiple_drivers": "off",
		}},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got := rules(res)
	if got["multiple_drivers"] != 0 {
		t.Errorf("multiple_drivers should be disabled: %v", res.Violations)
	}
	for _, v := range res.Violations {
		if v.Rule == "floating_input" && v.Severity != "error" {
			t.Errorf("floating_input severity = %s", v.Severity)
		}
	}
	if res.Summary.Warnings != 0 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestHDLRules(t *testing.T) {
	src := `module m(input a, output y, output z);
  wire spare;
  assign y = a & c;
endmodule`
	f, err := extractor.Extract(extractor.Verilog, src)
	if err != nil {
		t.Fatal(err)
	}
	res, err := newEngine(t).Evaluate(context.Background(), Input{
		Tables: facts.BuildTables(nil, []facts.Source{{File: "m.v", Facts: f}}),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	got := rules(res)
	if got["unresolved_reference"] != 1 || got["undriven_port"] != 1 || got["unused_signal"] != 1 {
		t.Fatalf("rules = %v (%v)", got, res.Violations)
	}
	for _, v := range res.Violations {
		if v.Rule == "unresolved_reference" && v.Line != 3 {
			t.Errorf("unresolved_reference line = %d, want 3", v.Line)
		}
	}
}

func TestVHDLNamesCaseInsensitive(t *testing.T) {
	src := `entity inv is
  port (A : in std_logic; Y : out std_logic);
end inv;
architecture rtl of inv is
begin
  y <= not a;
end rtl;`
	f, err := extractor.Extract(extractor.VHDL, src)
	if err != nil {
		t.Fatal(err)
	}
	res, err := newEngine(t).Evaluate(context.Background(), Input{
		Tables: facts.BuildTables(nil, []facts.Source{{File: "inv.vhd", Facts: f}}),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %v", res.Violations)
	}
}

func TestCustomPolicyDir(t *testing.T) {
	dir := t.TempDir()
	custom := `package logicsim.drc

import rego.v1

all_violations := [{"rule": "always", "severity": "info", "file": "x", "line": 1, "message": "hello"}]

summary := {"total_violations": 1, "errors": 0, "warnings": 0, "info": 1}
`
	if err := os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := e.Evaluate(context.Background(), Input{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].String() != "x:1: info [always] hello" {
		t.Fatalf("violations = %v", res.Violations)
	}

	if _, err := New(t.TempDir()); err == nil {
		t.Fatal("expected error for empty policy dir")
	}
}

func TestAmbiguousBus(t *testing.T) {
	g := circuit.New("bus")
	g.AddModule(circuit.ModuleDef{ID: "ha", Name: "Half", Inputs: []string{"A", "B"}, Outputs: []string{"Sum", "Carry"}})
	for _, n := range []circuit.Node{
		{ID: "u", Kind: circuit.CustomModule, ModuleID: "ha"},
		{ID: "y1", Kind: circuit.PrimaryOutput},
		{ID: "y2", Kind: circuit.PrimaryOutput},
		{ID: "y3", Kind: circuit.PrimaryOutput},
	} {
		if _, err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	g.Edges = append(g.Edges,
		circuit.Edge{ID: "e1", Source: "u", Target: "y1"},
		circuit.Edge{ID: "e2", Source: "u", SourcePin: circuit.OutputPin("Sum"), Target: "y2"},
		circuit.Edge{ID: "e3", Source: "u", SourcePin: circuit.OutputPin("Diff"), Target: "y3"},
	)
	res, err := newEngine(t).Evaluate(context.Background(), Input{
		Tables: facts.BuildTables([]facts.Circuit{{File: "bus.json", Graph: g}}, nil),
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := rules(res); got["ambiguous_bus"] != 2 {
		t.Fatalf("rules = %v (%v)", got, res.Violations)
	}
}

func TestDigest(t *testing.T) {
	a, b := newEngine(t), newEngine(t)
	if a.Digest() == "" || a.Digest() != b.Digest() {
		t.Fatalf("digests %q and %q", a.Digest(), b.Digest())
	}
}

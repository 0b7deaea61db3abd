package stepper

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
)

func evaluator() *eval.Evaluator {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return eval.New(eval.WithLogger(l))
}

func threeInputs(t *testing.T) *circuit.Graph {
	t.Helper()
	g := circuit.New("step")
	// inserted out of vertical order on purpose
	for _, n := range []circuit.Node{
		{ID: "c", Kind: circuit.PrimaryInput, Position: circuit.Position{Y: 300}},
		{ID: "a", Kind: circuit.PrimaryInput, Position: circuit.Position{Y: 100}},
		{ID: "b", Kind: circuit.PrimaryInput, Position: circuit.Position{Y: 200}},
		{ID: "or", Kind: circuit.Gate, Gate: circuit.OR, Arity: 3},
		{ID: "y", Kind: circuit.PrimaryOutput},
	} {
		if _, err := g.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	for i, id := range []string{"a", "b", "c"} {
		if err := g.AddEdge(circuit.Edge{ID: id + "-or", Source: id, Target: "or", TargetPin: circuit.InputPin(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddEdge(circuit.Edge{ID: "or-y", Source: "or", Target: "y", TargetPin: "input-0"}); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestStepVisitsEveryVectorOnce(t *testing.T) {
	g := threeInputs(t)
	s := New()
	ev := evaluator()
	seen := make(map[[3]uint32]bool)

	for step := 0; step < 8; step++ {
		vec, rep, err := s.Step(context.Background(), g, ev)
		if err != nil {
			t.Fatal(err)
		}
		if rep == nil || !rep.Quiescent {
			t.Fatalf("step %d: evaluation did not settle", step)
		}
		if vec.Index != uint64(step) {
			t.Fatalf("step %d: index %d", step, vec.Index)
		}
		if vec.Inputs[0] != "a" || vec.Inputs[2] != "c" {
			t.Fatalf("inputs not ordered by position: %v", vec.Inputs)
		}
		want := [3]uint32{uint32(step >> 2 & 1), uint32(step >> 1 & 1), uint32(step & 1)}
		got := [3]uint32{g.Node("a").Value, g.Node("b").Value, g.Node("c").Value}
		if got != want {
			t.Fatalf("step %d: inputs %v, want %v", step, got, want)
		}
		if seen[got] {
			t.Fatalf("vector %v visited twice", got)
		}
		seen[got] = true

		y, _ := g.Node("y").Signal.Scalar()
		wantY := uint32(0)
		if step > 0 {
			wantY = 1
		}
		if y != wantY {
			t.Fatalf("step %d: y = %d, want %d", step, y, wantY)
		}
	}
	if s.Counter() != 0 {
		t.Fatalf("counter should wrap to 0, got %d", s.Counter())
	}
}

func TestResetRewinds(t *testing.T) {
	g := threeInputs(t)
	s := New()
	ev := evaluator()
	for i := 0; i < 3; i++ {
		if _, _, err := s.Step(context.Background(), g, ev); err != nil {
			t.Fatal(err)
		}
	}
	s.Reset()
	vec, _, err := s.Step(context.Background(), g, ev)
	if err != nil {
		t.Fatal(err)
	}
	if vec.Index != 0 {
		t.Fatalf("index after reset = %d", vec.Index)
	}
}

func TestStepWithoutInputsOnlyEvaluates(t *testing.T) {
	g := circuit.New("k")
	if _, err := g.AddNode(circuit.Node{ID: "k", Kind: circuit.ConstantSource, Value: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddNode(circuit.Node{ID: "y", Kind: circuit.PrimaryOutput}); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(circuit.Edge{ID: "e", Source: "k", Target: "y", TargetPin: "input-0"}); err != nil {
		t.Fatal(err)
	}
	s := New()
	vec, _, err := s.Step(context.Background(), g, evaluator())
	if err != nil {
		t.Fatal(err)
	}
	if len(vec.Inputs) != 0 || s.Counter() != 0 {
		t.Fatalf("unexpected vector %+v, counter %d", vec, s.Counter())
	}
	if v, _ := g.Node("y").Signal.Scalar(); v != 1 {
		t.Fatalf("y = %d", v)
	}
}

func TestVectors(t *testing.T) {
	rows, err := Vectors(2)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]uint32{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows", len(rows))
	}
	for i := range want {
		if rows[i][0] != want[i][0] || rows[i][1] != want[i][1] {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
	if rows, _ := Vectors(0); len(rows) != 1 {
		t.Errorf("Vectors(0) = %v, want one empty vector", rows)
	}
	if _, err := Vectors(-1); err == nil {
		t.Error("expected error for negative width")
	}
}

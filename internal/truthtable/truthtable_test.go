package truthtable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
	"github.com/robert-at-pretension-io/logicsim/internal/eval"
	"github.com/robert-at-pretension-io/logicsim/internal/hdl"
)

func quiet() Option {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return WithEvaluator(eval.New(eval.WithLogger(l)))
}

// twoInput builds in0, in1 -> gate -> out.
func twoInput(t *testing.T, k circuit.GateKind) *circuit.Graph {
	t.Helper()
	g := circuit.New(k.String())
	nodes := []circuit.Node{
		{ID: "a", Kind: circuit.PrimaryInput, Label: "a", Position: circuit.Position{Y: 100}},
		{ID: "b", Kind: circuit.PrimaryInput, Label: "b", Position: circuit.Position{Y: 200}},
		{ID: "g", Kind: circuit.Gate, Gate: k, Arity: 2},
		{ID: "y", Kind: circuit.PrimaryOutput, Label: "y"},
	}
	for _, n := range nodes {
		_, err := g.AddNode(n)
		require.NoError(t, err)
	}
	for i, e := range []circuit.Edge{
		{Source: "a", Target: "g", TargetPin: circuit.InputPin(0)},
		{Source: "b", Target: "g", TargetPin: circuit.InputPin(1)},
		{Source: "g", Target: "y", TargetPin: circuit.InputPin(0)},
	} {
		e.ID = fmt.Sprintf("e%d", i)
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

func TestBuild(t *testing.T) {
	g := twoInput(t, circuit.XOR)
	tbl, err := Build(context.Background(), g, quiet(), WithWorkers(3))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, tbl.Inputs)
	assert.Equal(t, []string{"y"}, tbl.Outputs)
	require.Len(t, tbl.Rows, 4)
	for r, want := range []uint32{0, 1, 1, 0} {
		assert.Equal(t, []uint32{want}, tbl.Rows[r].Outputs, "row %d", r)
		assert.True(t, tbl.Rows[r].Settled)
	}
	assert.Equal(t, []uint32{1, 0}, tbl.Rows[2].Inputs)

	// the caller's graph is untouched
	assert.False(t, g.Node("y").Signal.Known())
}

func TestBuildNoInputs(t *testing.T) {
	g := circuit.New("const")
	_, err := g.AddNode(circuit.Node{ID: "k", Kind: circuit.ConstantSource, Value: 3})
	require.NoError(t, err)
	_, err = g.AddNode(circuit.Node{ID: "y", Kind: circuit.PrimaryOutput})
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(circuit.Edge{ID: "e", Source: "k", Target: "y", TargetPin: circuit.InputPin(0)}))

	tbl, err := Build(context.Background(), g, quiet())
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []uint32{3}, tbl.Rows[0].Outputs)
	assert.Equal(t, []string{"y"}, tbl.Outputs, "unlabeled nodes fall back to their id")
}

func TestBuildTooManyInputs(t *testing.T) {
	_, err := Build(context.Background(), twoInput(t, circuit.AND), quiet(), WithMaxInputs(1))
	assert.Equal(t, ErrTooManyInputs, errors.Cause(err))
}

func TestCompare(t *testing.T) {
	ctx := context.Background()

	same, err := Compare(ctx, twoInput(t, circuit.NAND), twoInput(t, circuit.NAND), quiet())
	require.NoError(t, err)
	assert.Empty(t, same)

	diff, err := Compare(ctx, twoInput(t, circuit.AND), twoInput(t, circuit.OR), quiet())
	require.NoError(t, err)
	require.Len(t, diff, 2)
	assert.Equal(t, Mismatch{Row: 1, Inputs: []uint32{0, 1}, Output: "y", Got: 0, Want: 1}, diff[0])
	assert.Equal(t, 2, diff[1].Row)
	assert.Equal(t, "row 1 [0 1]: y = 0, want 1", diff[0].String())
}

func TestCompareShape(t *testing.T) {
	one := circuit.New("one")
	_, err := one.AddNode(circuit.Node{ID: "a", Kind: circuit.PrimaryInput})
	require.NoError(t, err)

	_, err = Compare(context.Background(), one, twoInput(t, circuit.AND), quiet())
	assert.Error(t, err)
}

func TestRoundTripEquivalence(t *testing.T) {
	for _, k := range []circuit.GateKind{circuit.AND, circuit.OR, circuit.XOR, circuit.NAND, circuit.NOR} {
		for _, d := range []hdl.Dialect{hdl.Verilog, hdl.VHDL} {
			g := twoInput(t, k)
			text, err := hdl.Generate(d, g, hdl.Options{})
			require.NoError(t, err)
			back, rep, err := hdl.Parse(d, text)
			require.NoError(t, err, text)
			assert.Empty(t, rep.Warnings)

			diff, err := Compare(context.Background(), back, g, quiet())
			require.NoError(t, err)
			assert.Empty(t, diff, "%s/%s:\n%s", k, d, text)
		}
	}
}

func TestWrite(t *testing.T) {
	tbl := &Table{
		Inputs:  []string{"a", "b"},
		Outputs: []string{"sum"},
		Rows: []Row{
			{Inputs: []uint32{0, 0}, Outputs: []uint32{0}, Settled: true},
			{Inputs: []uint32{0, 1}, Outputs: []uint32{1}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, tbl.Write(&buf))
	assert.Equal(t, "a b | sum\n0 0 | 0\n0 1 | 1*\n", buf.String())
}

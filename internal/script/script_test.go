package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
)

func run(t *testing.T, code string, in map[string]uint32, outs ...string) map[string]uint32 {
	t.Helper()
	p, err := Compile(context.Background(), code)
	require.NoError(t, err)
	res, err := p.Run(context.Background(), in, outs)
	require.NoError(t, err)
	return res
}

func faultOf(t *testing.T, err error) *Fault {
	t.Helper()
	require.Error(t, err)
	f, ok := err.(*Fault)
	require.True(t, ok, "expected *Fault, got %T", err)
	return f
}

func TestAdder(t *testing.T) {
	res := run(t, "outputs.Sum = inputs.A + inputs.B;", map[string]uint32{"A": 3, "B": 5}, "Sum")
	assert.Equal(t, uint32(8), res["Sum"])
}

func TestBareIdentifiers(t *testing.T) {
	res := run(t, "Sum = A + B", map[string]uint32{"A": 3, "B": 5}, "Sum")
	assert.Equal(t, uint32(8), res["Sum"])
}

func TestEditorTemplate(t *testing.T) {
	code := `// template
let a = inputs.A || 0;
let b = inputs.B || 0;

if (inputs.Op === 0) outputs.Res = a + b;
else outputs.Res = a - b;

outputs.Zero = outputs.Res === 0 ? 1 : 0;`

	tests := []struct {
		name      string
		a, b, op  uint32
		res, zero uint32
	}{
		{"add", 2, 5, 0, 7, 0},
		{"sub wraps", 2, 5, 1, 4294967293, 0},
		{"zero", 0, 0, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, code, map[string]uint32{"A": tt.a, "B": tt.b, "Op": tt.op}, "Res", "Zero")
			assert.Equal(t, tt.res, res["Res"])
			assert.Equal(t, tt.zero, res["Zero"])
		})
	}
}

func TestCoercion(t *testing.T) {
	tests := []struct {
		name string
		code string
		want uint32
	}{
		{"missing", "let x = 1;", 0},
		{"nan", "outputs.Y = inputs.A / 0 * 0;", 0},
		{"negative", "outputs.Y = -1;", 4294967295},
		{"not", "outputs.Y = ~inputs.A;", 4294967295},
		{"fraction", "outputs.Y = 7 / 2;", 3},
		{"bool", "outputs.Y = inputs.A === 0;", 1},
		{"numeric string", `outputs.Y = "12";`, 12},
		{"garbage string", `outputs.Y = "abc";`, 0},
		{"undefined", "outputs.Y = undefined;", 0},
		{"unsigned shift", "outputs.Y = -8 >>> 28;", 15},
		{"hex", "outputs.Y = 0xff & 0x0f;", 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.code, map[string]uint32{"A": 0}, "Y")
			assert.Equal(t, tt.want, res["Y"])
		})
	}
}

func TestControlFlow(t *testing.T) {
	popcount := `let c = 0;
for (let i = 0; i < 32; i++) {
  if ((inputs.A >>> i) & 1) c++;
}
outputs.N = c;`
	assert.Equal(t, uint32(3), run(t, popcount, map[string]uint32{"A": 11}, "N")["N"])

	loop := `var i = 0, s = 0;
while (true) {
  i += 1;
  if (i % 2 === 0) continue;
  if (i > 9) break;
  s += i;
}
outputs.S = s;`
	assert.Equal(t, uint32(25), run(t, loop, nil, "S")["S"])

	early := `outputs.Y = 1;
if (inputs.A) { return; }
outputs.Y = 2;`
	assert.Equal(t, uint32(1), run(t, early, map[string]uint32{"A": 1}, "Y")["Y"])
	assert.Equal(t, uint32(2), run(t, early, map[string]uint32{"A": 0}, "Y")["Y"])

	doWhile := `let n = 0; do { n++; } while (n < 0); outputs.N = n;`
	assert.Equal(t, uint32(1), run(t, doWhile, nil, "N")["N"])
}

func TestMath(t *testing.T) {
	res := run(t, `outputs.M = Math.max(inputs.A, inputs.B, 4);
outputs.F = Math.floor(inputs.A / 2);
outputs.P = Math.pow(2, inputs.B);
outputs.K = inputs["A"] * 2;`, map[string]uint32{"A": 7, "B": 3}, "M", "F", "P", "K")
	assert.Equal(t, map[string]uint32{"M": 7, "F": 3, "P": 8, "K": 14}, res)
}

func TestSyntaxFaults(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"parse error", "outputs.Y = ;"},
		{"function", "function f() { return 1; }"},
		{"arbitrary call", `require("fs");`},
		{"global object", "process.exit(1);"},
		{"constructor", "outputs.Y = new Date();"},
		{"math outside whitelist", "outputs.Y = Math.random();"},
		{"assign to host", "inputs = 1;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(context.Background(), tt.code)
			f := faultOf(t, err)
			assert.Equal(t, SyntaxFault, f.Kind)
		})
	}
}

func TestRuntimeFaults(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"undefined name", "outputs.Y = foo;"},
		{"const reassign", "const k = 1; k = 2;"},
		{"host as value", "let x = inputs;"},
		{"redeclare", "let a = 1; let a = 2;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(context.Background(), tt.code)
			require.NoError(t, err)
			_, err = p.Run(context.Background(), nil, []string{"Y"})
			f := faultOf(t, err)
			assert.Equal(t, RuntimeFault, f.Kind)
			assert.Greater(t, f.Line, 0)
		})
	}
}

func TestBudget(t *testing.T) {
	p, err := Compile(context.Background(), "while (true) {}")
	require.NoError(t, err)

	_, err = p.RunSteps(context.Background(), 1000, nil, nil)
	assert.Equal(t, TimeoutFault, faultOf(t, err).Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = p.RunSteps(ctx, 0, nil, nil)
	assert.Equal(t, TimeoutFault, faultOf(t, err).Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunsAreIsolated(t *testing.T) {
	p, err := Compile(context.Background(), "outputs.Y = (outputs.Y || 0) + 1; inputs.A = 99;")
	require.NoError(t, err)
	in := map[string]uint32{"A": 1}
	for i := 0; i < 3; i++ {
		res, err := p.Run(context.Background(), in, []string{"Y"})
		require.NoError(t, err)
		assert.Equal(t, uint32(1), res["Y"])
	}
	assert.Equal(t, uint32(1), in["A"])
}

func TestRuntimeExec(t *testing.T) {
	r := NewRuntime()
	def := &circuit.ModuleDef{ID: "add", Inputs: []string{"A", "B"}, Outputs: []string{"Sum", "Carry"},
		Code: "outputs.Sum = (A + B) & 1; outputs.Carry = (A + B) >> 1;"}

	bus, err := r.Exec(context.Background(), def, []uint32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, circuit.Bus{{Name: "Sum", Value: 0}, {Name: "Carry", Value: 1}}, bus)

	p1, _ := r.Program(context.Background(), def)
	p2, _ := r.Program(context.Background(), def)
	assert.Same(t, p1, p2)

	def.Code = "outputs.Sum = ;"
	bus, err = r.Exec(context.Background(), def, []uint32{1})
	assert.Equal(t, SyntaxFault, faultOf(t, err).Kind)
	assert.Equal(t, circuit.Bus{{Name: "Sum"}, {Name: "Carry"}}, bus)
}

func TestRuntimeTimeout(t *testing.T) {
	r := &Runtime{Timeout: 10 * time.Millisecond}
	def := &circuit.ModuleDef{ID: "spin", Outputs: []string{"Y"}, Code: "for (;;) { outputs.Y = 1; }"}
	bus, err := r.Exec(context.Background(), def, nil)
	assert.Equal(t, TimeoutFault, faultOf(t, err).Kind)
	assert.Equal(t, uint32(0), bus[0].Value)
}

func TestFaultError(t *testing.T) {
	f := &Fault{Kind: RuntimeFault, Line: 2, Column: 5, Msg: "x is not defined"}
	assert.Equal(t, "runtime error at 2:5: x is not defined", f.Error())
	assert.Equal(t, "timeout error: budget", (&Fault{Kind: TimeoutFault, Msg: "budget"}).Error())
}

func TestRuntimeExecReportsRuntimeFault(t *testing.T) {
	r := NewRuntime()
	def := &circuit.ModuleDef{ID: "bad", Inputs: []string{"A"}, Outputs: []string{"Y"}, Code: "outputs.Y = missing + A;"}
	bus, err := r.Exec(context.Background(), def, []uint32{3})
	f := faultOf(t, err)
	assert.Equal(t, RuntimeFault, f.Kind)
	assert.Equal(t, circuit.Bus{{Name: "Y"}}, bus)

	for kind, want := range map[FaultKind]string{
		SyntaxFault:  "syntax",
		RuntimeFault: "runtime",
		TimeoutFault: "timeout",
		FaultKind(9): "fault(9)",
	} {
		assert.Equal(t, want, kind.String())
	}
}

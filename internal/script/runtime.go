package script

import (
	"context"
	"sync"
	"time"

	"github.com/robert-at-pretension-io/logicsim/internal/circuit"
)

// Default budget of one module invocation.
const DefaultTimeout = 50 * time.Millisecond

// Runtime runs module programs under a time and step budget, caching the
// compiled program of each definition until its code changes.
type Runtime struct {
	Timeout  time.Duration
	MaxSteps int

	mu    sync.Mutex
	cache map[string]*compiled
}

type compiled struct {
	code string
	prog *Program
	err  error
}

// NewRuntime returns a runtime with the default budget.
func NewRuntime() *Runtime {
	return &Runtime{Timeout: DefaultTimeout, MaxSteps: DefaultMaxSteps}
}

// Program returns the compiled program of def, compiling it on first use.
// A syntax fault is cached with the code that produced it.
func (r *Runtime) Program(ctx context.Context, def *circuit.ModuleDef) (*Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = make(map[string]*compiled)
	}
	if c, ok := r.cache[def.ID]; ok && c.code == def.Code {
		return c.prog, c.err
	}
	prog, err := Compile(ctx, def.Code)
	r.cache[def.ID] = &compiled{code: def.Code, prog: prog, err: err}
	return prog, err
}

// Forget drops every cached program.
func (r *Runtime) Forget() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}

// Exec runs the program of def with the given input values, positionally
// matched to def.Inputs, and returns the outputs in definition order. On a
// fault every output is 0 and the fault is returned alongside the bus.
func (r *Runtime) Exec(ctx context.Context, def *circuit.ModuleDef, inputs []uint32) (circuit.Bus, error) {
	bus := make(circuit.Bus, len(def.Outputs))
	for i, name := range def.Outputs {
		bus[i].Name = name
	}

	prog, err := r.Program(ctx, def)
	if err != nil {
		return bus, err
	}

	in := make(map[string]uint32, len(def.Inputs))
	for i, name := range def.Inputs {
		if i < len(inputs) {
			in[name] = inputs[i]
		} else {
			in[name] = 0
		}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	out, err := prog.RunSteps(ctx, r.MaxSteps, in, def.Outputs)
	if err != nil {
		return bus, err
	}
	for i := range bus {
		bus[i].Value = out[bus[i].Name]
	}
	return bus, nil
}

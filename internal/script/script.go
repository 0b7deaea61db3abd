// Package script runs the programs of custom logic modules.
//
// A program is a small JavaScript subset: declarations, assignments,
// conditionals, loops, the usual arithmetic, bitwise and logical operators,
// and a handful of Math functions. The only names in scope are the module's
// input pins (inputs.X, or bare X), its output pins (outputs.X, or an
// assignment to a bare undeclared X) and Math. Programs cannot reach the
// graph, the host or any I/O.
//
// Source is parsed with tree-sitter and lowered to a private AST once per
// Compile; a Program is immutable and safe for concurrent Run calls.
package script

import (
	"context"
	"strconv"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// DefaultMaxSteps bounds a single run when no other limit is given.
const DefaultMaxSteps = 100000

// Program is a compiled module program.
type Program struct {
	body []stmt
}

// Parse returns the raw tree-sitter tree of code. The caller must Close it.
func Parse(ctx context.Context, code string) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return nil, &Fault{Kind: SyntaxFault, Msg: err.Error()}
	}
	return tree, nil
}

// Compile parses code and checks that it stays within the supported subset.
// Errors are *Fault values of kind Syntax.
func Compile(ctx context.Context, code string) (*Program, error) {
	src := []byte(code)
	tree, err := Parse(ctx, code)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		bad := firstError(root)
		if bad == nil {
			bad = root
		}
		msg := "unexpected input"
		if bad.IsMissing() {
			msg = "missing " + bad.Type()
		} else if t := bad.Content(src); t != "" {
			if len(t) > 24 {
				t = t[:24] + "..."
			}
			msg = "unexpected " + strconv.Quote(t)
		}
		return nil, syntaxErr(posOf(bad), "%s", msg)
	}

	b := &builder{src: src}
	body, err := b.program(root)
	if err != nil {
		return nil, err
	}
	return &Program{body: body}, nil
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			if e := firstError(c); e != nil {
				return e
			}
		}
	}
	return nil
}

// Run executes p with DefaultMaxSteps and the deadline of ctx.
func (p *Program) Run(ctx context.Context, inputs map[string]uint32, outputs []string) (map[string]uint32, error) {
	return p.RunSteps(ctx, DefaultMaxSteps, inputs, outputs)
}

// RunSteps executes p with fresh, isolated input and output maps and returns
// one coerced value per requested output name. maxSteps <= 0 removes the
// step limit; the deadline of ctx still applies.
func (p *Program) RunSteps(ctx context.Context, maxSteps int, inputs map[string]uint32, outputs []string) (map[string]uint32, error) {
	m := &machine{
		ctx:      ctx,
		maxSteps: maxSteps,
		inputs:   make(map[string]value, len(inputs)),
		outputs:  make(map[string]value, len(outputs)),
		global:   &scope{vars: map[string]*binding{}},
	}
	if d, ok := ctx.Deadline(); ok {
		m.deadline = d
	}
	if err := ctx.Err(); err != nil {
		return nil, &Fault{Kind: TimeoutFault, Msg: err.Error()}
	}
	for k, v := range inputs {
		m.inputs[k] = number(float64(v))
	}
	if _, err := m.block(p.body, m.global); err != nil {
		return nil, err
	}
	res := make(map[string]uint32, len(outputs))
	for _, name := range outputs {
		res[name] = coerce(m.outputs[name])
	}
	return res, nil
}

// Eval compiles and runs code once with the given time budget.
func Eval(ctx context.Context, code string, timeout time.Duration, inputs map[string]uint32, outputs []string) (map[string]uint32, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	p, err := Compile(ctx, code)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, inputs, outputs)
}

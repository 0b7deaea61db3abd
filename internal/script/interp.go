package script

import (
	"context"
	"math"
	"time"
)

type control uint8

const (
	ctlNone control = iota
	ctlBreak
	ctlContinue
	ctlReturn
)

// checkEvery is how many steps run between context and deadline checks.
const checkEvery = 1024

type binding struct {
	v       value
	isConst bool
}

type scope struct {
	vars   map[string]*binding
	parent *scope
}

func (s *scope) lookup(name string) *binding {
	for ; s != nil; s = s.parent {
		if b, ok := s.vars[name]; ok {
			return b
		}
	}
	return nil
}

type machine struct {
	ctx      context.Context
	deadline time.Time
	steps    int
	maxSteps int

	inputs  map[string]value
	outputs map[string]value
	global  *scope
}

func (m *machine) tick(p pos) error {
	m.steps++
	if m.maxSteps > 0 && m.steps > m.maxSteps {
		return &Fault{Kind: TimeoutFault, Line: p.line, Column: p.col, Msg: "step budget exhausted"}
	}
	if m.steps%checkEvery == 0 {
		if err := m.ctx.Err(); err != nil {
			return &Fault{Kind: TimeoutFault, Line: p.line, Column: p.col, Msg: err.Error()}
		}
		if !m.deadline.IsZero() && time.Now().After(m.deadline) {
			return &Fault{Kind: TimeoutFault, Line: p.line, Column: p.col, Msg: "time budget exhausted"}
		}
	}
	return nil
}

func (m *machine) block(body []stmt, sc *scope) (control, error) {
	for _, s := range body {
		ctl, err := m.exec(s, sc)
		if err != nil || ctl != ctlNone {
			return ctl, err
		}
	}
	return ctlNone, nil
}

func (m *machine) exec(s stmt, sc *scope) (control, error) {
	if s == nil {
		return ctlNone, nil
	}
	if err := m.tick(s.position()); err != nil {
		return ctlNone, err
	}
	switch s := s.(type) {
	case *exprStmt:
		_, err := m.eval(s.x, sc)
		return ctlNone, err
	case *declStmt:
		target := sc
		if s.kind == "var" {
			target = m.global
		}
		for i, name := range s.names {
			if b, ok := target.vars[name]; ok && (s.kind != "var" || b.isConst) {
				return ctlNone, runtimeErr(s.pos, "identifier %s has already been declared", name)
			}
			v := undefined
			if s.inits[i] != nil {
				var err error
				if v, err = m.eval(s.inits[i], sc); err != nil {
					return ctlNone, err
				}
			}
			target.vars[name] = &binding{v: v, isConst: s.kind == "const"}
		}
		return ctlNone, nil
	case *blockStmt:
		return m.block(s.body, &scope{vars: map[string]*binding{}, parent: sc})
	case *ifStmt:
		c, err := m.eval(s.cond, sc)
		if err != nil {
			return ctlNone, err
		}
		if c.truthy() {
			return m.exec(s.then, sc)
		}
		return m.exec(s.alt, sc)
	case *whileStmt:
		for first := true; ; first = false {
			if !(s.doWhile && first) {
				c, err := m.eval(s.cond, sc)
				if err != nil {
					return ctlNone, err
				}
				if !c.truthy() {
					return ctlNone, nil
				}
			}
			ctl, err := m.exec(s.body, sc)
			if err != nil {
				return ctlNone, err
			}
			switch ctl {
			case ctlBreak:
				return ctlNone, nil
			case ctlReturn:
				return ctl, nil
			}
			if err := m.tick(s.pos); err != nil {
				return ctlNone, err
			}
		}
	case *forStmt:
		loop := &scope{vars: map[string]*binding{}, parent: sc}
		if _, err := m.exec(s.init, loop); err != nil {
			return ctlNone, err
		}
		for {
			if s.cond != nil {
				c, err := m.eval(s.cond, loop)
				if err != nil {
					return ctlNone, err
				}
				if !c.truthy() {
					return ctlNone, nil
				}
			}
			ctl, err := m.exec(s.body, loop)
			if err != nil {
				return ctlNone, err
			}
			switch ctl {
			case ctlBreak:
				return ctlNone, nil
			case ctlReturn:
				return ctl, nil
			}
			if s.post != nil {
				if _, err := m.eval(s.post, loop); err != nil {
					return ctlNone, err
				}
			}
			if err := m.tick(s.pos); err != nil {
				return ctlNone, err
			}
		}
	case *branchStmt:
		if s.tok == "break" {
			return ctlBreak, nil
		}
		return ctlContinue, nil
	case *returnStmt:
		if s.x != nil {
			if _, err := m.eval(s.x, sc); err != nil {
				return ctlNone, err
			}
		}
		return ctlReturn, nil
	}
	return ctlNone, runtimeErr(s.position(), "unsupported statement")
}

func (m *machine) eval(e expr, sc *scope) (value, error) {
	if err := m.tick(e.position()); err != nil {
		return undefined, err
	}
	switch e := e.(type) {
	case *literal:
		return e.v, nil
	case *ident:
		return m.load(e, sc)
	case *member:
		return m.loadMember(e, sc)
	case *unaryExpr:
		x, err := m.eval(e.x, sc)
		if err != nil {
			return undefined, err
		}
		switch e.op {
		case "!":
			return boolean(!x.truthy()), nil
		case "-":
			return number(-x.toNumber()), nil
		case "+":
			return number(x.toNumber()), nil
		case "~":
			return number(float64(^toInt32(x.toNumber()))), nil
		default:
			return undefined, nil
		}
	case *binaryExpr:
		l, err := m.eval(e.l, sc)
		if err != nil {
			return undefined, err
		}
		r, err := m.eval(e.r, sc)
		if err != nil {
			return undefined, err
		}
		v, _ := binary(e.op, l, r)
		return v, nil
	case *logicalExpr:
		l, err := m.eval(e.l, sc)
		if err != nil {
			return undefined, err
		}
		if shortCircuit(e.op, l) {
			return l, nil
		}
		return m.eval(e.r, sc)
	case *condExpr:
		c, err := m.eval(e.cond, sc)
		if err != nil {
			return undefined, err
		}
		if c.truthy() {
			return m.eval(e.a, sc)
		}
		return m.eval(e.b, sc)
	case *assignExpr:
		return m.assign(e, sc)
	case *updateExpr:
		old, err := m.eval(e.target, sc)
		if err != nil {
			return undefined, err
		}
		n := old.toNumber()
		next := n + 1
		if e.op == "--" {
			next = n - 1
		}
		if err := m.store(e.target, number(next), sc); err != nil {
			return undefined, err
		}
		if e.prefix {
			return number(next), nil
		}
		return number(n), nil
	case *callExpr:
		args := make([]float64, len(e.args))
		for i, a := range e.args {
			v, err := m.eval(a, sc)
			if err != nil {
				return undefined, err
			}
			args[i] = v.toNumber()
		}
		return number(mathFuncs[e.fn](args)), nil
	}
	return undefined, runtimeErr(e.position(), "unsupported expression")
}

func shortCircuit(op string, l value) bool {
	switch op {
	case "&&":
		return !l.truthy()
	case "||":
		return l.truthy()
	default: // ??
		return l.kind != undefinedVal && l.kind != nullVal
	}
}

func (m *machine) assign(e *assignExpr, sc *scope) (value, error) {
	if e.op == "=" {
		v, err := m.eval(e.x, sc)
		if err != nil {
			return undefined, err
		}
		return v, m.store(e.target, v, sc)
	}
	old, err := m.eval(e.target, sc)
	if err != nil {
		return undefined, err
	}
	var v value
	switch e.op {
	case "&&", "||", "??":
		if shortCircuit(e.op, old) {
			return old, nil
		}
		if v, err = m.eval(e.x, sc); err != nil {
			return undefined, err
		}
	default:
		r, err := m.eval(e.x, sc)
		if err != nil {
			return undefined, err
		}
		v, _ = binary(e.op, old, r)
	}
	return v, m.store(e.target, v, sc)
}

// load resolves a bare identifier: a declared variable, then an input pin,
// then an output written earlier in the run.
func (m *machine) load(id *ident, sc *scope) (value, error) {
	if b := sc.lookup(id.name); b != nil {
		return b.v, nil
	}
	if v, ok := m.inputs[id.name]; ok {
		return v, nil
	}
	if v, ok := m.outputs[id.name]; ok {
		return v, nil
	}
	switch id.name {
	case "undefined":
		return undefined, nil
	case "NaN":
		return number(math.NaN()), nil
	case "Infinity":
		return number(math.Inf(1)), nil
	case "inputs", "outputs", "Math":
		return undefined, runtimeErr(id.pos, "%s cannot be used as a value", id.name)
	}
	return undefined, runtimeErr(id.pos, "%s is not defined", id.name)
}

func (m *machine) key(e *member, sc *scope) (string, error) {
	if e.key == nil {
		return e.prop, nil
	}
	k, err := m.eval(e.key, sc)
	if err != nil {
		return "", err
	}
	return k.toString(), nil
}

func (m *machine) loadMember(e *member, sc *scope) (value, error) {
	k, err := m.key(e, sc)
	if err != nil {
		return undefined, err
	}
	switch e.obj {
	case "inputs":
		return m.inputs[k], nil
	case "outputs":
		return m.outputs[k], nil
	}
	if _, ok := mathFuncs[k]; ok {
		return undefined, runtimeErr(e.pos, "Math.%s can only be called", k)
	}
	return undefined, runtimeErr(e.pos, "Math.%s is not available", k)
}

func (m *machine) store(target expr, v value, sc *scope) error {
	switch t := target.(type) {
	case *ident:
		if b := sc.lookup(t.name); b != nil {
			if b.isConst {
				return runtimeErr(t.pos, "assignment to constant variable %s", t.name)
			}
			b.v = v
			return nil
		}
		m.outputs[t.name] = v
		return nil
	case *member:
		k, err := m.key(t, sc)
		if err != nil {
			return err
		}
		if t.obj == "inputs" {
			m.inputs[k] = v
		} else {
			m.outputs[k] = v
		}
		return nil
	}
	return runtimeErr(target.position(), "invalid assignment target")
}

package script

import (
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

type pos struct{ line, col int }

func posOf(n *sitter.Node) pos {
	p := n.StartPoint()
	return pos{line: int(p.Row) + 1, col: int(p.Column) + 1}
}

// Statements.
type (
	stmt interface{ position() pos }

	exprStmt struct {
		pos
		x expr
	}
	declStmt struct {
		pos
		kind  string // let, const, var
		names []string
		inits []expr // nil entries for declarations without initializer
	}
	blockStmt struct {
		pos
		body []stmt
	}
	ifStmt struct {
		pos
		cond      expr
		then, alt stmt
	}
	whileStmt struct {
		pos
		cond    expr
		body    stmt
		doWhile bool
	}
	forStmt struct {
		pos
		init stmt
		cond expr
		post expr
		body stmt
	}
	branchStmt struct {
		pos
		tok string // break, continue
	}
	returnStmt struct {
		pos
		x expr
	}
)

// Expressions.
type (
	expr interface{ position() pos }

	literal struct {
		pos
		v value
	}
	ident struct {
		pos
		name string
	}
	// member is obj.prop or obj[key]; obj is always one of the
	// host objects (inputs, outputs, Math).
	member struct {
		pos
		obj  string
		prop string
		key  expr
	}
	unaryExpr struct {
		pos
		op string
		x  expr
	}
	binaryExpr struct {
		pos
		op   string
		l, r expr
	}
	logicalExpr struct {
		pos
		op   string
		l, r expr
	}
	condExpr struct {
		pos
		cond, a, b expr
	}
	assignExpr struct {
		pos
		op     string // "=" or compound operator without the trailing "="
		target expr
		x      expr
	}
	updateExpr struct {
		pos
		op     string
		prefix bool
		target expr
	}
	callExpr struct {
		pos
		fn   string
		args []expr
	}
)

func (p pos) position() pos { return p }

var hostObjects = map[string]bool{"inputs": true, "outputs": true, "Math": true}

type builder struct {
	src []byte
}

func (b *builder) text(n *sitter.Node) string { return n.Content(b.src) }

// namedChildren returns the named children of n, comments excluded.
func namedChildren(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (b *builder) program(root *sitter.Node) ([]stmt, error) {
	var body []stmt
	for _, c := range namedChildren(root) {
		s, err := b.stmt(c)
		if err != nil {
			return nil, err
		}
		if s != nil {
			body = append(body, s)
		}
	}
	return body, nil
}

func (b *builder) stmt(n *sitter.Node) (stmt, error) {
	if n == nil {
		return nil, &Fault{Kind: SyntaxFault, Msg: "missing statement"}
	}
	p := posOf(n)
	switch n.Type() {
	case "empty_statement", "comment":
		return nil, nil
	case "expression_statement":
		kids := namedChildren(n)
		if len(kids) == 0 {
			return nil, nil
		}
		x, err := b.expr(kids[0])
		if err != nil {
			return nil, err
		}
		return &exprStmt{pos: p, x: x}, nil
	case "lexical_declaration", "variable_declaration":
		d := &declStmt{pos: p, kind: "var"}
		if n.ChildCount() > 0 {
			d.kind = n.Child(0).Type()
		}
		for _, c := range namedChildren(n) {
			if c.Type() != "variable_declarator" {
				continue
			}
			name := c.ChildByFieldName("name")
			if name == nil || name.Type() != "identifier" {
				return nil, syntaxErr(posOf(c), "destructuring is not supported")
			}
			id := b.text(name)
			if hostObjects[id] {
				return nil, syntaxErr(posOf(name), "cannot redeclare %s", id)
			}
			var init expr
			if v := c.ChildByFieldName("value"); v != nil {
				var err error
				if init, err = b.expr(v); err != nil {
					return nil, err
				}
			} else if d.kind == "const" {
				return nil, syntaxErr(posOf(c), "missing initializer in const declaration")
			}
			d.names = append(d.names, id)
			d.inits = append(d.inits, init)
		}
		return d, nil
	case "statement_block":
		blk := &blockStmt{pos: p}
		for _, c := range namedChildren(n) {
			s, err := b.stmt(c)
			if err != nil {
				return nil, err
			}
			if s != nil {
				blk.body = append(blk.body, s)
			}
		}
		return blk, nil
	case "if_statement":
		s := &ifStmt{pos: p}
		var err error
		if s.cond, err = b.expr(n.ChildByFieldName("condition")); err != nil {
			return nil, err
		}
		if s.then, err = b.stmt(n.ChildByFieldName("consequence")); err != nil {
			return nil, err
		}
		if alt := n.ChildByFieldName("alternative"); alt != nil {
			if alt.Type() == "else_clause" {
				kids := namedChildren(alt)
				if len(kids) == 0 {
					return s, nil
				}
				alt = kids[len(kids)-1]
			}
			if s.alt, err = b.stmt(alt); err != nil {
				return nil, err
			}
		}
		return s, nil
	case "while_statement", "do_statement":
		s := &whileStmt{pos: p, doWhile: n.Type() == "do_statement"}
		var err error
		if s.cond, err = b.expr(n.ChildByFieldName("condition")); err != nil {
			return nil, err
		}
		if s.body, err = b.stmt(n.ChildByFieldName("body")); err != nil {
			return nil, err
		}
		return s, nil
	case "for_statement":
		s := &forStmt{pos: p}
		var err error
		if init := n.ChildByFieldName("initializer"); init != nil {
			if init.Type() == "lexical_declaration" || init.Type() == "variable_declaration" ||
				init.Type() == "expression_statement" || init.Type() == "empty_statement" {
				s.init, err = b.stmt(init)
			} else {
				var x expr
				if x, err = b.expr(init); err == nil {
					s.init = &exprStmt{pos: posOf(init), x: x}
				}
			}
			if err != nil {
				return nil, err
			}
		}
		if cond := n.ChildByFieldName("condition"); cond != nil {
			switch cond.Type() {
			case "empty_statement", ";":
			case "expression_statement":
				if kids := namedChildren(cond); len(kids) > 0 {
					if s.cond, err = b.expr(kids[0]); err != nil {
						return nil, err
					}
				}
			default:
				if s.cond, err = b.expr(cond); err != nil {
					return nil, err
				}
			}
		}
		if post := n.ChildByFieldName("increment"); post != nil {
			if s.post, err = b.expr(post); err != nil {
				return nil, err
			}
		}
		if s.body, err = b.stmt(n.ChildByFieldName("body")); err != nil {
			return nil, err
		}
		return s, nil
	case "break_statement", "continue_statement":
		if len(namedChildren(n)) > 0 {
			return nil, syntaxErr(p, "labels are not supported")
		}
		return &branchStmt{pos: p, tok: strings.TrimSuffix(n.Type(), "_statement")}, nil
	case "return_statement":
		s := &returnStmt{pos: p}
		if kids := namedChildren(n); len(kids) > 0 {
			var err error
			if s.x, err = b.expr(kids[0]); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
	return nil, syntaxErr(p, "unsupported statement %s", n.Type())
}

func (b *builder) expr(n *sitter.Node) (expr, error) {
	if n == nil {
		return nil, &Fault{Kind: SyntaxFault, Msg: "missing expression"}
	}
	p := posOf(n)
	switch n.Type() {
	case "parenthesized_expression":
		kids := namedChildren(n)
		if len(kids) != 1 {
			return nil, syntaxErr(p, "unsupported parenthesized expression")
		}
		return b.expr(kids[0])
	case "number":
		f, ok := parseNumber(b.text(n))
		if !ok {
			return nil, syntaxErr(p, "invalid number %q", b.text(n))
		}
		return &literal{pos: p, v: number(f)}, nil
	case "string":
		return &literal{pos: p, v: str(unquote(b.text(n)))}, nil
	case "true":
		return &literal{pos: p, v: boolean(true)}, nil
	case "false":
		return &literal{pos: p, v: boolean(false)}, nil
	case "null":
		return &literal{pos: p, v: null}, nil
	case "undefined":
		return &literal{pos: p, v: undefined}, nil
	case "identifier":
		return &ident{pos: p, name: b.text(n)}, nil
	case "member_expression":
		obj := n.ChildByFieldName("object")
		prop := n.ChildByFieldName("property")
		if obj == nil || prop == nil {
			return nil, syntaxErr(p, "malformed member expression")
		}
		name, err := b.hostObject(obj)
		if err != nil {
			return nil, err
		}
		return &member{pos: p, obj: name, prop: b.text(prop)}, nil
	case "subscript_expression":
		obj := n.ChildByFieldName("object")
		idx := n.ChildByFieldName("index")
		if obj == nil || idx == nil {
			return nil, syntaxErr(p, "malformed subscript expression")
		}
		name, err := b.hostObject(obj)
		if err != nil {
			return nil, err
		}
		key, err := b.expr(idx)
		if err != nil {
			return nil, err
		}
		return &member{pos: p, obj: name, key: key}, nil
	case "unary_expression":
		op := n.ChildByFieldName("operator")
		if op == nil {
			return nil, syntaxErr(p, "malformed unary expression")
		}
		switch op.Type() {
		case "!", "-", "+", "~", "void":
		default:
			return nil, syntaxErr(p, "unsupported operator %s", op.Type())
		}
		x, err := b.expr(n.ChildByFieldName("argument"))
		if err != nil {
			return nil, err
		}
		return &unaryExpr{pos: p, op: op.Type(), x: x}, nil
	case "binary_expression":
		op := n.ChildByFieldName("operator")
		if op == nil {
			return nil, syntaxErr(p, "malformed binary expression")
		}
		l, err := b.expr(n.ChildByFieldName("left"))
		if err != nil {
			return nil, err
		}
		r, err := b.expr(n.ChildByFieldName("right"))
		if err != nil {
			return nil, err
		}
		switch op.Type() {
		case "&&", "||", "??":
			return &logicalExpr{pos: p, op: op.Type(), l: l, r: r}, nil
		}
		if _, ok := binary(op.Type(), undefined, undefined); !ok {
			return nil, syntaxErr(p, "unsupported operator %s", op.Type())
		}
		return &binaryExpr{pos: p, op: op.Type(), l: l, r: r}, nil
	case "ternary_expression":
		c, err := b.expr(n.ChildByFieldName("condition"))
		if err != nil {
			return nil, err
		}
		x, err := b.expr(n.ChildByFieldName("consequence"))
		if err != nil {
			return nil, err
		}
		y, err := b.expr(n.ChildByFieldName("alternative"))
		if err != nil {
			return nil, err
		}
		return &condExpr{pos: p, cond: c, a: x, b: y}, nil
	case "assignment_expression", "augmented_assignment_expression":
		target, err := b.target(n.ChildByFieldName("left"))
		if err != nil {
			return nil, err
		}
		x, err := b.expr(n.ChildByFieldName("right"))
		if err != nil {
			return nil, err
		}
		op := "="
		if n.Type() == "augmented_assignment_expression" {
			o := n.ChildByFieldName("operator")
			if o == nil {
				return nil, syntaxErr(p, "malformed assignment")
			}
			op = strings.TrimSuffix(o.Type(), "=")
			switch op {
			case "&&", "||", "??":
			default:
				if _, ok := binary(op, undefined, undefined); !ok {
					return nil, syntaxErr(p, "unsupported operator %s", o.Type())
				}
			}
		}
		return &assignExpr{pos: p, op: op, target: target, x: x}, nil
	case "update_expression":
		arg := n.ChildByFieldName("argument")
		op := n.ChildByFieldName("operator")
		if arg == nil || op == nil {
			return nil, syntaxErr(p, "malformed update expression")
		}
		target, err := b.target(arg)
		if err != nil {
			return nil, err
		}
		return &updateExpr{pos: p, op: op.Type(), prefix: op.StartByte() < arg.StartByte(), target: target}, nil
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != "member_expression" {
			return nil, syntaxErr(p, "only Math functions can be called")
		}
		obj, prop := fn.ChildByFieldName("object"), fn.ChildByFieldName("property")
		if obj == nil || prop == nil || b.text(obj) != "Math" {
			return nil, syntaxErr(p, "only Math functions can be called")
		}
		name := b.text(prop)
		if _, ok := mathFuncs[name]; !ok {
			return nil, syntaxErr(p, "Math.%s is not available", name)
		}
		call := &callExpr{pos: p, fn: name}
		if args := n.ChildByFieldName("arguments"); args != nil {
			for _, a := range namedChildren(args) {
				x, err := b.expr(a)
				if err != nil {
					return nil, err
				}
				call.args = append(call.args, x)
			}
		}
		return call, nil
	}
	return nil, syntaxErr(p, "unsupported expression %s", n.Type())
}

func (b *builder) hostObject(obj *sitter.Node) (string, error) {
	name := b.text(obj)
	if obj.Type() != "identifier" || !hostObjects[name] {
		return "", syntaxErr(posOf(obj), "property access is only allowed on inputs, outputs and Math")
	}
	return name, nil
}

func (b *builder) target(n *sitter.Node) (expr, error) {
	if n == nil {
		return nil, &Fault{Kind: SyntaxFault, Msg: "missing assignment target"}
	}
	x, err := b.expr(n)
	if err != nil {
		return nil, err
	}
	switch t := x.(type) {
	case *ident:
		if hostObjects[t.name] {
			return nil, syntaxErr(t.pos, "cannot assign to %s", t.name)
		}
		return t, nil
	case *member:
		if t.obj == "Math" {
			return nil, syntaxErr(t.pos, "cannot assign to Math")
		}
		return t, nil
	}
	return nil, syntaxErr(posOf(n), "invalid assignment target")
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	inner := s[1 : len(s)-1]
	if s[0] == '\'' {
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
	}
	if u, err := strconv.Unquote(`"` + inner + `"`); err == nil {
		return u
	}
	return inner
}
